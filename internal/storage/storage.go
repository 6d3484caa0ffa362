// internal/storage/storage.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"captionforge/internal/models"
)

var _ Repository = (*Storage)(nil)

type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := connect(ctx, dsn, 10, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := RunMigrations(db); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

const videoColumns = `id, user_id, original_name, original_url, processed_url, thumbnail_url, status,
	style, analysis, captions, duration, format, aspect_ratio, size_bytes, created_at, updated_at`

type videoJSON struct {
	style, analysis, captions []byte
}

func marshalVideo(v *models.Video) (videoJSON, error) {
	var out videoJSON
	var err error
	if out.style, err = json.Marshal(v.Style); err != nil {
		return out, err
	}
	if v.Analysis != nil {
		if out.analysis, err = json.Marshal(v.Analysis); err != nil {
			return out, err
		}
	}
	captions := v.Captions
	if captions == nil {
		captions = []models.Caption{}
	}
	out.captions, err = json.Marshal(captions)
	return out, err
}

func (s *Storage) SaveVideo(ctx context.Context, v *models.Video) error {
	const op = "storage.SaveVideo"

	j, err := marshalVideo(v)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO videos (`+videoColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		v.ID, v.UserID, v.OriginalName, v.OriginalURL, v.ProcessedURL, v.ThumbnailURL, string(v.Status),
		j.style, j.analysis, j.captions, v.Duration, v.Format, v.AspectRatio, v.SizeBytes, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	const op = "storage.GetVideo"

	var (
		v                         models.Video
		status                    string
		style, analysis, captions []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id).Scan(
		&v.ID, &v.UserID, &v.OriginalName, &v.OriginalURL, &v.ProcessedURL, &v.ThumbnailURL, &status,
		&style, &analysis, &captions, &v.Duration, &v.Format, &v.AspectRatio, &v.SizeBytes, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	v.Status = models.VideoStatus(status)

	if err := json.Unmarshal(style, &v.Style); err != nil {
		return nil, fmt.Errorf("%s: style: %w", op, err)
	}
	if len(analysis) > 0 {
		v.Analysis = &models.AIAnalysis{}
		if err := json.Unmarshal(analysis, v.Analysis); err != nil {
			return nil, fmt.Errorf("%s: analysis: %w", op, err)
		}
	}
	if err := json.Unmarshal(captions, &v.Captions); err != nil {
		return nil, fmt.Errorf("%s: captions: %w", op, err)
	}
	return &v, nil
}

func (s *Storage) UpdateVideo(ctx context.Context, v *models.Video) error {
	const op = "storage.UpdateVideo"

	j, err := marshalVideo(v)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE videos SET processed_url = $2, thumbnail_url = $3, status = $4, style = $5, analysis = $6,
		 captions = $7, duration = $8, aspect_ratio = $9, updated_at = $10 WHERE id = $1`,
		v.ID, v.ProcessedURL, v.ThumbnailURL, string(v.Status), j.style, j.analysis,
		j.captions, v.Duration, v.AspectRatio, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *Storage) DeleteVideo(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteVideo"

	tag, err := s.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

const jobColumns = `id, video_id, status, progress, current_step, retry_count, metadata, error,
	started_at, completed_at, created_at, updated_at`

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func (s *Storage) SaveJob(ctx context.Context, j *models.ProcessingJob) error {
	const op = "storage.SaveJob"

	meta, err := marshalMetadata(j.Metadata)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO processing_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		j.ID, j.VideoID, string(j.Status), j.Progress, j.CurrentStep, j.RetryCount, meta, j.Error,
		j.StartedAt, j.CompletedAt, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) UpdateJob(ctx context.Context, j *models.ProcessingJob) error {
	const op = "storage.UpdateJob"

	meta, err := marshalMetadata(j.Metadata)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs SET status = $2, progress = $3, current_step = $4, retry_count = $5,
		 metadata = $6, error = $7, started_at = $8, completed_at = $9, updated_at = $10 WHERE id = $1`,
		j.ID, string(j.Status), j.Progress, j.CurrentStep, j.RetryCount, meta, j.Error,
		j.StartedAt, j.CompletedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *Storage) GetJobByVideo(ctx context.Context, videoID uuid.UUID) (*models.ProcessingJob, error) {
	const op = "storage.GetJobByVideo"

	var (
		j      models.ProcessingJob
		status string
		meta   []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE video_id = $1`, videoID).Scan(
		&j.ID, &j.VideoID, &status, &j.Progress, &j.CurrentStep, &j.RetryCount, &meta, &j.Error,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	j.Status = models.JobStatus(status)
	if err := json.Unmarshal(meta, &j.Metadata); err != nil {
		return nil, fmt.Errorf("%s: metadata: %w", op, err)
	}
	return &j, nil
}
