package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"captionforge/internal/models"
)

var ErrNotFound = errors.New("not found")

// Repository persists videos and their processing jobs. Each video has at
// most one job.
type Repository interface {
	SaveVideo(ctx context.Context, v *models.Video) error
	GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error)
	UpdateVideo(ctx context.Context, v *models.Video) error
	DeleteVideo(ctx context.Context, id uuid.UUID) error

	SaveJob(ctx context.Context, j *models.ProcessingJob) error
	UpdateJob(ctx context.Context, j *models.ProcessingJob) error
	GetJobByVideo(ctx context.Context, videoID uuid.UUID) (*models.ProcessingJob, error)

	Ping(ctx context.Context) error
	Close()
}
