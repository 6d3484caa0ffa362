package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"captionforge/internal/models"
)

var _ Repository = (*MemoryStorage)(nil)

// MemoryStorage is a Repository kept in process memory. Records are deep
// copied in and out so callers never share state with the store.
type MemoryStorage struct {
	mu     sync.RWMutex
	videos map[uuid.UUID]*models.Video
	jobs   map[uuid.UUID]*models.ProcessingJob // keyed by video id
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		videos: make(map[uuid.UUID]*models.Video),
		jobs:   make(map[uuid.UUID]*models.ProcessingJob),
	}
}

func clone[T any](v *T) (*T, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MemoryStorage) SaveVideo(_ context.Context, v *models.Video) error {
	const op = "storage.MemoryStorage.SaveVideo"

	c, err := clone(v)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[v.ID]; ok {
		return fmt.Errorf("%s: video %s already exists", op, v.ID)
	}
	m.videos[v.ID] = c
	return nil
}

func (m *MemoryStorage) GetVideo(_ context.Context, id uuid.UUID) (*models.Video, error) {
	const op = "storage.MemoryStorage.GetVideo"

	m.mu.RLock()
	v, ok := m.videos[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return clone(v)
}

func (m *MemoryStorage) UpdateVideo(_ context.Context, v *models.Video) error {
	const op = "storage.MemoryStorage.UpdateVideo"

	c, err := clone(v)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[v.ID]; !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	m.videos[v.ID] = c
	return nil
}

func (m *MemoryStorage) DeleteVideo(_ context.Context, id uuid.UUID) error {
	const op = "storage.MemoryStorage.DeleteVideo"

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[id]; !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	delete(m.videos, id)
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStorage) SaveJob(_ context.Context, j *models.ProcessingJob) error {
	const op = "storage.MemoryStorage.SaveJob"

	c, err := clone(j)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[j.VideoID]; !ok {
		return fmt.Errorf("%s: video %s: %w", op, j.VideoID, ErrNotFound)
	}
	if _, ok := m.jobs[j.VideoID]; ok {
		return fmt.Errorf("%s: video %s already has a job", op, j.VideoID)
	}
	m.jobs[j.VideoID] = c
	return nil
}

func (m *MemoryStorage) UpdateJob(_ context.Context, j *models.ProcessingJob) error {
	const op = "storage.MemoryStorage.UpdateJob"

	c, err := clone(j)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.jobs[j.VideoID]
	if !ok || existing.ID != j.ID {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	m.jobs[j.VideoID] = c
	return nil
}

func (m *MemoryStorage) GetJobByVideo(_ context.Context, videoID uuid.UUID) (*models.ProcessingJob, error) {
	const op = "storage.MemoryStorage.GetJobByVideo"

	m.mu.RLock()
	j, ok := m.jobs[videoID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return clone(j)
}

func (m *MemoryStorage) Ping(context.Context) error { return nil }

func (m *MemoryStorage) Close() {}
