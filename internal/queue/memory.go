package queue

import (
	"context"
	"sync"

	"captionforge/internal/models"
)

// MemoryQueue keeps lanes in process memory ordered by priority.
type MemoryQueue struct {
	mu       sync.Mutex
	lanes    map[models.Lane][]models.QueueJob
	capacity int
	closed   bool
}

// NewMemoryQueue returns a queue whose lanes hold at most capacity jobs
// each. Zero means unbounded.
func NewMemoryQueue(capacity int) *MemoryQueue {
	lanes := make(map[models.Lane][]models.QueueJob, len(models.Lanes))
	for _, l := range models.Lanes {
		lanes[l] = nil
	}
	return &MemoryQueue{lanes: lanes, capacity: capacity}
}

// Enqueue inserts job immediately before the first queued job with a
// strictly lower priority, so equal priorities stay in arrival order.
func (q *MemoryQueue) Enqueue(_ context.Context, job models.QueueJob) error {
	if err := checkLane(job.Lane); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	jobs := q.lanes[job.Lane]
	if q.capacity > 0 && len(jobs) >= q.capacity {
		return ErrLaneFull
	}

	idx := len(jobs)
	for i, queued := range jobs {
		if queued.Priority < job.Priority {
			idx = i
			break
		}
	}
	jobs = append(jobs, models.QueueJob{})
	copy(jobs[idx+1:], jobs[idx:])
	jobs[idx] = job
	q.lanes[job.Lane] = jobs
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, lane models.Lane) (*models.QueueJob, error) {
	if err := checkLane(lane); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	jobs := q.lanes[lane]
	if len(jobs) == 0 {
		return nil, nil
	}
	job := jobs[0]
	jobs[0] = models.QueueJob{}
	q.lanes[lane] = jobs[1:]
	return &job, nil
}

func (q *MemoryQueue) Peek(lane models.Lane) *models.QueueJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := q.lanes[lane]
	if len(jobs) == 0 {
		return nil
	}
	job := jobs[0]
	return &job
}

func (q *MemoryQueue) Len(lane models.Lane) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes[lane])
}

func (q *MemoryQueue) Stats() map[models.Lane]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(map[models.Lane]int, len(q.lanes))
	for lane, jobs := range q.lanes {
		stats[lane] = len(jobs)
	}
	return stats
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
