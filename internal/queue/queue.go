package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"captionforge/internal/models"
)

var (
	ErrUnknownLane = errors.New("unknown lane")
	ErrLaneFull    = errors.New("lane is full")
	ErrClosed      = errors.New("queue closed")
)

// Queue moves QueueJobs between lanes. Dequeue returns nil, nil when the
// lane has nothing ready.
type Queue interface {
	Enqueue(ctx context.Context, job models.QueueJob) error
	Dequeue(ctx context.Context, lane models.Lane) (*models.QueueJob, error)
	Close() error
}

// StatsReporter is implemented by queues that can report lane depths.
type StatsReporter interface {
	Stats() map[models.Lane]int
}

func checkLane(lane models.Lane) error {
	if !lane.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownLane, lane)
	}
	return nil
}

func encode(job models.QueueJob) ([]byte, error) {
	return json.Marshal(job)
}

func decode(b []byte) (*models.QueueJob, error) {
	var job models.QueueJob
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// New builds the queue backend named in cfg.
func New(cfg models.QueueConfig) (Queue, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryQueue(cfg.Capacity), nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("queue.New: kafka backend needs at least one broker")
		}
		return NewKafkaQueue(cfg.KafkaBrokers, cfg.TopicPrefix, cfg.KafkaGroupID), nil
	case "amqp":
		return NewAMQPQueue(cfg.AMQPURL, cfg.TopicPrefix)
	default:
		return nil, fmt.Errorf("queue.New: unknown backend %q", cfg.Backend)
	}
}
