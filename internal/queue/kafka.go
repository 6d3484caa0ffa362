package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"captionforge/internal/models"
)

const kafkaReadTimeout = 500 * time.Millisecond

// KafkaQueue maps each lane to its own topic. Kafka has no per-message
// priority, so lanes are FIFO per partition.
type KafkaQueue struct {
	brokers []string
	prefix  string
	groupID string
	writer  *kafka.Writer

	mu      sync.Mutex
	readers map[models.Lane]*kafka.Reader
}

func NewKafkaQueue(brokers []string, prefix, groupID string) *KafkaQueue {
	return &KafkaQueue{
		brokers: brokers,
		prefix:  prefix,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		readers: make(map[models.Lane]*kafka.Reader),
	}
}

func (q *KafkaQueue) Topic(lane models.Lane) string {
	return q.prefix + "." + string(lane)
}

func (q *KafkaQueue) Enqueue(ctx context.Context, job models.QueueJob) error {
	const op = "queue.KafkaQueue.Enqueue"

	if err := checkLane(job.Lane); err != nil {
		return err
	}
	value, err := encode(job)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err = q.writer.WriteMessages(ctx, kafka.Message{
		Topic: q.Topic(job.Lane),
		Key:   []byte(job.VideoID.String()),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (q *KafkaQueue) reader(lane models.Lane) *kafka.Reader {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.readers[lane]
	if !ok {
		r = kafka.NewReader(kafka.ReaderConfig{
			Brokers: q.brokers,
			Topic:   q.Topic(lane),
			GroupID: q.groupID,
		})
		q.readers[lane] = r
	}
	return r
}

func (q *KafkaQueue) Dequeue(ctx context.Context, lane models.Lane) (*models.QueueJob, error) {
	const op = "queue.KafkaQueue.Dequeue"

	if err := checkLane(lane); err != nil {
		return nil, err
	}

	readCtx, cancel := context.WithTimeout(ctx, kafkaReadTimeout)
	defer cancel()

	msg, err := q.reader(lane).ReadMessage(readCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	job, err := decode(msg.Value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	errs := []error{q.writer.Close()}
	for _, r := range q.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
