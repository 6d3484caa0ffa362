package queue

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"captionforge/internal/models"
)

const maxPriority = 9

// AMQPQueue keeps one durable priority queue per lane.
type AMQPQueue struct {
	conn   *amqp.Connection
	prefix string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewAMQPQueue(url, prefix string) (*AMQPQueue, error) {
	const op = "queue.NewAMQPQueue"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q := &AMQPQueue{conn: conn, ch: ch, prefix: prefix}
	for _, lane := range models.Lanes {
		_, err := ch.QueueDeclare(
			q.Name(lane),
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			amqp.Table{"x-max-priority": int32(maxPriority)},
		)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: declare %s: %w", op, lane, err)
		}
	}
	return q, nil
}

func (q *AMQPQueue) Name(lane models.Lane) string {
	return q.prefix + "." + string(lane)
}

func amqpPriority(p int) uint8 {
	return uint8(max(0, min(maxPriority, p)))
}

func (q *AMQPQueue) Enqueue(ctx context.Context, job models.QueueJob) error {
	const op = "queue.AMQPQueue.Enqueue"

	if err := checkLane(job.Lane); err != nil {
		return err
	}
	body, err := encode(job)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	err = q.ch.PublishWithContext(ctx, "", q.Name(job.Lane), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     amqpPriority(job.Priority),
		MessageId:    job.ID.String(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (q *AMQPQueue) Dequeue(_ context.Context, lane models.Lane) (*models.QueueJob, error) {
	const op = "queue.AMQPQueue.Dequeue"

	if err := checkLane(lane); err != nil {
		return nil, err
	}

	q.mu.Lock()
	msg, ok, err := q.ch.Get(q.Name(lane), true)
	q.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, nil
	}

	job, err := decode(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return job, nil
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
