package queue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"captionforge/internal/models"
)

func job(typ string, priority int) models.QueueJob {
	return models.NewQueueJob(models.LaneProcess, typ, uuid.New(), priority)
}

func drain(t *testing.T, q *MemoryQueue, lane models.Lane) []string {
	t.Helper()
	var out []string
	for {
		j, err := q.Dequeue(context.Background(), lane)
		if err != nil {
			t.Fatal(err)
		}
		if j == nil {
			return out
		}
		out = append(out, j.Type)
	}
}

func TestMemoryQueuePriority(t *testing.T) {
	tests := []struct {
		name string
		jobs []models.QueueJob
		want []string
	}{
		{
			name: "fifoForEqualPriority",
			jobs: []models.QueueJob{job("a", 0), job("b", 0), job("c", 0)},
			want: []string{"a", "b", "c"},
		},
		{
			name: "higherJumpsAhead",
			jobs: []models.QueueJob{job("low", 1), job("high", 5)},
			want: []string{"high", "low"},
		},
		{
			name: "insertBeforeFirstStrictlyLower",
			jobs: []models.QueueJob{job("p5a", 5), job("p3", 3), job("p5b", 5), job("p1", 1), job("p3b", 3)},
			want: []string{"p5a", "p5b", "p3", "p3b", "p1"},
		},
		{
			name: "lowestGoesLast",
			jobs: []models.QueueJob{job("x", 2), job("y", 2), job("z", -1)},
			want: []string{"x", "y", "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewMemoryQueue(0)
			for _, j := range tt.jobs {
				if err := q.Enqueue(context.Background(), j); err != nil {
					t.Fatal(err)
				}
			}
			got := drain(t, q, models.LaneProcess)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestMemoryQueueLanes(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()

	if j, err := q.Dequeue(ctx, models.LaneUpload); j != nil || err != nil {
		t.Fatalf("empty Dequeue() = %v, %v", j, err)
	}

	up := models.NewQueueJob(models.LaneUpload, "ingest", uuid.New(), 0)
	if err := q.Enqueue(ctx, up); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, job("a", 0)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, job("b", 0)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, job("c", 0)); !errors.Is(err, ErrLaneFull) {
		t.Errorf("Enqueue() over capacity error = %v, want ErrLaneFull", err)
	}

	if p := q.Peek(models.LaneUpload); p == nil || p.ID != up.ID {
		t.Errorf("Peek() = %v", p)
	}
	if q.Len(models.LaneUpload) != 1 {
		t.Errorf("Peek() must not remove the job")
	}

	stats := q.Stats()
	if stats[models.LaneUpload] != 1 || stats[models.LaneProcess] != 2 || stats[models.LaneFailed] != 0 {
		t.Errorf("Stats() = %v", stats)
	}
	if len(stats) != len(models.Lanes) {
		t.Errorf("Stats() lanes = %d, want %d", len(stats), len(models.Lanes))
	}

	bad := models.NewQueueJob("archive", "x", uuid.New(), 0)
	if err := q.Enqueue(ctx, bad); !errors.Is(err, ErrUnknownLane) {
		t.Errorf("Enqueue() unknown lane error = %v", err)
	}
	if _, err := q.Dequeue(ctx, "archive"); !errors.Is(err, ErrUnknownLane) {
		t.Errorf("Dequeue() unknown lane error = %v", err)
	}

	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, up); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue() after Close error = %v", err)
	}
}

func TestMemoryQueueConcurrent(t *testing.T) {
	q := NewMemoryQueue(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			_ = q.Enqueue(ctx, job("j", p%5))
		}(i)
	}
	wg.Wait()

	prev := 1 << 30
	count := 0
	for {
		j, _ := q.Dequeue(ctx, models.LaneProcess)
		if j == nil {
			break
		}
		if j.Priority > prev {
			t.Fatalf("priority %d dequeued after %d", j.Priority, prev)
		}
		prev = j.Priority
		count++
	}
	if count != 50 {
		t.Errorf("dequeued %d jobs, want 50", count)
	}
}

func TestBrokerNaming(t *testing.T) {
	k := NewKafkaQueue([]string{"localhost:9092"}, "captionforge", "group")
	defer k.Close()
	if got := k.Topic(models.LaneRender); got != "captionforge.render" {
		t.Errorf("Topic() = %q", got)
	}

	a := &AMQPQueue{prefix: "cf"}
	if got := a.Name(models.LaneFailed); got != "cf.failed" {
		t.Errorf("Name() = %q", got)
	}

	for in, want := range map[int]uint8{-3: 0, 0: 0, 4: 4, 9: 9, 50: 9} {
		if got := amqpPriority(in); got != want {
			t.Errorf("amqpPriority(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestNewBackend(t *testing.T) {
	q, err := New(models.QueueConfig{Backend: "memory", Capacity: 3})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := q.(StatsReporter); !ok {
		t.Errorf("memory backend should report stats")
	}
	if _, err := New(models.QueueConfig{Backend: "kafka"}); err == nil {
		t.Errorf("kafka without brokers should fail")
	}
	if _, err := New(models.QueueConfig{Backend: "sqs"}); err == nil {
		t.Errorf("unknown backend should fail")
	}
}
