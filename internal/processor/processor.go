package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"captionforge/internal/analyzer"
	"captionforge/internal/blob"
	"captionforge/internal/ffmpeg"
	"captionforge/internal/metrics"
	"captionforge/internal/models"
	"captionforge/internal/queue"
	"captionforge/internal/storage"
	"captionforge/internal/thumbnail"
)

const (
	JobIngest  = "ingest"
	JobAnalyze = "analyze"
	JobRender  = "render"
)

// workLanes are polled in this order so work already in flight finishes
// before new uploads are started.
var workLanes = []models.Lane{models.LaneRender, models.LaneProcess, models.LaneUpload}

type Analyzer interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (*analyzer.Transcript, error)
	Build(ctx context.Context, t *analyzer.Transcript, style models.StyleConfig) (*analyzer.Result, error)
}

type Options struct {
	Workers      int
	PollInterval time.Duration
	MaxRetries   int
	Backoff      time.Duration
	MaxBackoff   time.Duration
	WorkDir      string
	FontName     string
}

type Processor struct {
	repo     storage.Repository
	queue    queue.Queue
	blobs    blob.Store
	analyzer Analyzer
	commands *ffmpeg.Builder
	thumbs   *thumbnail.Renderer
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

func New(
	repo storage.Repository,
	q queue.Queue,
	blobs blob.Store,
	a Analyzer,
	commands *ffmpeg.Builder,
	thumbs *thumbnail.Renderer,
	m *metrics.Metrics,
	opts Options,
) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = time.Minute
	}
	if opts.WorkDir == "" {
		opts.WorkDir = "/tmp/captionforge"
	}
	if m == nil {
		m = metrics.New()
	}
	return &Processor{
		repo:     repo,
		queue:    q,
		blobs:    blobs,
		analyzer: a,
		commands: commands,
		thumbs:   thumbs,
		metrics:  m,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit creates the processing job for a stored video and queues it for
// ingest.
func (p *Processor) Submit(ctx context.Context, v *models.Video, priority int) (*models.ProcessingJob, error) {
	const op = "processor.Submit"

	now := p.now()
	job := &models.ProcessingJob{
		ID:          uuid.New(),
		VideoID:     v.ID,
		Status:      models.JobPending,
		CurrentStep: "Queued",
		Metadata:    map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.repo.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	qj := models.NewQueueJob(models.LaneUpload, JobIngest, v.ID, priority)
	if err := p.queue.Enqueue(ctx, qj); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	slog.Info("Video queued", "video_id", v.ID, "job_id", job.ID, "priority", priority)
	return job, nil
}

// Run starts the workers and blocks until ctx is cancelled or a worker
// returns an error.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("Processor started", "workers", p.opts.Workers, "poll", p.opts.PollInterval)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		id := i
		g.Go(func() error { return p.worker(ctx, id) })
	}
	if sr, ok := p.queue.(queue.StatsReporter); ok {
		g.Go(func() error { return p.reportDepth(ctx, sr) })
	}

	err := g.Wait()
	slog.Info("Processor stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Processor) worker(ctx context.Context, id int) error {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		for {
			worked, err := p.ProcessNextAny(ctx)
			if err != nil {
				slog.Error("Dequeue failed", "worker", id, "error", err)
				break
			}
			if !worked || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Processor) reportDepth(ctx context.Context, sr queue.StatsReporter) error {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		for lane, n := range sr.Stats() {
			p.metrics.QueueDepth.WithLabelValues(string(lane)).Set(float64(n))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessNextAny handles one job from the first non-empty work lane.
func (p *Processor) ProcessNextAny(ctx context.Context) (bool, error) {
	for _, lane := range workLanes {
		worked, err := p.ProcessNext(ctx, lane)
		if err != nil || worked {
			return worked, err
		}
	}
	return false, nil
}

// ProcessNext dequeues one job from lane and runs its stage. It reports
// whether a job was found; stage failures are handled internally.
func (p *Processor) ProcessNext(ctx context.Context, lane models.Lane) (bool, error) {
	qj, err := p.queue.Dequeue(ctx, lane)
	if err != nil {
		return false, err
	}
	if qj == nil {
		return false, nil
	}

	log := slog.With("video_id", qj.VideoID, "lane", lane, "attempt", qj.Attempts)
	log.Debug("Job dequeued", "type", qj.Type)

	start := time.Now()
	err = p.handle(ctx, qj)
	p.metrics.ObserveStage(string(lane), start, err)
	if err != nil {
		log.Warn("Stage failed", "error", err)
		p.fail(ctx, qj, err)
	}
	return true, nil
}

// Drain processes work lanes until all of them are empty.
func (p *Processor) Drain(ctx context.Context) error {
	for {
		worked, err := p.ProcessNextAny(ctx)
		if err != nil {
			return err
		}
		if !worked {
			return nil
		}
	}
}

func (p *Processor) handle(ctx context.Context, qj *models.QueueJob) error {
	switch qj.Lane {
	case models.LaneUpload:
		return p.ingest(ctx, qj)
	case models.LaneProcess:
		return p.analyze(ctx, qj)
	case models.LaneRender:
		return p.render(ctx, qj)
	default:
		return fmt.Errorf("processor.handle: lane %q has no stage", qj.Lane)
	}
}

var errPermanent = errors.New("permanent failure")

func isPermanent(err error) bool {
	return errors.Is(err, errPermanent) || errors.Is(err, storage.ErrNotFound) || errors.Is(err, analyzer.ErrNoSpeech) ||
		errors.Is(err, analyzer.ErrAudioTooLarge)
}

// fail either schedules a retry with exponential backoff or moves the job
// to the failed lane and marks the video as errored.
func (p *Processor) fail(ctx context.Context, qj *models.QueueJob, cause error) {
	log := slog.With("video_id", qj.VideoID, "lane", qj.Lane)

	if errors.Is(cause, storage.ErrNotFound) {
		log.Info("Dropping job for missing video", "error", cause)
		return
	}

	job, err := p.repo.GetJobByVideo(ctx, qj.VideoID)
	if err != nil {
		log.Error("Failed to load job after stage failure", "error", err)
		return
	}

	if !isPermanent(cause) && qj.Attempts < p.opts.MaxRetries {
		qj.Attempts++
		job.RetryCount++
		job.Error = cause.Error()
		if job.Status == models.JobRunning {
			_ = job.Transition(models.JobPending, p.now())
		}
		job.CurrentStep = fmt.Sprintf("Retrying (%d/%d)", qj.Attempts, p.opts.MaxRetries)
		if err := p.repo.UpdateJob(ctx, job); err != nil {
			log.Error("Failed to record retry", "error", err)
		}

		delay := p.backoff(qj.Attempts)
		log.Info("Retrying job", "attempt", qj.Attempts, "delay", delay)
		p.metrics.JobRetries.WithLabelValues(string(qj.Lane)).Inc()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := p.queue.Enqueue(ctx, *qj); err != nil {
			log.Error("Failed to re-enqueue job", "error", err)
		}
		return
	}

	now := p.now()
	job.Error = cause.Error()
	if err := job.Transition(models.JobFailed, now); err != nil {
		log.Warn("Job already terminal", "status", job.Status, "error", err)
	} else if err := p.repo.UpdateJob(ctx, job); err != nil {
		log.Error("Failed to mark job failed", "error", err)
	}

	if v, err := p.repo.GetVideo(ctx, qj.VideoID); err == nil {
		v.Status = models.VideoError
		v.UpdatedAt = now
		if err := p.repo.UpdateVideo(ctx, v); err != nil {
			log.Error("Failed to mark video errored", "error", err)
		}
	}

	failed := *qj
	failed.Lane = models.LaneFailed
	failed.Data = map[string]any{"error": cause.Error(), "from": string(qj.Lane)}
	if err := p.queue.Enqueue(ctx, failed); err != nil {
		log.Warn("Failed to record job in failed lane", "error", err)
	}
	log.Error("Job failed", "attempts", qj.Attempts, "error", cause)
}

// backoff returns the delay before the given retry attempt (1-based).
func (p *Processor) backoff(attempt int) time.Duration {
	b := retry.WithCappedDuration(p.opts.MaxBackoff, retry.NewExponential(p.opts.Backoff))
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d, _ = b.Next()
	}
	return d
}
