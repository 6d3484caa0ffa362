package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"captionforge/internal/blob"
	"captionforge/internal/ffmpeg"
	"captionforge/internal/models"
	"captionforge/internal/thumbnail"
)

func SubtitleKey(v *models.Video) string  { return "subtitles/" + v.ID.String() + ".ass" }
func ThumbnailKey(v *models.Video) string { return "thumbnails/" + v.ID.String() + ".png" }
func ProcessedKey(v *models.Video) string { return "processed/" + v.ID.String() + ".mp4" }

// ObjectPrefixes lists the key prefixes holding a video's objects.
func ObjectPrefixes(v *models.Video) []string {
	id := v.ID.String()
	return []string{"original/" + id, "subtitles/" + id, "thumbnails/" + id, "processed/" + id}
}

type stageState struct {
	video *models.Video
	job   *models.ProcessingJob
}

func (p *Processor) load(ctx context.Context, qj *models.QueueJob) (*stageState, error) {
	v, err := p.repo.GetVideo(ctx, qj.VideoID)
	if err != nil {
		return nil, err
	}
	job, err := p.repo.GetJobByVideo(ctx, qj.VideoID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("%w: job %s is already %s", errPermanent, job.ID, job.Status)
	}
	if job.Status == models.JobPending {
		if err := job.Transition(models.JobRunning, p.now()); err != nil {
			return nil, err
		}
	}
	return &stageState{video: v, job: job}, nil
}

// step records progress. Progress never moves backwards, so a retried
// stage keeps the furthest value reached.
func (p *Processor) step(ctx context.Context, s *stageState, progress int, label string) error {
	s.job.Progress = max(s.job.Progress, progress)
	s.job.CurrentStep = label
	s.job.UpdatedAt = p.now()
	if err := p.repo.UpdateJob(ctx, s.job); err != nil {
		return err
	}
	slog.Debug("Progress", "video_id", s.video.ID, "progress", s.job.Progress, "step", label)
	return nil
}

func (p *Processor) saveVideo(ctx context.Context, s *stageState) error {
	s.video.UpdatedAt = p.now()
	return p.repo.UpdateVideo(ctx, s.video)
}

func (p *Processor) advance(ctx context.Context, qj *models.QueueJob, lane models.Lane, jobType string) error {
	next := models.NewQueueJob(lane, jobType, qj.VideoID, qj.Priority)
	return p.queue.Enqueue(ctx, next)
}

func (p *Processor) ingest(ctx context.Context, qj *models.QueueJob) error {
	const op = "processor.ingest"

	s, err := p.load(ctx, qj)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.step(ctx, s, 5, "Validating upload"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rc, err := p.blobs.Open(ctx, s.video.ObjectKey())
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return fmt.Errorf("%s: original missing: %w", op, errPermanent)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	_ = rc.Close()

	s.video.Status = models.VideoProcessing
	if err := p.saveVideo(ctx, s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.step(ctx, s, 10, "Queued for analysis"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return p.advance(ctx, qj, models.LaneProcess, JobAnalyze)
}

func (p *Processor) analyze(ctx context.Context, qj *models.QueueJob) error {
	const op = "processor.analyze"

	s, err := p.load(ctx, qj)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := p.step(ctx, s, 20, "Transcribing audio"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rc, err := p.blobs.Open(ctx, s.video.ObjectKey())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	transcript, err := p.analyzer.Transcribe(ctx, path.Base(s.video.ObjectKey()), rc)
	_ = rc.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := p.step(ctx, s, 45, "Analyzing virality"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	res, err := p.analyzer.Build(ctx, transcript, s.video.Style)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.metrics.ViralityScores.Observe(res.Analysis.ViralityScore)

	if err := p.step(ctx, s, 60, "Generating captions"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.video.Analysis = res.Analysis
	s.video.Captions = res.Captions
	s.video.Duration = res.Duration

	doc := ffmpeg.ASSDocument(res.Captions, p.assOptions(s.video))
	if err := p.blobs.Put(ctx, SubtitleKey(s.video), strings.NewReader(doc), "text/x-ssa"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.saveVideo(ctx, s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return p.advance(ctx, qj, models.LaneRender, JobRender)
}

func (p *Processor) render(ctx context.Context, qj *models.QueueJob) error {
	const op = "processor.render"

	s, err := p.load(ctx, qj)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.video.Analysis == nil {
		return fmt.Errorf("%s: video has no analysis: %w", op, errPermanent)
	}

	if err := p.step(ctx, s, 70, "Building render commands"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	plan, err := BuildPlan(p.commands, s.video, p.opts.WorkDir)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, errPermanent, err)
	}
	// The subtitles written during analysis use source timings.
	if len(plan.Cuts) > 0 {
		doc := ffmpeg.ASSDocument(plan.Captions, p.assOptions(s.video))
		if err := p.blobs.Put(ctx, SubtitleKey(s.video), strings.NewReader(doc), "text/x-ssa"); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	cmds := make([]string, len(plan.Commands))
	for i, c := range plan.Commands {
		cmds[i] = c.String()
	}
	if s.job.Metadata == nil {
		s.job.Metadata = map[string]any{}
	}
	s.job.Metadata["commands"] = cmds
	s.job.Metadata["inputs"] = plan.Inputs
	s.job.Metadata["subtitles"] = SubtitleKey(s.video)
	s.job.Metadata["output"] = plan.Output

	if err := p.step(ctx, s, 85, "Rendering thumbnail"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var buf bytes.Buffer
	err = p.thumbs.RenderPNG(&buf, thumbnail.Options{
		Title: s.video.Analysis.SuggestedTitle,
		Style: s.video.Style,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.blobs.Put(ctx, ThumbnailKey(s.video), &buf, "image/png"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	now := p.now()
	s.video.ThumbnailURL = p.blobs.URL(ThumbnailKey(s.video))
	s.video.ProcessedURL = p.blobs.URL(ProcessedKey(s.video))
	s.video.Status = models.VideoCompleted
	if err := p.saveVideo(ctx, s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.job.CurrentStep = "Completed"
	if err := s.job.Transition(models.JobCompleted, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.repo.UpdateJob(ctx, s.job); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	slog.Info("Video completed", "video_id", s.video.ID, "commands", len(cmds), "virality", s.video.Analysis.ViralityScore)

	if err := p.advance(ctx, qj, models.LaneCompleted, "completed"); err != nil {
		slog.Warn("Failed to record job in completed lane", "video_id", s.video.ID, "error", err)
	}
	return nil
}

func (p *Processor) assOptions(v *models.Video) ffmpeg.ASSOptions {
	w, h, err := ffmpeg.AspectSize(v.AspectRatio)
	if err != nil {
		w, h = 1080, 1920
	}
	return ffmpeg.ASSOptions{
		FontName: p.opts.FontName,
		FontSize: p.commands.FontSize,
		Width:    w,
		Height:   h,
		Style:    v.Style,
	}
}

