package analyzer

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"captionforge/internal/models"
)

var ErrNoSpeech = errors.New("no speech detected")

type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (*Transcript, error)
}

type ViralityAnalyzer interface {
	AnalyzeVirality(ctx context.Context, transcript string, style models.StyleConfig) (*Virality, error)
}

type Options struct {
	ChunkSize  int
	SilenceGap float64
	SceneGap   float64
}

type Analyzer struct {
	transcriber Transcriber
	virality    ViralityAnalyzer
	opts        Options
}

func New(t Transcriber, v ViralityAnalyzer, opts Options) *Analyzer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 5
	}
	if opts.SilenceGap <= 0 {
		opts.SilenceGap = 1.0
	}
	if opts.SceneGap <= 0 {
		opts.SceneGap = 2.0
	}
	return &Analyzer{transcriber: t, virality: v, opts: opts}
}

type Result struct {
	Analysis *models.AIAnalysis
	Captions []models.Caption
	Duration float64
}

func (a *Analyzer) Transcribe(ctx context.Context, filename string, audio io.Reader) (*Transcript, error) {
	t, err := a.transcriber.Transcribe(ctx, filename, audio)
	if err != nil {
		return nil, err
	}
	if len(t.Words) == 0 {
		return nil, ErrNoSpeech
	}
	return t, nil
}

// Build turns a transcript into the full analysis: a virality call plus
// the local caption, silence, scene and volume heuristics.
func (a *Analyzer) Build(ctx context.Context, t *Transcript, style models.StyleConfig) (*Result, error) {
	text := transcriptText(t)
	v, err := a.virality.AnalyzeVirality(ctx, text, style)
	if err != nil {
		return nil, err
	}

	captions := GroupCaptions(t.Words, a.opts.ChunkSize)
	MarkHighlights(captions, v.Keywords, style.Style)

	duration := t.Duration
	if duration == 0 && len(t.Words) > 0 {
		duration = t.Words[len(t.Words)-1].End
	}

	analysis := &models.AIAnalysis{
		ViralityScore:        v.ViralityScore,
		EmotionPeaks:         v.EmotionPeaks,
		Keywords:             v.Keywords,
		Topics:               v.Topics,
		SuggestedTitle:       v.SuggestedTitle,
		SuggestedDescription: v.SuggestedDescription,
		Hashtags:             v.Hashtags,
		CallsToAction:        v.CallsToAction,
		SceneChanges:         DetectSceneChanges(t.Words, a.opts.SceneGap),
		SilencePeriods:       DetectSilences(t.Words, a.opts.SilenceGap),
		VolumePeaks:          DetectVolumePeaks(t.Words, a.opts.SilenceGap),
		Transcript:           text,
		Language:             t.Language,
	}

	slog.Debug("Analysis built",
		"words", len(t.Words),
		"captions", len(captions),
		"virality", analysis.ViralityScore,
		"silences", len(analysis.SilencePeriods),
	)

	return &Result{Analysis: analysis, Captions: captions, Duration: duration}, nil
}

func (a *Analyzer) Analyze(ctx context.Context, filename string, audio io.Reader, style models.StyleConfig) (*Result, error) {
	t, err := a.Transcribe(ctx, filename, audio)
	if err != nil {
		return nil, err
	}
	return a.Build(ctx, t, style)
}
