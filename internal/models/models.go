// internal/models/models.go
package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type VideoStatus string

const (
	VideoUploading  VideoStatus = "uploading"
	VideoQueued     VideoStatus = "queued"
	VideoProcessing VideoStatus = "processing"
	VideoCompleted  VideoStatus = "completed"
	VideoError      VideoStatus = "error"
)

type Style string

const (
	StyleViral   Style = "viral"
	StyleMinimal Style = "minimal"
	StyleBold    Style = "bold"
	StyleElegant Style = "elegant"
)

type Pace string

const (
	PaceSlow   Pace = "slow"
	PaceMedium Pace = "medium"
	PaceFast   Pace = "fast"
)

var (
	ErrInvalidStyle = errors.New("invalid style")
	ErrInvalidPace  = errors.New("invalid pace")
	ErrInvalidColor = errors.New("invalid color palette")
)

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// StyleConfig is a presentation preference attached to a Video.
// Colors holds primary, secondary and accent, in that order.
type StyleConfig struct {
	Style  Style     `json:"style"`
	Pace   Pace      `json:"pace"`
	Colors [3]string `json:"colors"`
}

func DefaultStyle() StyleConfig {
	return StyleConfig{
		Style:  StyleViral,
		Pace:   PaceMedium,
		Colors: [3]string{"#FFFFFF", "#FFD700", "#FF3B30"},
	}
}

func (s StyleConfig) Primary() string   { return s.Colors[0] }
func (s StyleConfig) Secondary() string { return s.Colors[1] }
func (s StyleConfig) Accent() string    { return s.Colors[2] }

func (s StyleConfig) Validate() error {
	switch s.Style {
	case StyleViral, StyleMinimal, StyleBold, StyleElegant:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStyle, s.Style)
	}
	switch s.Pace {
	case PaceSlow, PaceMedium, PaceFast:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPace, s.Pace)
	}
	for _, c := range s.Colors {
		if !hexColor.MatchString(c) {
			return fmt.Errorf("%w: %q", ErrInvalidColor, c)
		}
	}
	return nil
}

// ParseColors accepts "#aaaaaa,#bbbbbb,#cccccc".
func ParseColors(list string) ([3]string, error) {
	var out [3]string
	parts := strings.Split(list, ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("%w: want 3 colors, got %d", ErrInvalidColor, len(parts))
	}
	for i, p := range parts {
		out[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	return out, nil
}

type Video struct {
	ID           uuid.UUID   `json:"id"`
	UserID       string      `json:"userId"`
	OriginalName string      `json:"originalName"`
	OriginalURL  string      `json:"originalUrl"`
	ProcessedURL string      `json:"processedUrl,omitempty"`
	ThumbnailURL string      `json:"thumbnailUrl,omitempty"`
	Status       VideoStatus `json:"status"`
	Style        StyleConfig `json:"style"`
	Analysis     *AIAnalysis `json:"analysis,omitempty"`
	Captions     []Caption   `json:"captions,omitempty"`
	Duration     float64     `json:"duration"`
	Format       string      `json:"format"`
	AspectRatio  string      `json:"aspectRatio"`
	SizeBytes    int64       `json:"sizeBytes"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// ObjectKey is where the uploaded original lives in the object store.
func (v *Video) ObjectKey() string {
	return "original/" + v.ID.String() + formatExt(v.Format)
}

func formatExt(format string) string {
	switch format {
	case "video/quicktime":
		return ".mov"
	case "video/avi", "video/x-msvideo":
		return ".avi"
	default:
		return ".mp4"
	}
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

var ErrInvalidTransition = errors.New("invalid job status transition")

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending: {JobRunning, JobFailed},
	JobRunning: {JobRunning, JobPending, JobCompleted, JobFailed},
}

func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, next := range jobTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type ProcessingJob struct {
	ID          uuid.UUID      `json:"id"`
	VideoID     uuid.UUID      `json:"videoId"`
	Status      JobStatus      `json:"status"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"currentStep"`
	RetryCount  int            `json:"retryCount"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Transition moves the job to a new status, stamping start and completion times.
func (j *ProcessingJob) Transition(to JobStatus, now time.Time) error {
	if !j.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now
	switch to {
	case JobRunning:
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	case JobCompleted:
		j.Progress = 100
		j.CompletedAt = &now
	case JobFailed:
		j.CompletedAt = &now
	}
	return nil
}

// TimeRemaining extrapolates from elapsed time and progress. It returns
// nil until the job has started and made some progress.
func (j *ProcessingJob) TimeRemaining(now time.Time) *float64 {
	if j.StartedAt == nil || j.Progress <= 0 || j.Progress >= 100 {
		return nil
	}
	elapsed := now.Sub(*j.StartedAt).Seconds()
	remaining := elapsed * float64(100-j.Progress) / float64(j.Progress)
	return &remaining
}

type Caption struct {
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Highlight bool    `json:"highlight"`
	Style     Style   `json:"style"`
}

type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type EmotionPeak struct {
	Time      float64 `json:"time"`
	Emotion   string  `json:"emotion"`
	Intensity float64 `json:"intensity"`
}

type Period struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type VolumePeak struct {
	Time      float64 `json:"time"`
	Intensity float64 `json:"intensity"`
}

type AIAnalysis struct {
	ViralityScore        float64       `json:"viralityScore"`
	EmotionPeaks         []EmotionPeak `json:"emotionPeaks"`
	Keywords             []string      `json:"keywords"`
	Topics               []string      `json:"topics"`
	SuggestedTitle       string        `json:"suggestedTitle"`
	SuggestedDescription string        `json:"suggestedDescription"`
	Hashtags             []string      `json:"hashtags"`
	CallsToAction        []string      `json:"callsToAction"`
	SceneChanges         []float64     `json:"sceneChanges"`
	SilencePeriods       []Period      `json:"silencePeriods"`
	VolumePeaks          []VolumePeak  `json:"volumePeaks"`
	Transcript           string        `json:"transcript,omitempty"`
	Language             string        `json:"language,omitempty"`
}

type Lane string

const (
	LaneUpload    Lane = "upload"
	LaneProcess   Lane = "process"
	LaneRender    Lane = "render"
	LaneCompleted Lane = "completed"
	LaneFailed    Lane = "failed"
)

var Lanes = []Lane{LaneUpload, LaneProcess, LaneRender, LaneCompleted, LaneFailed}

func (l Lane) Valid() bool {
	for _, known := range Lanes {
		if l == known {
			return true
		}
	}
	return false
}

// QueueJob is the envelope carried through the queue lanes.
type QueueJob struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"type"`
	Lane      Lane           `json:"lane"`
	VideoID   uuid.UUID      `json:"videoId"`
	Priority  int            `json:"priority"`
	Attempts  int            `json:"attempts"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func NewQueueJob(lane Lane, jobType string, videoID uuid.UUID, priority int) QueueJob {
	return QueueJob{
		ID:        uuid.New(),
		Type:      jobType,
		Lane:      lane,
		VideoID:   videoID,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}
