package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"captionforge/internal/blob"
	"captionforge/internal/ffmpeg"
	"captionforge/internal/metrics"
	"captionforge/internal/models"
	"captionforge/internal/processor"
	"captionforge/internal/queue"
	"captionforge/internal/storage"
	"captionforge/internal/validation"
)

// multipart framing on top of the file itself
const formOverhead = 1 << 20

var errBadRequest = errors.New("bad request")

// Submitter hands a stored video over to background processing.
type Submitter interface {
	Submit(ctx context.Context, v *models.Video, priority int) (*models.ProcessingJob, error)
}

type Server struct {
	cfg     *models.Config
	router  *gin.Engine
	repo    storage.Repository
	blobs   blob.Store
	jobs    Submitter
	stats   queue.StatsReporter
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewServer wires the routes. stats may be nil when the queue backend
// cannot report lane depths.
func NewServer(
	cfg *models.Config,
	repo storage.Repository,
	blobs blob.Store,
	jobs Submitter,
	stats queue.StatsReporter,
	m *metrics.Metrics,
) *Server {
	if m == nil {
		m = metrics.New()
	}
	r := gin.Default()

	s := &Server{
		cfg:     cfg,
		router:  r,
		repo:    repo,
		blobs:   blobs,
		jobs:    jobs,
		stats:   stats,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}

	r.Static("/web", "./web")
	if cfg.Storage.Backend == "local" {
		r.Static("/files", cfg.StoragePath)
	}
	r.GET("/", func(c *gin.Context) {
		c.File("./web/index.html")
	})
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	api := r.Group("/api")
	if cfg.JWTSecret != "" {
		api.Use(AuthMiddleware([]byte(cfg.JWTSecret)))
	}
	api.POST("/upload", s.handleUpload)
	api.GET("/status/:id", s.handleStatus)
	api.GET("/videos/:id", s.handleGetVideo)
	api.DELETE("/videos/:id", s.handleDeleteVideo)
	api.GET("/queue/stats", s.handleQueueStats)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, validation.ErrFileTooLarge),
		errors.Is(err, validation.ErrInvalidFileType),
		errors.Is(err, validation.ErrFilenameTooLong),
		errors.Is(err, validation.ErrEmptyFile),
		errors.Is(err, models.ErrInvalidStyle),
		errors.Is(err, models.ErrInvalidPace),
		errors.Is(err, models.ErrInvalidColor),
		errors.Is(err, ffmpeg.ErrUnsupportedAspect):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "op", op, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func parseID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid video id", errBadRequest)
	}
	return id, nil
}

// parseStyle reads style, pace and colors from the form, falling back to
// the defaults for anything left blank.
func parseStyle(c *gin.Context) (models.StyleConfig, error) {
	sc := models.DefaultStyle()
	if v := strings.TrimSpace(c.PostForm("style")); v != "" {
		sc.Style = models.Style(strings.ToLower(v))
	}
	if v := strings.TrimSpace(c.PostForm("pace")); v != "" {
		sc.Pace = models.Pace(strings.ToLower(v))
	}
	if v := strings.TrimSpace(c.PostForm("colors")); v != "" {
		colors, err := models.ParseColors(v)
		if err != nil {
			return sc, err
		}
		sc.Colors = colors
	}
	for i, field := range []string{"primaryColor", "secondaryColor", "accentColor"} {
		if v := strings.TrimSpace(c.PostForm(field)); v != "" {
			sc.Colors[i] = strings.ToUpper(v)
		}
	}
	return sc, sc.Validate()
}

func parsePriority(c *gin.Context) (int, error) {
	raw := strings.TrimSpace(c.PostForm("priority"))
	if raw == "" {
		return 0, nil
	}
	p, err := strconv.Atoi(raw)
	if err != nil || p < 0 || p > 9 {
		return 0, fmt.Errorf("%w: priority must be between 0 and 9", errBadRequest)
	}
	return p, nil
}

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes+formOverhead)

	fh, err := c.FormFile("video")
	if err != nil {
		s.metrics.Uploads.WithLabelValues("rejected").Inc()
		s.fail(c, op, fmt.Errorf("%w: no video file provided", errBadRequest))
		return
	}

	contentType, err := validation.ValidateUpload(fh, s.cfg.MaxUploadBytes)
	if err != nil {
		s.metrics.Uploads.WithLabelValues("rejected").Inc()
		s.fail(c, op, err)
		return
	}
	style, err := parseStyle(c)
	if err != nil {
		s.metrics.Uploads.WithLabelValues("rejected").Inc()
		s.fail(c, op, err)
		return
	}
	priority, err := parsePriority(c)
	if err != nil {
		s.metrics.Uploads.WithLabelValues("rejected").Inc()
		s.fail(c, op, err)
		return
	}
	aspect := c.DefaultPostForm("aspectRatio", "9:16")
	if _, _, err := ffmpeg.AspectSize(aspect); err != nil {
		s.metrics.Uploads.WithLabelValues("rejected").Inc()
		s.fail(c, op, err)
		return
	}

	now := s.now()
	v := &models.Video{
		ID:           uuid.New(),
		UserID:       c.GetString(userIDKey),
		OriginalName: fh.Filename,
		Status:       models.VideoUploading,
		Style:        style,
		Format:       contentType,
		AspectRatio:  aspect,
		SizeBytes:    fh.Size,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	src, err := fh.Open()
	if err != nil {
		s.metrics.Uploads.WithLabelValues("error").Inc()
		s.fail(c, op, fmt.Errorf("%s: %w", op, err))
		return
	}
	defer src.Close()

	ctx := c.Request.Context()
	if err := s.blobs.Put(ctx, v.ObjectKey(), src, contentType); err != nil {
		s.metrics.Uploads.WithLabelValues("error").Inc()
		s.fail(c, op, fmt.Errorf("%s: %w", op, err))
		return
	}
	v.OriginalURL = s.blobs.URL(v.ObjectKey())
	v.Status = models.VideoQueued

	if err := s.repo.SaveVideo(ctx, v); err != nil {
		s.metrics.Uploads.WithLabelValues("error").Inc()
		s.discardOriginal(v)
		s.fail(c, op, fmt.Errorf("%s: %w", op, err))
		return
	}
	if _, err := s.jobs.Submit(ctx, v, priority); err != nil {
		s.metrics.Uploads.WithLabelValues("error").Inc()
		if derr := s.repo.DeleteVideo(context.WithoutCancel(ctx), v.ID); derr != nil {
			slog.Warn("Failed to remove unsubmitted video", "video_id", v.ID, "error", derr)
		}
		s.discardOriginal(v)
		s.fail(c, op, fmt.Errorf("%s: %w", op, err))
		return
	}

	s.metrics.Uploads.WithLabelValues("accepted").Inc()
	slog.Info("Video uploaded", "video_id", v.ID, "size", v.SizeBytes, "type", contentType, "style", style.Style)
	c.JSON(http.StatusOK, gin.H{"success": true, "video": v})
}

// discardOriginal removes the uploaded file of a video that never made it
// into the pipeline.
func (s *Server) discardOriginal(v *models.Video) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, v.ObjectKey()); err != nil {
		slog.Warn("Failed to remove orphaned upload", "video_id", v.ID, "key", v.ObjectKey(), "error", err)
	}
}

// ownedVideo loads a video and hides it from authenticated callers that
// did not upload it.
func (s *Server) ownedVideo(c *gin.Context, id uuid.UUID) (*models.Video, error) {
	v, err := s.repo.GetVideo(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if user := c.GetString(userIDKey); user != "" && user != v.UserID {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (s *Server) handleStatus(c *gin.Context) {
	const op = "server.handleStatus"

	id, err := parseID(c)
	if err != nil {
		s.fail(c, op, err)
		return
	}

	v, err := s.ownedVideo(c, id)
	if err != nil {
		s.fail(c, op, err)
		return
	}
	job, err := s.repo.GetJobByVideo(c.Request.Context(), id)
	if err != nil {
		s.fail(c, op, err)
		return
	}

	if job.Status == models.JobCompleted {
		c.JSON(http.StatusOK, gin.H{"status": job.Status, "progress": 100, "video": v})
		return
	}

	resp := gin.H{
		"status":        job.Status,
		"progress":      job.Progress,
		"currentStep":   job.CurrentStep,
		"timeRemaining": job.TimeRemaining(s.now()),
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetVideo(c *gin.Context) {
	const op = "server.handleGetVideo"

	id, err := parseID(c)
	if err != nil {
		s.fail(c, op, err)
		return
	}
	v, err := s.ownedVideo(c, id)
	if err != nil {
		s.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "video": v})
}

func (s *Server) handleDeleteVideo(c *gin.Context) {
	const op = "server.handleDeleteVideo"

	id, err := parseID(c)
	if err != nil {
		s.fail(c, op, err)
		return
	}

	v, err := s.ownedVideo(c, id)
	if err != nil {
		s.fail(c, op, err)
		return
	}

	ctx := c.Request.Context()
	removed := 0
	for _, prefix := range processor.ObjectPrefixes(v) {
		n, err := blob.DeletePrefix(ctx, s.blobs, prefix)
		removed += n
		if err != nil {
			s.fail(c, op, fmt.Errorf("%s: %w", op, err))
			return
		}
	}
	if err := s.repo.DeleteVideo(ctx, id); err != nil {
		s.fail(c, op, err)
		return
	}

	slog.Info("Video deleted", "video_id", id, "objects", removed)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleQueueStats(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "queue backend does not report stats"})
		return
	}
	lanes := gin.H{}
	for lane, n := range s.stats.Stats() {
		lanes[string(lane)] = n
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "lanes": lanes})
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.repo.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
