package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"captionforge/internal/blob"
	"captionforge/internal/models"
	"captionforge/internal/queue"
	"captionforge/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSubmitter struct {
	attempted []*models.Video
	submitted []*models.Video
	priority  int
	err       error
}

func (f *fakeSubmitter) Submit(_ context.Context, v *models.Video, priority int) (*models.ProcessingJob, error) {
	f.attempted = append(f.attempted, v)
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, v)
	f.priority = priority
	return &models.ProcessingJob{ID: uuid.New(), VideoID: v.ID, Status: models.JobPending}, nil
}

type testServer struct {
	srv   *Server
	repo  *storage.MemoryStorage
	blobs *blob.LocalStore
	jobs  *fakeSubmitter
	queue *queue.MemoryQueue
}

func newTestServer(t *testing.T, mutate func(*models.Config)) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &models.Config{
		StoragePath:    dir,
		PublicBaseURL:  "http://localhost:8080",
		MaxUploadBytes: 64,
		Storage:        models.StorageConfig{Backend: "local"},
	}
	if mutate != nil {
		mutate(cfg)
	}
	blobs, err := blob.NewLocalStore(dir, cfg.PublicBaseURL)
	if err != nil {
		t.Fatal(err)
	}
	ts := &testServer{
		repo:  storage.NewMemoryStorage(),
		blobs: blobs,
		jobs:  &fakeSubmitter{},
		queue: queue.NewMemoryQueue(0),
	}
	ts.srv = NewServer(cfg, ts.repo, ts.blobs, ts.jobs, ts.queue, nil)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
	}
	return body
}

type upload struct {
	filename    string
	contentType string
	content     []byte
	fields      map[string]string
}

func uploadRequest(t *testing.T, u upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range u.fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if u.content != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="video"; filename="`+u.filename+`"`)
		h.Set("Content-Type", u.contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(u.content); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadAccepted(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(uploadRequest(t, upload{
		filename:    "clip.mp4",
		contentType: "video/mp4",
		content:     bytes.Repeat([]byte{1}, 64),
		fields: map[string]string{
			"style":       "bold",
			"pace":        "fast",
			"colors":      "#ffffff,#000000,#ff0000",
			"accentColor": "#00ff00",
			"priority":    "5",
		},
	}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}

	if len(ts.jobs.submitted) != 1 || ts.jobs.priority != 5 {
		t.Fatalf("submitted = %d priority = %d", len(ts.jobs.submitted), ts.jobs.priority)
	}
	v := ts.jobs.submitted[0]
	if v.Style.Style != models.StyleBold || v.Style.Pace != models.PaceFast {
		t.Errorf("style = %+v", v.Style)
	}
	if v.Style.Accent() != "#00FF00" || v.Style.Secondary() != "#000000" {
		t.Errorf("colors = %v", v.Style.Colors)
	}

	stored, err := ts.repo.GetVideo(context.Background(), v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.VideoQueued || stored.SizeBytes != 64 {
		t.Errorf("stored video = %+v", stored)
	}
	rc, err := ts.blobs.Open(context.Background(), v.ObjectKey())
	if err != nil {
		t.Fatalf("original not stored: %v", err)
	}
	rc.Close()
}

func TestUploadRejected(t *testing.T) {
	tests := []struct {
		name string
		u    upload
	}{
		{name: "noFile", u: upload{fields: map[string]string{"style": "viral"}}},
		{name: "oneByteOver", u: upload{filename: "a.mp4", contentType: "video/mp4", content: make([]byte, 65)}},
		{name: "empty", u: upload{filename: "a.mp4", contentType: "video/mp4", content: []byte{}}},
		{name: "wrongType", u: upload{filename: "a.txt", contentType: "text/plain", content: []byte("hello")}},
		{name: "badStyle", u: upload{filename: "a.mp4", contentType: "video/mp4", content: []byte("x"), fields: map[string]string{"style": "loud"}}},
		{name: "badPace", u: upload{filename: "a.mp4", contentType: "video/mp4", content: []byte("x"), fields: map[string]string{"pace": "warp"}}},
		{name: "badColor", u: upload{filename: "a.mp4", contentType: "video/mp4", content: []byte("x"), fields: map[string]string{"primaryColor": "red"}}},
		{name: "badPriority", u: upload{filename: "a.mp4", contentType: "video/mp4", content: []byte("x"), fields: map[string]string{"priority": "12"}}},
		{name: "badAspect", u: upload{filename: "a.mp4", contentType: "video/mp4", content: []byte("x"), fields: map[string]string{"aspectRatio": "2:1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			w := ts.do(uploadRequest(t, tt.u))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			body := decode(t, w)
			if body["success"] != false || body["error"] == "" {
				t.Errorf("body = %v", body)
			}
			if len(ts.jobs.submitted) != 0 {
				t.Errorf("rejected upload was submitted")
			}
		})
	}
}

func TestUploadSubmitFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.jobs.err = errors.New("queue unavailable")

	w := ts.do(uploadRequest(t, upload{filename: "a.mp4", contentType: "video/mp4", content: []byte("x")}))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}

	ctx := context.Background()
	keys, err := ts.blobs.List(ctx, "original/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("orphaned originals = %v", keys)
	}
	if len(ts.jobs.attempted) != 1 {
		t.Fatalf("attempted = %d", len(ts.jobs.attempted))
	}
	if _, err := ts.repo.GetVideo(ctx, ts.jobs.attempted[0].ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetVideo() for unsubmitted upload error = %v", err)
	}
}

func seedVideo(t *testing.T, ts *testServer, job *models.ProcessingJob) *models.Video {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	v := &models.Video{ID: uuid.New(), Status: models.VideoProcessing, Style: models.DefaultStyle(), Format: "video/mp4", CreatedAt: now, UpdatedAt: now}
	if err := ts.repo.SaveVideo(ctx, v); err != nil {
		t.Fatal(err)
	}
	if job != nil {
		job.ID = uuid.New()
		job.VideoID = v.ID
		if err := ts.repo.SaveJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}
	return v
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	started := time.Now().UTC().Add(-10 * time.Second)
	running := seedVideo(t, ts, &models.ProcessingJob{Status: models.JobRunning, Progress: 45, CurrentStep: "Analyzing virality", StartedAt: &started})
	queued := seedVideo(t, ts, &models.ProcessingJob{Status: models.JobPending, CurrentStep: "Queued"})
	done := seedVideo(t, ts, &models.ProcessingJob{Status: models.JobCompleted, Progress: 100})

	t.Run("invalidID", func(t *testing.T) {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/status/not-a-uuid", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/status/"+uuid.NewString(), nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("running", func(t *testing.T) {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/status/"+running.ID.String(), nil))
		body := decode(t, w)
		if body["status"] != "running" || body["progress"] != float64(45) || body["currentStep"] != "Analyzing virality" {
			t.Errorf("body = %v", body)
		}
		remaining, ok := body["timeRemaining"].(float64)
		if !ok || remaining <= 0 {
			t.Errorf("timeRemaining = %v", body["timeRemaining"])
		}
	})

	t.Run("queued", func(t *testing.T) {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/status/"+queued.ID.String(), nil))
		body := decode(t, w)
		if v, ok := body["timeRemaining"]; !ok || v != nil {
			t.Errorf("timeRemaining = %v, want null", v)
		}
	})

	t.Run("completed", func(t *testing.T) {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/api/status/"+done.ID.String(), nil))
		body := decode(t, w)
		video, ok := body["video"].(map[string]any)
		if body["status"] != "completed" || body["progress"] != float64(100) || !ok {
			t.Fatalf("body = %v", body)
		}
		if video["id"] != done.ID.String() {
			t.Errorf("video id = %v", video["id"])
		}
	})
}

func TestDeleteVideo(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	v := seedVideo(t, ts, &models.ProcessingJob{Status: models.JobCompleted, Progress: 100})

	for _, key := range []string{v.ObjectKey(), "thumbnails/" + v.ID.String() + ".png", "subtitles/" + v.ID.String() + ".ass"} {
		if err := ts.blobs.Put(ctx, key, strings.NewReader("x"), ""); err != nil {
			t.Fatal(err)
		}
	}
	other := "original/" + uuid.NewString() + ".mp4"
	if err := ts.blobs.Put(ctx, other, strings.NewReader("keep"), ""); err != nil {
		t.Fatal(err)
	}

	w := ts.do(httptest.NewRequest(http.MethodDelete, "/api/videos/"+v.ID.String(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if _, err := ts.repo.GetVideo(ctx, v.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetVideo() after delete error = %v", err)
	}
	keys, err := ts.blobs.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != other {
		t.Errorf("remaining objects = %v", keys)
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/videos/"+v.ID.String(), nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d", w.Code)
	}
}

func TestQueueStats(t *testing.T) {
	ts := newTestServer(t, nil)
	if err := ts.queue.Enqueue(context.Background(), models.NewQueueJob(models.LaneRender, "render", uuid.New(), 0)); err != nil {
		t.Fatal(err)
	}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil))
	body := decode(t, w)
	lanes, ok := body["lanes"].(map[string]any)
	if !ok || lanes["render"] != float64(1) || lanes["upload"] != float64(0) {
		t.Errorf("body = %v", body)
	}

	ts.srv.stats = nil
	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil))
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status without stats = %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/health status = %d", w.Code)
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Errorf("/metrics status = %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	ts := newTestServer(t, func(cfg *models.Config) { cfg.JWTSecret = secret })

	sign := func(method jwt.SigningMethod, key any, userID string) string {
		tok := jwt.NewWithClaims(method, Claims{
			UserID:           userID,
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		})
		s, err := tok.SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrongKey", header: "Bearer " + sign(jwt.SigningMethodHS256, []byte("other"), "u1"), want: http.StatusUnauthorized},
		{name: "noUser", header: "Bearer " + sign(jwt.SigningMethodHS256, []byte(secret), ""), want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + sign(jwt.SigningMethodHS256, []byte(secret), "u1"), want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if w := ts.do(req); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/health behind auth = %d", w.Code)
	}
}

func TestVideosScopedToOwner(t *testing.T) {
	const secret = "test-secret"
	ts := newTestServer(t, func(cfg *models.Config) { cfg.JWTSecret = secret })

	bearer := func(userID string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			UserID:           userID,
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		})
		s, err := tok.SignedString([]byte(secret))
		if err != nil {
			t.Fatal(err)
		}
		return "Bearer " + s
	}

	req := uploadRequest(t, upload{filename: "a.mp4", contentType: "video/mp4", content: []byte("x")})
	req.Header.Set("Authorization", bearer("alice"))
	if w := ts.do(req); w.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	v := ts.jobs.submitted[0]
	if v.UserID != "alice" {
		t.Fatalf("UserID = %q", v.UserID)
	}
	job := &models.ProcessingJob{ID: uuid.New(), VideoID: v.ID, Status: models.JobPending}
	if err := ts.repo.SaveJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	requests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/videos/" + v.ID.String()},
		{http.MethodGet, "/api/status/" + v.ID.String()},
		{http.MethodDelete, "/api/videos/" + v.ID.String()},
	}

	for _, r := range requests {
		t.Run("other "+r.method+" "+r.path, func(t *testing.T) {
			req := httptest.NewRequest(r.method, r.path, nil)
			req.Header.Set("Authorization", bearer("mallory"))
			if w := ts.do(req); w.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", w.Code)
			}
		})
	}

	if _, err := ts.blobs.Open(context.Background(), v.ObjectKey()); err != nil {
		t.Errorf("original removed by another user: %v", err)
	}

	for _, r := range requests {
		t.Run("owner "+r.method+" "+r.path, func(t *testing.T) {
			req := httptest.NewRequest(r.method, r.path, nil)
			req.Header.Set("Authorization", bearer("alice"))
			if w := ts.do(req); w.Code != http.StatusOK {
				t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
			}
		})
	}
}
