package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"captionforge/internal/httputil"
	"captionforge/internal/models"
)

// DefaultMaxAudioBytes matches the upload limit of hosted Whisper endpoints.
const DefaultMaxAudioBytes = 25 << 20

var ErrAudioTooLarge = errors.New("audio exceeds transcription size limit")

type Transcript struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Duration float64       `json:"duration"`
	Words    []models.Word `json:"words"`
}

// WhisperClient talks to an OpenAI-compatible /audio/transcriptions endpoint.
type WhisperClient struct {
	http    *httputil.RetryClient
	baseURL string
	apiKey  string
	model   string

	// MaxAudioBytes bounds the request body buffered for each call.
	MaxAudioBytes int64
}

func NewWhisperClient(client *httputil.RetryClient, baseURL, apiKey, model string) *WhisperClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &WhisperClient{http: client, baseURL: baseURL, apiKey: apiKey, model: model, MaxAudioBytes: DefaultMaxAudioBytes}
}

func (c *WhisperClient) Transcribe(ctx context.Context, filename string, audio io.Reader) (*Transcript, error) {
	t, err := c.transcribe(ctx, filename, audio)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	return t, nil
}

func (c *WhisperClient) transcribe(ctx context.Context, filename string, audio io.Reader) (*Transcript, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(part, io.LimitReader(audio, c.MaxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if n > c.MaxAudioBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrAudioTooLarge, c.MaxAudioBytes)
	}
	fields := []struct{ key, value string }{
		{"model", c.model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "word"},
	}
	for _, f := range fields {
		if err := w.WriteField(f.key, f.value); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"audio/transcriptions", bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var t Transcript
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	for i := range t.Words {
		t.Words[i].Word = strings.TrimSpace(t.Words[i].Word)
	}
	return &t, nil
}
