package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"captionforge/internal/analyzer"
	"captionforge/internal/blob"
	"captionforge/internal/ffmpeg"
	"captionforge/internal/httputil"
	"captionforge/internal/metrics"
	"captionforge/internal/models"
	"captionforge/internal/processor"
	"captionforge/internal/queue"
	"captionforge/internal/server"
	"captionforge/internal/storage"
	"captionforge/internal/thumbnail"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := models.LoadConfig(configPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func openRepository(ctx context.Context, cfg *models.Config) (storage.Repository, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("No database configured, using in-memory storage")
		return storage.NewMemoryStorage(), nil
	}
	return storage.NewStorage(ctx, cfg.DatabaseURL)
}

func openBlobStore(ctx context.Context, cfg *models.Config) (blob.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "local":
		s, err := blob.NewLocalStore(cfg.StoragePath, cfg.PublicBaseURL)
		return s, func() {}, err
	case "gcs":
		if cfg.Storage.GCSBucket == "" {
			return nil, nil, errors.New("gcs storage needs gcs_bucket")
		}
		s, err := blob.NewGCSStore(ctx, cfg.Storage.GCSBucket)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func newAnalyzer(cfg *models.Config) (*analyzer.Analyzer, error) {
	if cfg.AI.APIKey == "" {
		slog.Warn("GROQ_API_KEY is not set, analysis requests will fail")
	}
	prompts, err := analyzer.LoadPrompts(cfg.AI.PromptsPath)
	if err != nil {
		return nil, err
	}
	chat, err := analyzer.NewGroqClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.ChatModel, prompts)
	if err != nil {
		return nil, err
	}
	whisper := analyzer.NewWhisperClient(
		httputil.NewRetryClient(nil, httputil.DefaultRetryConfig()),
		cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.TranscriptionModel,
	)
	return analyzer.New(whisper, chat, analyzer.Options{
		ChunkSize:  cfg.Render.CaptionChunkSize,
		SilenceGap: cfg.Render.SilenceGap,
		SceneGap:   cfg.Render.SceneGap,
	}), nil
}

func serve(ctx context.Context, cfg *models.Config) error {
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer repo.Close()

	blobs, closeBlobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init object store: %w", err)
	}
	defer closeBlobs()

	q, err := queue.New(cfg.Queue)
	if err != nil {
		return fmt.Errorf("failed to init queue: %w", err)
	}
	defer q.Close()

	a, err := newAnalyzer(cfg)
	if err != nil {
		return fmt.Errorf("failed to init analyzer: %w", err)
	}
	thumbs, err := thumbnail.NewRenderer()
	if err != nil {
		return err
	}

	m := metrics.New()
	proc := processor.New(
		repo, q, blobs, a,
		ffmpeg.NewBuilder(cfg.Render.FFmpegPath, cfg.Render.FontName, cfg.Render.FontSize),
		thumbs, m,
		processor.Options{
			Workers:      cfg.Queue.Workers,
			PollInterval: cfg.Queue.PollInterval(),
			MaxRetries:   cfg.Queue.MaxRetries,
			Backoff:      cfg.Queue.Backoff(),
			FontName:     cfg.Render.FontName,
		},
	)

	stats, _ := q.(queue.StatsReporter)
	srv := server.NewServer(cfg, repo, blobs, proc, stats, m)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           cors(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return proc.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", cfg.ServerAddr, "queue", cfg.Queue.Backend, "storage", cfg.Storage.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
