package models

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	defaultServerAddr      = ":8080"
	defaultStoragePath     = "./data"
	defaultPublicBaseURL   = "http://localhost:8080"
	defaultMaxUploadBytes  = 500 * 1024 * 1024
	defaultQueueBackend    = "memory"
	defaultTopicPrefix     = "captionforge"
	defaultKafkaGroupID    = "captionforge-processor"
	defaultPollSeconds     = 1.0
	defaultMaxRetries      = 3
	defaultWorkers         = 2
	defaultBackoffSeconds  = 2.0
	defaultStorageBackend  = "local"
	defaultAIBaseURL       = "https://api.groq.com/openai/v1/"
	defaultChatModel       = "llama-3.3-70b-versatile"
	defaultTranscribeModel = "whisper-large-v3-turbo"
	defaultPromptsPath     = "prompts.yaml"
	defaultFFmpegPath      = "ffmpeg"
	defaultFontName        = "Montserrat Black"
	defaultFontSize        = 96
	defaultChunkSize       = 5
	defaultSilenceGap      = 1.0
	defaultSceneGap        = 2.0
)

type Config struct {
	ServerAddr     string   `yaml:"server_addr"`
	DatabaseURL    string   `yaml:"database_url"`
	StoragePath    string   `yaml:"storage_path"`
	PublicBaseURL  string   `yaml:"public_base_url"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	JWTSecret      string   `yaml:"-"`

	Queue   QueueConfig   `yaml:"queue"`
	Storage StorageConfig `yaml:"storage"`
	AI      AIConfig      `yaml:"ai"`
	Render  RenderConfig  `yaml:"render"`
}

type QueueConfig struct {
	Backend        string   `yaml:"backend"` // memory, kafka or amqp
	KafkaBrokers   []string `yaml:"kafka_brokers"`
	TopicPrefix    string   `yaml:"topic_prefix"`
	KafkaGroupID   string   `yaml:"kafka_group_id"`
	AMQPURL        string   `yaml:"amqp_url"`
	Capacity       int      `yaml:"capacity"`
	PollSeconds    float64  `yaml:"poll_seconds"`
	MaxRetries     int      `yaml:"max_retries"`
	BackoffSeconds float64  `yaml:"backoff_seconds"`
	Workers        int      `yaml:"workers"`
}

func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollSeconds * float64(time.Second))
}

func (q QueueConfig) Backoff() time.Duration {
	return time.Duration(q.BackoffSeconds * float64(time.Second))
}

type StorageConfig struct {
	Backend   string `yaml:"backend"` // local or gcs
	GCSBucket string `yaml:"gcs_bucket"`
}

type AIConfig struct {
	APIKey             string `yaml:"-"`
	BaseURL            string `yaml:"base_url"`
	ChatModel          string `yaml:"chat_model"`
	TranscriptionModel string `yaml:"transcription_model"`
	PromptsPath        string `yaml:"prompts_path"`
}

type RenderConfig struct {
	FFmpegPath       string  `yaml:"ffmpeg_path"`
	FontName         string  `yaml:"font_name"`
	FontSize         int     `yaml:"font_size"`
	CaptionChunkSize int     `yaml:"caption_chunk_size"`
	SilenceGap       float64 `yaml:"silence_gap"`
	SceneGap         float64 `yaml:"scene_gap"`
}

// LoadConfig reads the YAML file at path (missing file means defaults),
// then overlays secrets from the environment and .env.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		slog.Warn("No config file found, using defaults", "path", path)
	default:
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("GCS_BUCKET"); v != "" {
		cfg.Storage.GCSBucket = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Queue.AMQPURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Queue.KafkaBrokers = strings.Split(v, ",")
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.AI.APIKey = os.Getenv("GROQ_API_KEY")
}

func applyDefaults(cfg *Config) {
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = defaultServerAddr
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = defaultStoragePath
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = defaultPublicBaseURL
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	applyQueueDefaults(&cfg.Queue)
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaultStorageBackend
	}
	applyAIDefaults(&cfg.AI)
	applyRenderDefaults(&cfg.Render)
}

func applyQueueDefaults(q *QueueConfig) {
	if q.Backend == "" {
		q.Backend = defaultQueueBackend
	}
	if q.TopicPrefix == "" {
		q.TopicPrefix = defaultTopicPrefix
	}
	if q.KafkaGroupID == "" {
		q.KafkaGroupID = defaultKafkaGroupID
	}
	if q.PollSeconds == 0 {
		q.PollSeconds = defaultPollSeconds
	}
	if q.MaxRetries == 0 {
		q.MaxRetries = defaultMaxRetries
	}
	if q.BackoffSeconds == 0 {
		q.BackoffSeconds = defaultBackoffSeconds
	}
	if q.Workers == 0 {
		q.Workers = defaultWorkers
	}
}

func applyAIDefaults(ai *AIConfig) {
	if ai.BaseURL == "" {
		ai.BaseURL = defaultAIBaseURL
	}
	if !strings.HasSuffix(ai.BaseURL, "/") {
		ai.BaseURL += "/"
	}
	if ai.ChatModel == "" {
		ai.ChatModel = defaultChatModel
	}
	if ai.TranscriptionModel == "" {
		ai.TranscriptionModel = defaultTranscribeModel
	}
	if ai.PromptsPath == "" {
		ai.PromptsPath = defaultPromptsPath
	}
}

func applyRenderDefaults(r *RenderConfig) {
	if r.FFmpegPath == "" {
		r.FFmpegPath = defaultFFmpegPath
	}
	if r.FontName == "" {
		r.FontName = defaultFontName
	}
	if r.FontSize == 0 {
		r.FontSize = defaultFontSize
	}
	if r.CaptionChunkSize == 0 {
		r.CaptionChunkSize = defaultChunkSize
	}
	if r.SilenceGap == 0 {
		r.SilenceGap = defaultSilenceGap
	}
	if r.SceneGap == 0 {
		r.SceneGap = defaultSceneGap
	}
}
