package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for the ensemble services.
type Config struct {
	// Server
	Port      int    `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // "json" or "text"

	// Backends. When BackendsFile is empty the registry is seeded from the endpoint variables below.
	BackendsFile    string        `env:"BACKENDS_FILE"`
	BackendTimeout  time.Duration `env:"BACKEND_TIMEOUT" envDefault:"30s"`
	PrimaryURL      string        `env:"RAG_API_URL" envDefault:"http://localhost:8000"`
	SecondaryURL    string        `env:"SECONDARY_MODEL_ENDPOINT"`
	SecondaryAPIKey string        `env:"SECONDARY_MODEL_API_KEY"`
	TertiaryURL     string        `env:"TERTIARY_MODEL_ENDPOINT"`
	TertiaryAPIKey  string        `env:"TERTIARY_MODEL_API_KEY"`
	OpenAIKey       string        `env:"OPENAI_API_KEY"`
	OpenAIModel     string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`

	// Ensemble
	DefaultStrategy string `env:"ENSEMBLE_STRATEGY" envDefault:"quality"`
	MinModels       int    `env:"ENSEMBLE_MIN_MODELS" envDefault:"1"`
	CancelMode      string `env:"ENSEMBLE_CANCEL_MODE" envDefault:"all-or-nothing"` // "all-or-nothing" or "partial"

	// Cache
	CacheProvider string        `env:"CACHE_PROVIDER" envDefault:"memory"` // "memory", "redis" or "none"
	CacheCapacity int           `env:"CACHE_CAPACITY" envDefault:"100"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"0s"` // redis only
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"none"` // "none" or "nats"
	QueueURL      string `env:"QUEUE_URL"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
