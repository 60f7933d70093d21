package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"llm-ensemble/internal/backend"
	"llm-ensemble/internal/cache"
	"llm-ensemble/internal/config"
	"llm-ensemble/internal/ensemble"
	"llm-ensemble/internal/ledger"
	"llm-ensemble/internal/logger"
	"llm-ensemble/internal/queue"
	"llm-ensemble/internal/registry"
)

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Registry *registry.Registry
	Ledger   *ledger.Ledger
	Cache    cache.Cache
	Queue    queue.Queue // nil unless QUEUE_PROVIDER=nats
	Ensemble *ensemble.Coordinator

	closers []func()
}

// Build loads env, config, and shared components.
func Build() (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	return BuildWith(cfg, logger.New(cfg.LogLevel, cfg.LogFormat))
}

// BuildWith wires the ensemble from an already loaded config.
func BuildWith(cfg config.Config, log *slog.Logger) (Deps, error) {
	reg, err := registry.FromConfig(cfg)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize registry: %w", err)
	}
	c, err := buildCache(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize cache: %w", err)
	}
	mode, err := ensemble.ParseCancelMode(cfg.CancelMode)
	if err != nil {
		_ = c.Close()
		return Deps{}, fmt.Errorf("invalid ENSEMBLE_CANCEL_MODE: %w", err)
	}
	deps := Deps{
		Config:   cfg,
		Log:      log,
		Registry: reg,
		Ledger:   ledger.New(),
		Cache:    c,
	}
	deps.closers = append(deps.closers, func() { _ = c.Close() })

	q, nc, err := buildQueue(cfg, log)
	if err != nil {
		deps.Close()
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}
	if nc != nil {
		deps.closers = append(deps.closers, nc.Close)
	}
	deps.Queue = q

	opts := []ensemble.Option{
		ensemble.WithLogger(log),
		ensemble.WithCancelMode(mode),
		ensemble.WithMinModels(cfg.MinModels),
	}
	if cfg.CacheProvider != "none" {
		opts = append(opts, ensemble.WithCache(c))
	}
	invoker := backend.NewInvoker(log, &http.Client{})
	deps.Ensemble = ensemble.New(reg, invoker, deps.Ledger, opts...)

	log.Info("ensemble ready",
		"backends", len(reg.List()),
		"enabled", len(reg.Enabled()),
		"cache", cfg.CacheProvider,
		"cancel_mode", mode,
	)
	return deps, nil
}

// Close releases connections held by the dependencies.
func (d Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// DefaultStrategy returns the configured default strategy, falling back to quality.
func (d Deps) DefaultStrategy() ensemble.Strategy {
	s, err := ensemble.ParseStrategy(d.Config.DefaultStrategy)
	if err != nil {
		return ensemble.StrategyQuality
	}
	return s
}

// ResolveStrategy parses a requested strategy name; empty means the configured default.
func (d Deps) ResolveStrategy(name string) (ensemble.Strategy, error) {
	if name == "" {
		return d.DefaultStrategy(), nil
	}
	return ensemble.ParseStrategy(name)
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	switch cfg.CacheProvider {
	case "memory", "":
		log.Info("using in-memory result cache", "capacity", cfg.CacheCapacity)
		return cache.NewMemory(cfg.CacheCapacity), nil
	case "redis":
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheCapacity, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		log.Info("using Redis result cache", "addr", cfg.RedisAddr, "capacity", cfg.CacheCapacity)
		return c, nil
	case "none":
		return cache.NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("invalid CACHE_PROVIDER: %s (valid options: memory, redis, none)", cfg.CacheProvider)
	}
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, *nats.Conn, error) {
	switch cfg.QueueProvider {
	case "none", "":
		return nil, nil, nil
	case "nats":
		if cfg.QueueURL == "" {
			return nil, nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), nc, nil
	default:
		return nil, nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: none, nats)", cfg.QueueProvider)
	}
}
