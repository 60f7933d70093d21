package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"llm-ensemble/internal/backend"
	"llm-ensemble/internal/ledger"
	"llm-ensemble/internal/logger"
	"llm-ensemble/internal/registry"
)

var (
	// ErrNoEnabledBackends means the registry had nothing to call. Retryable by the caller.
	ErrNoEnabledBackends = errors.New("no enabled backends")
	// ErrInsufficientResponses means fewer than MinModels backends returned usable text. Retryable by the caller.
	ErrInsufficientResponses = errors.New("insufficient valid responses")
	// ErrUnknownStrategy is returned for a strategy name outside quality|speed|consensus.
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrCanceled means the caller's context ended before the ensemble completed.
	ErrCanceled = errors.New("ensemble canceled")
)

// Coordinator owns one ensemble: registry, invoker, cache and ledger. It is safe for concurrent use.
type Coordinator struct {
	registry   *registry.Registry
	invoker    backend.Invoker
	ledger     *ledger.Ledger
	cache      Cache
	log        *slog.Logger
	cancelMode CancelMode
	minModels  int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCache enables result caching.
func WithCache(c Cache) Option {
	return func(co *Coordinator) { co.cache = c }
}

func WithLogger(log *slog.Logger) Option {
	return func(co *Coordinator) {
		if log != nil {
			co.log = log
		}
	}
}

func WithCancelMode(m CancelMode) Option {
	return func(co *Coordinator) { co.cancelMode = m }
}

// WithMinModels sets the default number of usable responses required per execution.
func WithMinModels(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.minModels = n
		}
	}
}

// New builds a coordinator. Without WithCache every execution reaches the backends.
func New(reg *registry.Registry, inv backend.Invoker, led *ledger.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:   reg,
		invoker:    inv,
		ledger:     led,
		log:        logger.Discard(),
		cancelMode: CancelAllOrNothing,
		minModels:  1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ledger == nil {
		c.ledger = ledger.New()
	}
	return c
}

// Registry returns the backend registry.
func (c *Coordinator) Registry() *registry.Registry { return c.registry }

// Ledger returns the performance ledger.
func (c *Coordinator) Ledger() *ledger.Ledger { return c.ledger }

// Execute runs query against every enabled backend concurrently and selects one answer by strategy.
// Backend failures are recorded in the result; only ErrNoEnabledBackends, ErrInsufficientResponses,
// ErrUnknownStrategy and ErrCanceled are returned as errors.
func (c *Coordinator) Execute(ctx context.Context, query string, strategy Strategy, opts Options) (*Result, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	start := time.Now()

	useCache := c.cache != nil && !opts.BypassCache
	if useCache {
		cached, err := c.cache.Get(ctx, query, strategy)
		if err != nil {
			c.log.Warn("cache lookup failed", "err", err)
		} else if cached != nil {
			c.log.Info("returning cached ensemble result", "query", truncate(query, 50), "strategy", strategy)
			hit := cached.clone()
			hit.Cached = true
			return hit, nil
		}
	}

	backends := c.registry.Enabled()
	if len(backends) == 0 {
		return nil, ErrNoEnabledBackends
	}

	c.log.Info("starting ensemble execution",
		"query", truncate(query, 50),
		"strategy", strategy,
		"backends", len(backends),
	)

	outcomes := c.fanOut(ctx, backends, query, opts.Timeout)

	partial := false
	if err := ctx.Err(); err != nil {
		if c.cancelMode != CancelPartial {
			c.log.Warn("ensemble canceled, discarding outcomes", "err", err)
			return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		// A cancel that lands after every backend answered cuts nothing short.
		partial = anyCanceled(outcomes)
	}

	c.record(outcomes)

	minModels := opts.MinModels
	if minModels <= 0 {
		minModels = c.minModels
	}
	usable := countUsable(outcomes)
	if usable < minModels {
		c.log.Warn("insufficient valid responses", "usable", usable, "required", minModels)
		return nil, fmt.Errorf("%w: %d/%d", ErrInsufficientResponses, usable, minModels)
	}

	selected, _ := selectOutcome(outcomes, strategy)
	result := &Result{
		ID:              uuid.NewString(),
		SelectedBackend: selected.Backend,
		SelectedText:    selected.Text,
		Confidence:      selected.QualityScore,
		Outcomes:        outcomes,
		TotalLatency:    time.Since(start),
		Strategy:        strategy,
		Partial:         partial,
	}

	if useCache && !partial {
		if err := c.cache.Put(context.WithoutCancel(ctx), query, strategy, result.clone()); err != nil {
			c.log.Warn("failed to cache ensemble result", "err", err)
		}
	}

	c.log.Info("ensemble execution completed",
		"selected_backend", result.SelectedBackend,
		"confidence", fmt.Sprintf("%.2f", result.Confidence),
		"total_ms", result.TotalLatency.Milliseconds(),
		"valid_responses", usable,
		"partial", partial,
	)
	return result, nil
}

// fanOut calls every backend concurrently and waits for all of them. One backend's failure never
// cancels its siblings; each goroutine reports through its own slot.
func (c *Coordinator) fanOut(ctx context.Context, backends []registry.Descriptor, query string, timeout time.Duration) []backend.Outcome {
	outcomes := make([]backend.Outcome, len(backends))
	var g errgroup.Group
	for i, d := range backends {
		g.Go(func() error {
			outcomes[i] = c.invoker.Invoke(ctx, d, query, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// record updates the ledger. Backends cut off by the caller's cancellation are not held against them.
func (c *Coordinator) record(outcomes []backend.Outcome) {
	for _, o := range outcomes {
		if o.FailureReason == backend.ReasonCanceled {
			continue
		}
		c.ledger.Record(o.Backend, !o.Failed(), o.Latency)
	}
}

func anyCanceled(outcomes []backend.Outcome) bool {
	for _, o := range outcomes {
		if o.FailureReason == backend.ReasonCanceled {
			return true
		}
	}
	return false
}

func countUsable(outcomes []backend.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Usable() {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
