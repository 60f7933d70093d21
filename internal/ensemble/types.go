// Package ensemble fans one query out to every enabled backend, scores what comes back and
// deterministically selects a single answer.
package ensemble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"llm-ensemble/internal/backend"
)

// Strategy is the policy used to pick the winning outcome.
type Strategy string

const (
	// StrategyQuality picks the highest quality score.
	StrategyQuality Strategy = "quality"
	// StrategySpeed picks the lowest latency.
	StrategySpeed Strategy = "speed"
	// StrategyConsensus picks the longest response, a simple proxy for the most complete shared answer.
	StrategyConsensus Strategy = "consensus"
)

// AllStrategies returns the supported strategies.
func AllStrategies() []Strategy {
	return []Strategy{StrategyQuality, StrategySpeed, StrategyConsensus}
}

// Valid returns true if this is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyQuality, StrategySpeed, StrategyConsensus:
		return true
	default:
		return false
	}
}

// ParseStrategy accepts a strategy name case-insensitively. Empty means quality.
func ParseStrategy(s string) (Strategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StrategyQuality, nil
	}
	st := Strategy(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	return st, nil
}

// CancelMode decides what Execute returns when the caller's context ends mid-flight.
type CancelMode string

const (
	// CancelAllOrNothing discards everything and returns ErrCanceled.
	CancelAllOrNothing CancelMode = "all-or-nothing"
	// CancelPartial selects among outcomes that completed before cancellation.
	CancelPartial CancelMode = "partial"
)

// ParseCancelMode accepts "all-or-nothing" (also the empty default) or "partial".
func ParseCancelMode(s string) (CancelMode, error) {
	switch CancelMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", CancelAllOrNothing:
		return CancelAllOrNothing, nil
	case CancelPartial:
		return CancelPartial, nil
	default:
		return "", fmt.Errorf("unknown cancel mode %q", s)
	}
}

// Options tune a single Execute call. The zero value uses the coordinator defaults with caching on.
type Options struct {
	// Timeout overrides every backend's own timeout when positive.
	Timeout time.Duration
	// MinModels is the number of usable responses required; 0 means the coordinator default.
	MinModels int
	// BypassCache skips both the cache lookup and the cache write.
	BypassCache bool
}

// Result is the outcome of one ensemble execution. It is not modified after Execute returns it.
type Result struct {
	ID              string            `json:"id"`
	SelectedBackend string            `json:"selected_backend"`
	SelectedText    string            `json:"selected_response"`
	Confidence      float64           `json:"confidence"`
	Outcomes        []backend.Outcome `json:"outcomes"`
	TotalLatency    time.Duration     `json:"total_latency_ns"`
	Strategy        Strategy          `json:"strategy"`
	Cached          bool              `json:"cached"`
	Partial         bool              `json:"partial,omitempty"`
}

func (r *Result) clone() *Result {
	c := *r
	c.Outcomes = append([]backend.Outcome(nil), r.Outcomes...)
	return &c
}

// Cache short-circuits repeated (query, strategy) executions. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, query string, strategy Strategy) (*Result, error)
	Put(ctx context.Context, query string, strategy Strategy, result *Result) error
}
