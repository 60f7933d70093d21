// Package api holds the wire views shared by the HTTP server, the worker and the CLI.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"llm-ensemble/internal/backend"
	"llm-ensemble/internal/ensemble"
	"llm-ensemble/internal/ledger"
	"llm-ensemble/internal/registry"
)

// MaxTimeoutMS is the largest timeout_ms a request may ask for. It stays below
// httputil.RequestTimeout so the coordinator's deadline fires before the router's.
const MaxTimeoutMS = 110000

// EnsembleRequest is the body of POST /api/ensemble and of queued ensemble jobs.
type EnsembleRequest struct {
	Query     string `json:"query" validate:"required,max=8000"`
	Strategy  string `json:"strategy" validate:"omitempty,strategy"`
	TimeoutMS int    `json:"timeout_ms" validate:"omitempty,min=1,max=110000"`
	MinModels int    `json:"min_models" validate:"omitempty,min=1,max=32"`
	UseCache  *bool  `json:"use_cache"`
}

// Options converts the request into coordinator options.
func (r EnsembleRequest) Options() ensemble.Options {
	return ensemble.Options{
		Timeout:     time.Duration(r.TimeoutMS) * time.Millisecond,
		MinModels:   r.MinModels,
		BypassCache: r.UseCache != nil && !*r.UseCache,
	}
}

// Outcome is one backend attempt as shown to clients.
type Outcome struct {
	Backend      string  `json:"backend" yaml:"backend"`
	Response     string  `json:"response" yaml:"response"`
	LatencyMS    float64 `json:"latency_ms" yaml:"latency_ms"`
	QualityScore float64 `json:"quality_score" yaml:"quality_score"`
	Error        string  `json:"error,omitempty" yaml:"error,omitempty"`
	Tokens       int     `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Cost         float64 `json:"cost,omitempty" yaml:"cost,omitempty"`
}

// Result is an ensemble result as shown to clients.
type Result struct {
	ID               string    `json:"id" yaml:"id"`
	SelectedBackend  string    `json:"selected_backend" yaml:"selected_backend"`
	SelectedResponse string    `json:"selected_response" yaml:"selected_response"`
	Confidence       float64   `json:"confidence" yaml:"confidence"`
	Strategy         string    `json:"strategy" yaml:"strategy"`
	TotalLatencyMS   float64   `json:"total_latency_ms" yaml:"total_latency_ms"`
	Cached           bool      `json:"cached" yaml:"cached"`
	Partial          bool      `json:"partial,omitempty" yaml:"partial,omitempty"`
	Outcomes         []Outcome `json:"outcomes" yaml:"outcomes"`
}

func FromResult(r *ensemble.Result) Result {
	out := Result{
		ID:               r.ID,
		SelectedBackend:  r.SelectedBackend,
		SelectedResponse: r.SelectedText,
		Confidence:       r.Confidence,
		Strategy:         string(r.Strategy),
		TotalLatencyMS:   millis(r.TotalLatency),
		Cached:           r.Cached,
		Partial:          r.Partial,
		Outcomes:         make([]Outcome, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		out.Outcomes = append(out.Outcomes, fromOutcome(o))
	}
	return out
}

func fromOutcome(o backend.Outcome) Outcome {
	return Outcome{
		Backend:      o.Backend,
		Response:     o.Text,
		LatencyMS:    millis(o.Latency),
		QualityScore: o.QualityScore,
		Error:        o.FailureReason,
		Tokens:       o.Tokens,
		Cost:         o.Cost,
	}
}

// Backend is a registry entry with its credential redacted.
type Backend struct {
	Name          string  `json:"name" yaml:"name"`
	Kind          string  `json:"kind" yaml:"kind"`
	Endpoint      string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Model         string  `json:"model,omitempty" yaml:"model,omitempty"`
	TimeoutMS     int64   `json:"timeout_ms" yaml:"timeout_ms"`
	Weight        float64 `json:"weight" yaml:"weight"`
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	HasCredential bool    `json:"has_credential" yaml:"has_credential"`
}

func FromDescriptor(d registry.Descriptor) Backend {
	return Backend{
		Name:          d.Name,
		Kind:          string(d.Kind),
		Endpoint:      d.Endpoint,
		Model:         d.Model,
		TimeoutMS:     d.Timeout.Milliseconds(),
		Weight:        d.Weight,
		Enabled:       d.Enabled,
		HasCredential: d.Credential != "",
	}
}

func FromDescriptors(ds []registry.Descriptor) []Backend {
	out := make([]Backend, 0, len(ds))
	for _, d := range ds {
		out = append(out, FromDescriptor(d))
	}
	return out
}

// BackendPatch is the body of PATCH /api/backends/{name}.
type BackendPatch struct {
	Enabled   *bool    `json:"enabled"`
	Weight    *float64 `json:"weight" validate:"omitnil,gt=0"`
	TimeoutMS *int     `json:"timeout_ms" validate:"omitnil,gt=0"`
}

func (p BackendPatch) Patch() registry.Patch {
	out := registry.Patch{Enabled: p.Enabled, Weight: p.Weight}
	if p.TimeoutMS != nil {
		t := time.Duration(*p.TimeoutMS) * time.Millisecond
		out.Timeout = &t
	}
	return out
}

// Stats is one ledger row.
type Stats struct {
	Backend      string  `json:"backend" yaml:"backend"`
	Attempts     int     `json:"attempts" yaml:"attempts"`
	Successes    int     `json:"successes" yaml:"successes"`
	SuccessRate  float64 `json:"success_rate" yaml:"success_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms" yaml:"avg_latency_ms"`
}

func FromStats(report []ledger.Stats) []Stats {
	out := make([]Stats, 0, len(report))
	for _, s := range report {
		out = append(out, Stats{
			Backend:      s.Backend,
			Attempts:     s.Attempts,
			Successes:    s.Successes,
			SuccessRate:  s.SuccessRate,
			AvgLatencyMS: millis(s.AvgLatency),
		})
	}
	return out
}

// StatusFor maps an Execute error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ensemble.ErrUnknownStrategy):
		return http.StatusBadRequest
	case errors.Is(err, ensemble.ErrNoEnabledBackends), errors.Is(err, ensemble.ErrInsufficientResponses):
		return http.StatusServiceUnavailable
	case errors.Is(err, ensemble.ErrCanceled), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a later attempt could succeed without any change to the request.
func Retryable(err error) bool {
	return errors.Is(err, ensemble.ErrNoEnabledBackends) || errors.Is(err, ensemble.ErrInsufficientResponses)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
