// Package backend performs single timed calls against model backends and reduces every failure to data.
package backend

import (
	"context"
	"time"

	"llm-ensemble/internal/registry"
)

// Failure reasons with fixed spelling. Anything else is a transport or HTTP description.
const (
	ReasonTimeout  = "timeout"
	ReasonCanceled = "canceled"
)

// Outcome is the result of one attempted backend call.
type Outcome struct {
	Backend       string        `json:"backend"`
	Text          string        `json:"response"`
	Latency       time.Duration `json:"latency_ns"`
	QualityScore  float64       `json:"quality_score"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Tokens        int           `json:"tokens,omitempty"`
	Cost          float64       `json:"cost,omitempty"`
}

// Failed reports whether the call ended with a failure reason.
func (o Outcome) Failed() bool {
	return o.FailureReason != ""
}

// Usable reports whether the outcome can take part in selection.
func (o Outcome) Usable() bool {
	return !o.Failed() && o.Text != ""
}

// Reply is what a provider extracted from a successful backend response.
type Reply struct {
	Text   string
	Tokens int
	Cost   float64
}

// Provider speaks the wire protocol of one backend kind. Errors are reduced to failure reasons by the Invoker.
type Provider interface {
	Call(ctx context.Context, d registry.Descriptor, query string) (Reply, error)
}

// Invoker performs one timed, cancellable call. It never returns an error; failures live in the Outcome.
// A non-positive timeout means the descriptor's own timeout applies.
type Invoker interface {
	Invoke(ctx context.Context, d registry.Descriptor, query string, timeout time.Duration) Outcome
}
