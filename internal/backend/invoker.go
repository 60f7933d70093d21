package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"llm-ensemble/internal/logger"
	"llm-ensemble/internal/registry"
	"llm-ensemble/internal/scoring"
)

// TimedInvoker dispatches to a Provider by descriptor kind, bounds the call by its timeout
// and scores successful replies.
type TimedInvoker struct {
	log       *slog.Logger
	providers map[registry.Kind]Provider
}

// NewInvoker returns an invoker with the HTTP and OpenAI providers registered. client may be nil.
func NewInvoker(log *slog.Logger, client *http.Client) *TimedInvoker {
	if client == nil {
		client = &http.Client{}
	}
	inv := NewInvokerWithProviders(log, nil)
	inv.providers[registry.KindHTTP] = NewHTTPProvider(client)
	inv.providers[registry.KindOpenAI] = NewOpenAIProvider(client)
	return inv
}

// NewInvokerWithProviders returns an invoker using exactly the given providers.
func NewInvokerWithProviders(log *slog.Logger, providers map[registry.Kind]Provider) *TimedInvoker {
	if log == nil {
		log = logger.Discard()
	}
	inv := &TimedInvoker{log: log, providers: make(map[registry.Kind]Provider, len(providers))}
	for k, p := range providers {
		inv.providers[k] = p
	}
	return inv
}

func (i *TimedInvoker) Invoke(ctx context.Context, d registry.Descriptor, query string, timeout time.Duration) (out Outcome) {
	start := time.Now()
	out.Backend = d.Name

	defer func() {
		if rec := recover(); rec != nil {
			out = Outcome{Backend: d.Name, FailureReason: fmt.Sprintf("panic: %v", rec)}
		}
		out.Latency = time.Since(start)
		if out.Failed() {
			i.log.Warn("backend call failed", "backend", d.Name, "reason", out.FailureReason, "latency_ms", out.Latency.Milliseconds())
		}
	}()

	p, ok := i.providers[d.Kind]
	if !ok {
		out.FailureReason = fmt.Sprintf("unsupported backend kind %q", d.Kind)
		return out
	}
	if timeout <= 0 {
		timeout = d.Timeout
	}
	if timeout <= 0 {
		timeout = registry.DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := p.Call(callCtx, d, query)
	if err != nil {
		out.FailureReason = failureReason(ctx, callCtx, err)
		return out
	}
	out.Text = reply.Text
	out.Tokens = reply.Tokens
	out.Cost = reply.Cost
	out.QualityScore = scoring.Score(reply.Text, query, d.Weight)
	return out
}

// failureReason distinguishes caller cancellation from the per-call deadline before falling back to err.
func failureReason(parent, call context.Context, err error) string {
	switch {
	case parent.Err() != nil:
		return ReasonCanceled
	case errors.Is(call.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return err.Error()
	}
}
