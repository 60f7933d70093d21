package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"llm-ensemble/internal/api"
	"llm-ensemble/internal/app"
	"llm-ensemble/internal/httputil"
	"llm-ensemble/internal/queue"
)

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	if deps.Queue == nil {
		deps.Log.Error("ensemble worker requires QUEUE_PROVIDER=nats")
		os.Exit(1)
	}
	deps.Log.Info("ensemble worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// Run queue worker
	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeEnsemble, newHandler(deps))
	})

	// Run health check server
	g.Go(func() error {
		return httputil.ServeHealth(ctx, deps, "worker")
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		deps.Log.Error("ensemble worker stopped", "err", err)
	}
}

// newHandler runs one ensemble per task and publishes the result to the task's reply subject.
// Only retryable ensemble errors are returned; the queue re-enqueues those and answers with an
// error reply once attempts run out.
func newHandler(deps app.Deps) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		log := deps.Log.With("task_id", task.ID, "attempt", task.Attempts)

		var payload queue.EnsemblePayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			reply(ctx, deps, log, task, errorBody(task, "invalid payload: "+err.Error()))
			return nil
		}
		req := api.EnsembleRequest{
			Query:     payload.Query,
			Strategy:  payload.Strategy,
			TimeoutMS: payload.TimeoutMS,
			MinModels: payload.MinModels,
			UseCache:  payload.UseCache,
		}
		if err := httputil.Validator.Struct(req); err != nil {
			reply(ctx, deps, log, task, errorBody(task, "invalid request: "+err.Error()))
			return nil
		}
		strategy, err := deps.ResolveStrategy(req.Strategy)
		if err != nil {
			reply(ctx, deps, log, task, errorBody(task, err.Error()))
			return nil
		}

		res, err := deps.Ensemble.Execute(ctx, req.Query, strategy, req.Options())
		if err != nil {
			if api.Retryable(err) {
				log.Warn("ensemble failed, will retry", "err", err)
				return err
			}
			reply(ctx, deps, log, task, errorBody(task, err.Error()))
			return nil
		}

		body, err := json.Marshal(api.FromResult(res))
		if err != nil {
			return err
		}
		log.Info("ensemble job completed", "selected_backend", res.SelectedBackend, "cached", res.Cached)
		reply(ctx, deps, log, task, body)
		return nil
	}
}

func reply(ctx context.Context, deps app.Deps, log *slog.Logger, task queue.Task, body []byte) {
	if task.ReplyTo == "" {
		log.Warn("task has no reply subject, dropping result")
		return
	}
	if err := deps.Queue.Publish(ctx, task.ReplyTo, body); err != nil {
		log.Error("failed to publish reply", "reply_to", task.ReplyTo, "err", err)
	}
}

func errorBody(task queue.Task, msg string) []byte {
	body, _ := json.Marshal(queue.ErrorReply{TaskID: task.ID.String(), Error: msg})
	return body
}
