package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"llm-ensemble/internal/api"
	"llm-ensemble/internal/app"
	"llm-ensemble/internal/httputil"
	"llm-ensemble/internal/queue"
)

// maxBodyBytes bounds request bodies; queries are text only.
const maxBodyBytes = 1 << 20

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	r := newRouter(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Port)
	deps.Log.Info("ensemble service listening", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		deps.Log.Error("server failed", "err", err)
	}
}

func newRouter(deps app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log)

	r.Post("/api/ensemble", ensembleHandler(deps))
	r.Post("/api/ensemble/jobs", jobHandler(deps))
	r.Get("/api/backends", listBackendsHandler(deps))
	r.Patch("/api/backends/{name}", patchBackendHandler(deps))
	r.Get("/api/stats", statsHandler(deps))
	r.Delete("/api/stats", resetStatsHandler(deps))
	r.Get("/api/cache/stats", cacheStatsHandler(deps))
	r.Delete("/api/cache", clearCacheHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps))

	return r
}

// decode reads and validates a JSON body, writing the error response itself when it fails.
func decode(deps app.Deps, w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
		return false
	}
	if err := httputil.Validator.Struct(dst); err != nil {
		httputil.ValidationError(deps.Log, w, err)
		return false
	}
	return true
}

func ensembleHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.EnsembleRequest
		if !decode(deps, w, r, &req) {
			return
		}

		strategy, err := deps.ResolveStrategy(req.Strategy)
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid strategy", err, http.StatusBadRequest)
			return
		}

		res, err := deps.Ensemble.Execute(r.Context(), req.Query, strategy, req.Options())
		if err != nil {
			httputil.Fail(deps.Log, w, "ensemble failed", err, api.StatusFor(err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, api.FromResult(res))
	}
}

func jobHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Queue == nil {
			httputil.Fail(deps.Log, w, "job queue not configured", nil, http.StatusServiceUnavailable)
			return
		}
		var req api.EnsembleRequest
		if !decode(deps, w, r, &req) {
			return
		}

		payload, err := json.Marshal(queue.EnsemblePayload{
			Query:     req.Query,
			Strategy:  req.Strategy,
			TimeoutMS: req.TimeoutMS,
			MinModels: req.MinModels,
			UseCache:  req.UseCache,
		})
		if err != nil {
			httputil.Fail(deps.Log, w, "marshal payload failed", err, http.StatusInternalServerError)
			return
		}
		id := uuid.New()
		task := queue.Task{
			ID:      id,
			Type:    queue.TaskTypeEnsemble,
			Payload: payload,
			ReplyTo: queue.ReplySubject(id),
		}
		if err := queue.EnqueueWithRetry(r.Context(), deps.Queue, task, 3, 200*time.Millisecond); err != nil {
			httputil.Fail(deps.Log, w, "failed to enqueue job; please retry", err, http.StatusServiceUnavailable)
			return
		}

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"job_id":        id.String(),
			"reply_subject": task.ReplyTo,
		})
	}
}

func listBackendsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"backends": api.FromDescriptors(deps.Registry.List()),
		})
	}
}

func patchBackendHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		var req api.BackendPatch
		if !decode(deps, w, r, &req) {
			return
		}
		if !deps.Registry.Update(name, req.Patch()) {
			httputil.Fail(deps.Log, w, "backend not found", fmt.Errorf("unknown backend %q", name), http.StatusNotFound)
			return
		}
		d, _ := deps.Registry.Get(name)
		deps.Log.Info("backend updated", "backend", name, "enabled", d.Enabled, "weight", d.Weight, "timeout", d.Timeout)
		httputil.WriteJSON(w, http.StatusOK, api.FromDescriptor(d))
	}
}

func statsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"stats": api.FromStats(deps.Ledger.Report()),
		})
	}
}

func resetStatsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Ledger.Reset()
		w.WriteHeader(http.StatusNoContent)
	}
}

func cacheStatsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Cache.Stats(r.Context())
		if err != nil {
			httputil.Fail(deps.Log, w, "cache unavailable", err, http.StatusServiceUnavailable)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, stats)
	}
}

func clearCacheHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Cache.Clear(r.Context()); err != nil {
			httputil.Fail(deps.Log, w, "cache unavailable", err, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
