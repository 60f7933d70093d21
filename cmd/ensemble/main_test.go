package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"llm-ensemble/internal/app"
	"llm-ensemble/internal/backend"
	"llm-ensemble/internal/cache"
	"llm-ensemble/internal/config"
	"llm-ensemble/internal/ensemble"
	"llm-ensemble/internal/ledger"
	"llm-ensemble/internal/queue"
	"llm-ensemble/internal/registry"
)

func newTestDeps(t *testing.T, inv backend.Invoker, q queue.Queue) app.Deps {
	t.Helper()
	reg, err := registry.New(
		registry.Descriptor{Name: "a", Endpoint: "http://a.invalid", Credential: "top-secret", Weight: 1.2, Enabled: true},
		registry.Descriptor{Name: "b", Endpoint: "http://b.invalid", Enabled: true},
	)
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	led := ledger.New()
	c := cache.NewMemory(10)
	deps := app.Deps{
		Config:   config.Config{DefaultStrategy: "quality"},
		Log:      log,
		Registry: reg,
		Ledger:   led,
		Cache:    c,
		Queue:    q,
	}
	deps.Ensemble = ensemble.New(reg, inv, led, ensemble.WithCache(c), ensemble.WithLogger(log))
	return deps
}

func answeringInvoker() *backend.MockInvoker {
	inv := new(backend.MockInvoker)
	inv.On("Invoke", mock.Anything, mock.MatchedBy(func(d registry.Descriptor) bool { return d.Name == "a" }), mock.Anything, mock.Anything).
		Return(backend.Outcome{Backend: "a", Text: "long and detailed answer", QualityScore: 0.8, Latency: 40 * time.Millisecond})
	inv.On("Invoke", mock.Anything, mock.MatchedBy(func(d registry.Descriptor) bool { return d.Name == "b" }), mock.Anything, mock.Anything).
		Return(backend.Outcome{Backend: "b", Text: "short", QualityScore: 0.3, Latency: 10 * time.Millisecond})
	return inv
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEnsembleHandler(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantStatus   int
		wantBackend  string
		wantStrategy string
	}{
		{"default strategy", `{"query":"explain go channels"}`, http.StatusOK, "a", "quality"},
		{"speed", `{"query":"explain go channels","strategy":"speed"}`, http.StatusOK, "b", "speed"},
		{"consensus", `{"query":"explain go channels","strategy":"consensus"}`, http.StatusOK, "a", "consensus"},
		{"mixed case strategy", `{"query":"explain go channels","strategy":"Speed"}`, http.StatusOK, "b", "speed"},
		{"invalid json", `{"query":`, http.StatusBadRequest, "", ""},
		{"missing query", `{"strategy":"speed"}`, http.StatusBadRequest, "", ""},
		{"unknown strategy", `{"query":"q","strategy":"loudest"}`, http.StatusBadRequest, "", ""},
		{"negative timeout", `{"query":"q","timeout_ms":-5}`, http.StatusBadRequest, "", ""},
		{"timeout beyond request limit", `{"query":"q","timeout_ms":600000}`, http.StatusBadRequest, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(newTestDeps(t, answeringInvoker(), nil))
			rec := do(t, h, http.MethodPost, "/api/ensemble", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.wantBackend, got["selected_backend"])
			assert.Equal(t, tt.wantStrategy, got["strategy"])
			assert.Equal(t, false, got["cached"])
			assert.Len(t, got["outcomes"], 2)
		})
	}
}

func TestEnsembleHandlerCaching(t *testing.T) {
	inv := answeringInvoker()
	h := newRouter(newTestDeps(t, inv, nil))

	rec := do(t, h, http.MethodPost, "/api/ensemble", `{"query":"same question"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/ensemble", `{"query":"same question"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cached": true`)
	inv.AssertNumberOfCalls(t, "Invoke", 2)

	rec = do(t, h, http.MethodPost, "/api/ensemble", `{"query":"same question","use_cache":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cached": false`)
	inv.AssertNumberOfCalls(t, "Invoke", 4)
}

func TestEnsembleHandlerFailures(t *testing.T) {
	t.Run("no enabled backends", func(t *testing.T) {
		deps := newTestDeps(t, new(backend.MockInvoker), nil)
		off := false
		deps.Registry.Update("a", registry.Patch{Enabled: &off})
		deps.Registry.Update("b", registry.Patch{Enabled: &off})

		rec := do(t, newRouter(deps), http.MethodPost, "/api/ensemble", `{"query":"q"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("insufficient responses", func(t *testing.T) {
		inv := new(backend.MockInvoker)
		inv.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(backend.Outcome{FailureReason: "HTTP 502: Bad Gateway"})
		rec := do(t, newRouter(newTestDeps(t, inv, nil)), http.MethodPost, "/api/ensemble", `{"query":"q"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "ensemble failed")
	})
}

func TestJobHandler(t *testing.T) {
	t.Run("queue not configured", func(t *testing.T) {
		rec := do(t, newRouter(newTestDeps(t, answeringInvoker(), nil)), http.MethodPost, "/api/ensemble/jobs", `{"query":"q"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("enqueued", func(t *testing.T) {
		q := new(queue.MockQueue)
		var captured queue.Task
		q.On("Enqueue", mock.Anything, mock.AnythingOfType("queue.Task")).
			Run(func(args mock.Arguments) { captured = args.Get(1).(queue.Task) }).
			Return(nil).Once()

		rec := do(t, newRouter(newTestDeps(t, answeringInvoker(), q)), http.MethodPost, "/api/ensemble/jobs", `{"query":"q","strategy":"speed","min_models":2}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var got map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, captured.ID.String(), got["job_id"])
		assert.Equal(t, queue.ReplySubject(captured.ID), got["reply_subject"])
		assert.Equal(t, queue.TaskTypeEnsemble, captured.Type)

		var payload queue.EnsemblePayload
		require.NoError(t, json.Unmarshal(captured.Payload, &payload))
		assert.Equal(t, queue.EnsemblePayload{Query: "q", Strategy: "speed", MinModels: 2}, payload)
		q.AssertExpectations(t)
	})

	t.Run("enqueue failure", func(t *testing.T) {
		q := new(queue.MockQueue)
		q.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("nats down"))

		rec := do(t, newRouter(newTestDeps(t, answeringInvoker(), q)), http.MethodPost, "/api/ensemble/jobs", `{"query":"q"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		q.AssertNumberOfCalls(t, "Enqueue", 3)
	})
}

func TestListBackendsRedactsCredentials(t *testing.T) {
	rec := do(t, newRouter(newTestDeps(t, answeringInvoker(), nil)), http.MethodGet, "/api/backends", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "top-secret")

	var got struct {
		Backends []map[string]any `json:"backends"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Backends, 2)
	assert.Equal(t, "a", got.Backends[0]["name"])
	assert.Equal(t, true, got.Backends[0]["has_credential"])
	assert.Equal(t, false, got.Backends[1]["has_credential"])
	assert.Equal(t, float64(30000), got.Backends[1]["timeout_ms"])
}

func TestPatchBackendHandler(t *testing.T) {
	deps := newTestDeps(t, answeringInvoker(), nil)
	h := newRouter(deps)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"unknown backend", "/api/backends/zzz", `{"enabled":false}`, http.StatusNotFound},
		{"non-positive weight", "/api/backends/a", `{"weight":0}`, http.StatusBadRequest},
		{"negative timeout", "/api/backends/a", `{"timeout_ms":-1}`, http.StatusBadRequest},
		{"disable and reweight", "/api/backends/a", `{"enabled":false,"weight":2.5,"timeout_ms":1500}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPatch, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	d, ok := deps.Registry.Get("a")
	require.True(t, ok)
	assert.False(t, d.Enabled)
	assert.Equal(t, 2.5, d.Weight)
	assert.Equal(t, 1500*time.Millisecond, d.Timeout)
}

func TestStatsHandlers(t *testing.T) {
	deps := newTestDeps(t, answeringInvoker(), nil)
	h := newRouter(deps)

	rec := do(t, h, http.MethodPost, "/api/ensemble", `{"query":"q","use_cache":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Stats []struct {
			Backend      string  `json:"backend"`
			Attempts     int     `json:"attempts"`
			SuccessRate  float64 `json:"success_rate"`
			AvgLatencyMS float64 `json:"avg_latency_ms"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Stats, 2)
	assert.Equal(t, "a", got.Stats[0].Backend)
	assert.Equal(t, 1, got.Stats[0].Attempts)
	assert.Equal(t, 1.0, got.Stats[0].SuccessRate)
	assert.InDelta(t, 40.0, got.Stats[0].AvgLatencyMS, 1e-9)

	rec = do(t, h, http.MethodDelete, "/api/stats", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, deps.Ledger.Report())
}

func TestCacheHandlers(t *testing.T) {
	deps := newTestDeps(t, answeringInvoker(), nil)
	h := newRouter(deps)

	do(t, h, http.MethodPost, "/api/ensemble", `{"query":"q"}`)
	do(t, h, http.MethodPost, "/api/ensemble", `{"query":"q"}`)

	rec := do(t, h, http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats cache.Stats
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&stats))
	assert.Equal(t, cache.Stats{Entries: 1, Capacity: 10, Hits: 1, Misses: 1}, stats)

	rec = do(t, h, http.MethodDelete, "/api/cache", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/cache/stats", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Entries)
}

func TestCacheHandlersSurfaceErrors(t *testing.T) {
	deps := newTestDeps(t, answeringInvoker(), nil)
	mc := new(cache.MockCache)
	mc.On("Stats", mock.Anything).Return(cache.Stats{}, errors.New("redis down"))
	mc.On("Clear", mock.Anything).Return(errors.New("redis down"))
	deps.Cache = mc
	h := newRouter(deps)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/cache/stats", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodDelete, "/api/cache", "").Code)
}

func TestHealthz(t *testing.T) {
	rec := do(t, newRouter(newTestDeps(t, answeringInvoker(), nil)), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
