package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-ensemble/internal/api"
	"llm-ensemble/internal/app"
	"llm-ensemble/internal/logger"
	"llm-ensemble/internal/registry"
)

func TestFail(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantStatus int
		wantDetail bool
	}{
		{"client error includes detail", http.StatusBadRequest, errors.New("bad json"), http.StatusBadRequest, true},
		{"server error hides detail", http.StatusServiceUnavailable, errors.New("dial tcp"), http.StatusServiceUnavailable, false},
		{"zero status means 500", 0, nil, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Fail(logger.Discard(), rec, "something failed", tt.err, tt.status)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "something failed", body["error"])
			_, hasDetail := body["detail"]
			assert.Equal(t, tt.wantDetail, hasDetail)
		})
	}
}

func TestValidationError(t *testing.T) {
	type request struct {
		Query string `json:"query" validate:"required"`
		Limit int    `json:"limit" validate:"omitempty,max=5"`
	}
	err := Validator.Struct(request{Limit: 9})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	ValidationError(logger.Discard(), rec, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation failed", body.Error)
	assert.Equal(t, map[string]string{"Query": "required", "Limit": "max"}, body.Fields)
}

func TestEnsembleRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     api.EnsembleRequest
		wantTag string
	}{
		{name: "defaults", req: api.EnsembleRequest{Query: "q"}},
		{name: "lower case strategy", req: api.EnsembleRequest{Query: "q", Strategy: "speed"}},
		{name: "mixed case strategy", req: api.EnsembleRequest{Query: "q", Strategy: "Consensus"}},
		{name: "padded strategy", req: api.EnsembleRequest{Query: "q", Strategy: " QUALITY "}},
		{name: "unknown strategy", req: api.EnsembleRequest{Query: "q", Strategy: "loudest"}, wantTag: "strategy"},
		{name: "largest timeout", req: api.EnsembleRequest{Query: "q", TimeoutMS: api.MaxTimeoutMS}},
		{name: "timeout over limit", req: api.EnsembleRequest{Query: "q", TimeoutMS: api.MaxTimeoutMS + 1}, wantTag: "max"},
		{name: "missing query", req: api.EnsembleRequest{}, wantTag: "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validator.Struct(tt.req)
			if tt.wantTag == "" {
				assert.NoError(t, err)
				return
			}
			var verrs validator.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.wantTag, verrs[0].Tag())
		})
	}
}

func TestTimeoutLimitFitsRequestTimeout(t *testing.T) {
	assert.Less(t, time.Duration(api.MaxTimeoutMS)*time.Millisecond, RequestTimeout)
}

func TestHealthHandler(t *testing.T) {
	reg, err := registry.New(registry.Descriptor{Name: "a", Endpoint: "http://a.invalid", Enabled: true})
	require.NoError(t, err)
	deps := app.Deps{Log: logger.Discard(), Registry: reg}

	r := NewRouter(deps.Log)
	r.Get("/healthz", HealthHandler(deps))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","backends_enabled":1}`, rec.Body.String())

	off := false
	reg.Update("a", registry.Patch{Enabled: &off})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","backends_enabled":0}`, rec.Body.String())
}

func TestRecoverer(t *testing.T) {
	r := NewRouter(logger.Discard())
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
