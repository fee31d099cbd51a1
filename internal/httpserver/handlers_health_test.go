package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/hat-overlay/internal/config"
)

func TestHandleLiveness(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.clock.Advance(90 * time.Second)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 90.0, body["uptime"])
}

func TestHandleReadiness(t *testing.T) {
	var calls int
	ts := newTestServer(t, func(_ *config.Config, deps *Dependencies) {
		deps.HealthChecks = []HealthCheck{
			{Name: "hat_asset", Check: func(ctx context.Context) error {
				calls++
				_, hasDeadline := ctx.Deadline()
				if !hasDeadline {
					return errors.New("no deadline")
				}
				return nil
			}},
		}
	})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeJSON(t, rec)["status"])
	assert.Equal(t, 1, calls)
}

func TestHandleReadiness_Unhealthy(t *testing.T) {
	var secondCalled bool
	ts := newTestServer(t, func(_ *config.Config, deps *Dependencies) {
		deps.HealthChecks = []HealthCheck{
			{Name: "hat_asset", Check: func(ctx context.Context) error {
				return errors.New("hat asset unavailable: upstream status 404")
			}},
			{Name: "other", Check: func(ctx context.Context) error {
				secondCalled = true
				return nil
			}},
		}
	})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "hat_asset", body["failed_check"])
	assert.Contains(t, body["error"], "404")
	assert.False(t, secondCalled)
}

func TestHandleVersion(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.VisionBackend = "ollama"
		cfg.OllamaModel = "qwen2.5vl:7b"
		cfg.GeminiAPIKey = ""
	})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, runtime.Version(), body["go"])
	assert.Equal(t, "ollama", body["vision_backend"])
	assert.Equal(t, "qwen2.5vl:7b", body["placement_model"])
	assert.Equal(t, false, body["editing_enabled"])
}
