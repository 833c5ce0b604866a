package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/engine"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/http/handlers"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/observability/metrics"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

type staticStats []engine.Stats

func (s staticStats) Stats(context.Context) []engine.Stats { return s }

func newTestRouter(t *testing.T, secret string) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewSchedulerMetrics(reg)
	m.ObserveEvent("patient_arrival", "applied")

	logger := logging.Discard()
	return New(&Config{
		Logger:          logger,
		Health:          handlers.NewHealthHandler(nil, logger),
		Processors:      handlers.NewProcessorsHandler(staticStats{{DoctorID: "doc-1", Day: "2026-03-10"}}),
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AdminAuthSecret: secret,
	})
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterPublicEndpoints(t *testing.T) {
	r := newTestRouter(t, "secret")

	assert.Equal(t, http.StatusOK, get(t, r, "/health", "").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/ready", "").Code)

	rec := get(t, r, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scheduler_engine_events_total")
}

func TestRouterAdminRequiresToken(t *testing.T) {
	r := newTestRouter(t, "secret")
	assert.Equal(t, http.StatusUnauthorized, get(t, r, "/admin/processors", "").Code)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	rec := get(t, r, "/admin/processors", signed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"doctor_id":"doc-1"`)
}

func TestRouterAdminNotMountedWithoutSecret(t *testing.T) {
	r := newTestRouter(t, "")
	assert.Equal(t, http.StatusNotFound, get(t, r, "/admin/processors", "").Code)
}

func TestRouterRejectsSchedulingWrites(t *testing.T) {
	r := newTestRouter(t, "secret")
	req := httptest.NewRequest(http.MethodPost, "/admin/processors", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
