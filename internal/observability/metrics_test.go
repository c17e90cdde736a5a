package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics(func() float64 { return 3 })
	_ = metrics.Jobs().Track("mail:welcome").End(nil)

	body := scrape(t, metrics)
	assert.Contains(t, body, `mowe_jobs_total{job="mail:welcome",status="success"} 1`)
	assert.Contains(t, body, "mowe_sessions_live 3")
	assert.Contains(t, body, "go_goroutines")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics(nil)

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `mowe_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `mowe_http_request_duration_seconds_bucket{route="/test"`)
}

func TestDomainCounters(t *testing.T) {
	metrics := NewMetrics(nil)
	metrics.ObserveDecision("/dashboard", "allowed")
	metrics.ObserveDecision("/dashboard", "allowed")
	metrics.ObserveSessionEvent("signed-in")
	metrics.ObserveRegistration("owner", nil)
	metrics.ObserveRegistration("player", errors.New("forbidden"))

	body := scrape(t, metrics)
	assert.Contains(t, body, `mowe_guard_decisions_total{decision="allowed",route="/dashboard"} 2`)
	assert.Contains(t, body, `mowe_session_events_total{event="signed-in"} 1`)
	assert.Contains(t, body, `mowe_registrations_total{result="created",role="owner"} 1`)
	assert.Contains(t, body, `mowe_registrations_total{result="failed",role="player"} 1`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveDecision("/x", "allowed")
	metrics.ObserveSessionEvent("signed-out")
	metrics.ObserveRegistration("owner", nil)
	assert.Nil(t, metrics.Jobs())

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, metrics.Middleware(next))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
}
