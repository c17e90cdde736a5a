package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/mowesport/mowe/internal/jobs"
)

// Metrics collects the Prometheus metrics of the dashboard BFF.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	guardDecisions  *prometheus.CounterVec
	sessionEvents   *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	liveSessions    prometheus.GaugeFunc
	jobs            *jobmetrics.Metrics
}

// NewMetrics builds the registry and the base metrics. liveSessions, when
// set, is sampled on every scrape.
func NewMetrics(liveSessions func() float64) *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mowe_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mowe_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mowe_guard_decisions_total",
		Help: "Route guard decisions by route and outcome.",
	}, []string{"route", "decision"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mowe_session_events_total",
		Help: "Session transitions published to listeners.",
	}, []string{"event"})
	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mowe_registrations_total",
		Help: "Account registrations by target role and result.",
	}, []string{"role", "result"})
	registry.MustRegister(requests, duration, decisions, events, registrations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		guardDecisions:  decisions,
		sessionEvents:   events,
		registrations:   registrations,
		jobs:            jobmetrics.NewMetrics(registry),
	}
	if liveSessions != nil {
		m.liveSessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mowe_sessions_live",
			Help: "Browser sessions held in memory.",
		}, liveSessions)
		registry.MustRegister(m.liveSessions)
	}
	return m
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency of every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveDecision counts a route guard decision. Its signature matches guard.Options.Observe.
func (m *Metrics) ObserveDecision(route, decision string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(route, decision).Inc()
}

// ObserveSessionEvent counts a session transition.
func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event).Inc()
}

// ObserveRegistration counts a registration attempt for role.
func (m *Metrics) ObserveRegistration(role string, err error) {
	if m == nil {
		return
	}
	result := "created"
	if err != nil {
		result = "failed"
	}
	m.registrations.WithLabelValues(role, result).Inc()
}

// Jobs returns the background job metrics sharing this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
