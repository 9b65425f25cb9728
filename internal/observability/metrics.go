// Package observability holds the prometheus registry, the HTTP metrics
// middleware, and the inventory domain counters.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	movementsTotal    *prometheus.CounterVec
	sequenceConflicts prometheus.Counter
	auditsApproved    prometheus.Counter
	summaryDrift      prometheus.Counter
}

// NewMetrics initialises the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hybits_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hybits_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hybits_movements_recorded_total",
		Help: "Durable stock movements by category.",
	}, []string{"category"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hybits_sequence_conflicts_total",
		Help: "Retried sequence-generator contention events.",
	})
	approved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hybits_audits_approved_total",
		Help: "Stock audits that reached the approved state.",
	})
	drift := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hybits_summary_drift_total",
		Help: "Stock summaries found diverging from ledger aggregation.",
	})
	registry.MustRegister(requests, duration, movements, conflicts, approved, drift)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		movementsTotal:    movements,
		sequenceConflicts: conflicts,
		auditsApproved:    approved,
		summaryDrift:      drift,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration per chi route.
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

// MovementRecorded counts one durable ledger write.
func (m *Metrics) MovementRecorded(category string) {
	if m == nil {
		return
	}
	m.movementsTotal.WithLabelValues(category).Inc()
}

// SequenceConflict counts one retried counter-contention event.
func (m *Metrics) SequenceConflict() {
	if m == nil {
		return
	}
	m.sequenceConflicts.Inc()
}

// AuditApproved counts one audit reaching the approved state.
func (m *Metrics) AuditApproved() {
	if m == nil {
		return
	}
	m.auditsApproved.Inc()
}

// SummaryDrift counts one stored summary that disagreed with the ledger.
func (m *Metrics) SummaryDrift() {
	if m == nil {
		return
	}
	m.summaryDrift.Inc()
}

// Registerer exposes the registry for module-specific metrics.
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
