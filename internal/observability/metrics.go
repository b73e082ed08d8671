package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the API and the worker.
// Every method is safe on a nil receiver.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	changeRequests   *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	allocatedAmount  *prometheus.CounterVec
	unappliedAmount  *prometheus.CounterVec
	integrityIssues  prometheus.Gauge
	jobsTotal        *prometheus.CounterVec
	statementLookups *prometheus.CounterVec
}

// NewMetrics initialises the registry and every metric.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uvr_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "uvr_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	changeRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uvr_change_requests_total",
		Help: "Change requests submitted by target type and action.",
	}, []string{"target", "action"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uvr_change_request_decisions_total",
		Help: "Change request decisions by target type, decision and outcome.",
	}, []string{"target", "decision", "outcome"})
	allocated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uvr_allocated_amount_total",
		Help: "Money applied to invoices by cash-flow allocation.",
	}, []string{"direction"})
	unapplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uvr_unapplied_amount_total",
		Help: "Cash-flow money left unapplied after allocation.",
	}, []string{"direction"})
	integrity := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "uvr_ledger_integrity_violations",
		Help: "Invoices violating settlement invariants at the last integrity check.",
	})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uvr_jobs_total",
		Help: "Background job runs by task and status.",
	}, []string{"task", "status"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uvr_statement_cache_lookups_total",
		Help: "Statement cache lookups by result.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, changeRequests, decisions, allocated, unapplied, integrity, jobs, lookups)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		changeRequests:   changeRequests,
		decisions:        decisions,
		allocatedAmount:  allocated,
		unappliedAmount:  unapplied,
		integrityIssues:  integrity,
		jobsTotal:        jobs,
		statementLookups: lookups,
	}
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

// Middleware records metrics for every HTTP request.
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

// ObserveSubmission counts a submitted change request.
func (m *Metrics) ObserveSubmission(target, action string) {
	if m == nil {
		return
	}
	m.changeRequests.WithLabelValues(target, action).Inc()
}

// ObserveDecision counts an approve or reject attempt. outcome is "ok" or "failed".
func (m *Metrics) ObserveDecision(target, decision, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(target, decision, outcome).Inc()
}

// ObserveAllocation records the applied and unapplied parts of an allocation.
func (m *Metrics) ObserveAllocation(direction string, applied, unapplied float64) {
	if m == nil {
		return
	}
	m.allocatedAmount.WithLabelValues(direction).Add(applied)
	m.unappliedAmount.WithLabelValues(direction).Add(unapplied)
}

// SetIntegrityViolations publishes the result of the last integrity check.
func (m *Metrics) SetIntegrityViolations(n int) {
	if m == nil {
		return
	}
	m.integrityIssues.Set(float64(n))
}

// ObserveJob counts a background job run.
func (m *Metrics) ObserveJob(task, status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(task, status).Inc()
}

// ObserveStatementCache counts a statement cache hit or miss.
func (m *Metrics) ObserveStatementCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.statementLookups.WithLabelValues(result).Inc()
}

// Registerer exposes the registry for custom metrics.
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
