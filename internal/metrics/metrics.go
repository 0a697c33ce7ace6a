// Package metrics provides Prometheus metrics for crewflow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	ActiveRuns        prometheus.Gauge
	StepsTotal        *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	GuardrailFailures *prometheus.CounterVec
	LoopBacksTotal    *prometheus.CounterVec
	MemoryErrorsTotal *prometheus.CounterVec
	RequestsTotal     *prometheus.CounterVec
	NotifyTotal       *prometheus.CounterVec
	DBSizeBytes       prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewflow_runs_total",
				Help: "Finished project runs by final phase and failure kind.",
			},
			[]string{"phase", "kind"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crewflow_run_duration_seconds",
				Help:    "Wall time of a project run.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
		),
		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewflow_active_runs",
				Help: "Project runs currently executing.",
			},
		),
		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewflow_steps_total",
				Help: "Orchestrator steps by phase and outcome.",
			},
			[]string{"phase", "outcome"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewflow_step_duration_seconds",
				Help:    "Crew invocation plus validation time per phase.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		GuardrailFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewflow_guardrail_failures_total",
				Help: "Failed guardrail checks by layer, check and severity.",
			},
			[]string{"layer", "check", "severity"},
		),
		LoopBacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewflow_loop_backs_total",
				Help: "Routing loop-backs taken, by edge.",
			},
			[]string{"loop"},
		),
		MemoryErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewflow_memory_errors_total",
				Help: "Memory store failures swallowed at the boundary, by operation.",
			},
			[]string{"op"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewflow_http_requests_total",
				Help: "HTTP API requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		NotifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewflow_notifications_total",
				Help: "Outcome notifications by notifier and result.",
			},
			[]string{"notifier", "result"},
		),
		DBSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewflow_db_size_bytes",
				Help: "Size of the SQLite database file.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RunsTotal, m.RunDuration, m.ActiveRuns, m.StepsTotal, m.StepDuration,
		m.GuardrailFailures, m.LoopBacksTotal, m.MemoryErrorsTotal,
		m.RequestsTotal, m.NotifyTotal, m.DBSizeBytes,
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a terminal outcome.
func (m *Metrics) RunFinished(phase, kind string, seconds float64) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(phase, kind).Inc()
	m.RunDuration.Observe(seconds)
}

// RecordStep counts one orchestrator step.
func (m *Metrics) RecordStep(phase, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(phase, outcome).Inc()
	m.StepDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordGuardrailFailure counts one failed check.
func (m *Metrics) RecordGuardrailFailure(layer, check, severity string) {
	if m == nil {
		return
	}
	m.GuardrailFailures.WithLabelValues(layer, check, severity).Inc()
}

// RecordLoopBack counts a loop-back edge taken.
func (m *Metrics) RecordLoopBack(loop string) {
	if m == nil {
		return
	}
	m.LoopBacksTotal.WithLabelValues(loop).Inc()
}

// RecordMemoryError counts a swallowed memory failure.
func (m *Metrics) RecordMemoryError(op string) {
	if m == nil {
		return
	}
	m.MemoryErrorsTotal.WithLabelValues(op).Inc()
}

// RecordRequest counts an HTTP request.
func (m *Metrics) RecordRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordNotify counts a notification attempt.
func (m *Metrics) RecordNotify(notifier, result string) {
	if m == nil {
		return
	}
	m.NotifyTotal.WithLabelValues(notifier, result).Inc()
}

// SetDBSize sets the database size gauge.
func (m *Metrics) SetDBSize(bytes int64) {
	if m == nil {
		return
	}
	m.DBSizeBytes.Set(float64(bytes))
}
