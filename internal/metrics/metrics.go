// Package metrics holds the Prometheus instrumentation exported by the
// server and the worker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the platform exports. Construct exactly one
// per process; recording on a nil *Metrics is a no-op so unit tests stay
// away from the global registry.
type Metrics struct {
	// Decision path
	DecisionTotal    *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
	FraudScore       prometheus.Histogram

	// Job pipeline
	JobTotal    *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	QueueDepth  *prometheus.GaugeVec

	// Blacklist data plane
	MaterializeDuration prometheus.Histogram
	MaterializedRules   *prometheus.GaugeVec

	// IP intelligence
	IntelRequests *prometheus.CounterVec
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		DecisionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoguard_decisions_total",
				Help: "Decisions by outcome and blocking layer",
			},
			[]string{"decision", "layer"}, // layer: L1..L5, TIMEOUT, none
		),

		DecisionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autoguard_decision_duration_seconds",
				Help:    "End-to-end decision latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"decision"},
		),

		FraudScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autoguard_fraud_score",
				Help:    "Fraud score distribution across decisions",
				Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),

		JobTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoguard_jobs_total",
				Help: "Job executions by queue and outcome",
			},
			[]string{"queue", "outcome"}, // outcome: ok, retry, dead
		),

		JobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autoguard_job_duration_seconds",
				Help:    "Job handler execution time",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"queue"},
		),

		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "autoguard_queue_depth",
				Help: "Number of jobs per queue and state",
			},
			[]string{"queue", "state"}, // state: main, processing, delayed, dead
		),

		MaterializeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autoguard_materialize_duration_seconds",
				Help:    "Duration of a full blacklist refresh",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),

		MaterializedRules: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "autoguard_materialized_rules",
				Help: "Rules written to the fast store on the last refresh",
			},
			[]string{"family"},
		),

		IntelRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autoguard_intel_requests_total",
				Help: "IP-intelligence lookups by outcome",
			},
			[]string{"outcome"}, // outcome: ok, error, timeout, breaker_open
		),
	}
}

// RecordDecision records one decision with its blocking layer ("" = clean
// money path) and latency.
func (m *Metrics) RecordDecision(decision, layer string, score int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if layer == "" {
		layer = "none"
	}
	m.DecisionTotal.WithLabelValues(decision, layer).Inc()
	m.DecisionDuration.WithLabelValues(decision).Observe(elapsed.Seconds())
	m.FraudScore.Observe(float64(score))
}

// RecordJob records one handler run.
func (m *Metrics) RecordJob(queue, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobTotal.WithLabelValues(queue, outcome).Inc()
	m.JobDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// SetQueueDepth publishes the current length of one queue state.
func (m *Metrics) SetQueueDepth(queue, state string, depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue, state).Set(float64(depth))
}

// RecordMaterialize records a full-refresh run and its per-family counts.
func (m *Metrics) RecordMaterialize(elapsed time.Duration, counts map[string]int) {
	if m == nil {
		return
	}
	m.MaterializeDuration.Observe(elapsed.Seconds())
	for family, n := range counts {
		m.MaterializedRules.WithLabelValues(family).Set(float64(n))
	}
}

// RecordIntel records one lookup outcome.
func (m *Metrics) RecordIntel(outcome string) {
	if m == nil {
		return
	}
	m.IntelRequests.WithLabelValues(outcome).Inc()
}
