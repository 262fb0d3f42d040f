package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements the engine's Metrics port using Prometheus.
type Recorder struct {
	evaluations *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	openSignals prometheus.Gauge
	confidence  prometheus.Histogram
	transitions *prometheus.CounterVec
	retrains    *prometheus.CounterVec
	retrainDur  prometheus.Histogram
	droppedTick *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New creates a recorder on the default registry.
func New() *Recorder { return NewWith(prometheus.DefaultRegisterer) }

// NewWith creates a recorder on reg. Tests pass a fresh registry.
func NewWith(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calibra_evaluations_total",
				Help: "Signal evaluations by verdict and reason code",
			},
			[]string{"accepted", "reason"},
		),
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calibra_outcomes_total",
				Help: "Resolved signals by result and pattern",
			},
			[]string{"result", "pattern"},
		),
		openSignals: f.NewGauge(prometheus.GaugeOpts{
			Name: "calibra_open_signals",
			Help: "Signals currently tracked by the outcome monitor",
		}),
		confidence: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "calibra_calibrated_confidence",
			Help:    "Calibrated confidence of accepted signals",
			Buckets: prometheus.LinearBuckets(85, 1, 11),
		}),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calibra_lifecycle_transitions_total",
				Help: "Pattern lifecycle transitions",
			},
			[]string{"from", "to"},
		),
		retrains: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calibra_retrains_total",
				Help: "Retrain runs by status",
			},
			[]string{"status"},
		),
		retrainDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "calibra_retrain_duration_seconds",
			Help:    "Duration of retrain runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		droppedTick: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calibra_dropped_ticks_total",
				Help: "Ticks dropped before reaching the engine",
			},
			[]string{"reason"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "calibra_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordEvaluation(accepted bool, reason string) {
	v := "false"
	if accepted {
		v = "true"
	}
	r.evaluations.WithLabelValues(v, reason).Inc()
}

func (r *Recorder) RecordOutcome(result, pattern string) {
	r.outcomes.WithLabelValues(result, pattern).Inc()
}

func (r *Recorder) SetOpenSignals(n int) { r.openSignals.Set(float64(n)) }

func (r *Recorder) ObserveConfidence(v float64) { r.confidence.Observe(v) }

func (r *Recorder) RecordTransition(from, to string) {
	r.transitions.WithLabelValues(from, to).Inc()
}

// RecordRetrain counts a retrain run and observes its duration.
func (r *Recorder) RecordRetrain(status string, d time.Duration) {
	r.retrains.WithLabelValues(status).Inc()
	r.retrainDur.Observe(d.Seconds())
}

func (r *Recorder) RecordDroppedTick(reason string) {
	r.droppedTick.WithLabelValues(reason).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
