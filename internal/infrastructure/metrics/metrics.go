// Package metrics defines the pipeline's instrumentation contract and its
// Prometheus-backed implementation. Components depend on the Recorder
// interface; the Prometheus types stay confined to this package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives pipeline events. A nop implementation is injected when
// metrics are disabled or in tests.
type Recorder interface {
	// RecordGroup records one processed prediction group: its size, whether
	// the per-item fallback path was taken, and the wall time in seconds.
	RecordGroup(size int, fallback bool, durationSec float64)

	// RecordOutcome records one per-item outcome, status ∈ {"success","failed"}.
	RecordOutcome(status string)

	// RecordCorrection records one pose correction; aligned is false when the
	// rigid-alignment step was skipped because the decomposition degenerated.
	RecordCorrection(aligned bool)

	// RecordConfidenceFallback records one confidence computation that fell
	// back to the neutral score.
	RecordConfidenceFallback()
}

// DefaultInferenceBuckets cover model calls from milliseconds (mock backends)
// to minutes (large groups on CPU).
var DefaultInferenceBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// PrometheusRecorder implements Recorder on a Prometheus registry.
type PrometheusRecorder struct {
	groupsTotal         *prometheus.CounterVec
	groupSize           prometheus.Histogram
	groupDuration       prometheus.Histogram
	outcomesTotal       *prometheus.CounterVec
	correctionsTotal    *prometheus.CounterVec
	confidenceFallbacks prometheus.Counter
}

// NewPrometheusRecorder registers the pipeline collectors on reg and returns
// the recorder. Pass prometheus.DefaultRegisterer for process-wide exposure
// or a fresh registry in tests.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		groupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dockscreen",
			Name:      "groups_total",
			Help:      "Prediction groups processed, labelled by execution path.",
		}, []string{"path"}), // "batch" | "fallback"
		groupSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dockscreen",
			Name:      "group_size",
			Help:      "Number of ligands per prediction group.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		groupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dockscreen",
			Name:      "group_duration_seconds",
			Help:      "Wall time spent processing one prediction group.",
			Buckets:   DefaultInferenceBuckets,
		}),
		outcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dockscreen",
			Name:      "outcomes_total",
			Help:      "Per-item outcomes, labelled by status.",
		}, []string{"status"}),
		correctionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dockscreen",
			Name:      "corrections_total",
			Help:      "Pose corrections, labelled by whether rigid alignment was applied.",
		}, []string{"aligned"}),
		confidenceFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dockscreen",
			Name:      "confidence_fallbacks_total",
			Help:      "Confidence computations that returned the neutral score.",
		}),
	}
}

func (r *PrometheusRecorder) RecordGroup(size int, fallback bool, durationSec float64) {
	path := "batch"
	if fallback {
		path = "fallback"
	}
	r.groupsTotal.WithLabelValues(path).Inc()
	r.groupSize.Observe(float64(size))
	r.groupDuration.Observe(durationSec)
}

func (r *PrometheusRecorder) RecordOutcome(status string) {
	r.outcomesTotal.WithLabelValues(status).Inc()
}

func (r *PrometheusRecorder) RecordCorrection(aligned bool) {
	label := "true"
	if !aligned {
		label = "false"
	}
	r.correctionsTotal.WithLabelValues(label).Inc()
}

func (r *PrometheusRecorder) RecordConfidenceFallback() {
	r.confidenceFallbacks.Inc()
}

type nopRecorder struct{}

func (nopRecorder) RecordGroup(int, bool, float64) {}
func (nopRecorder) RecordOutcome(string)           {}
func (nopRecorder) RecordCorrection(bool)          {}
func (nopRecorder) RecordConfidenceFallback()      {}

// NewNopRecorder returns a Recorder that discards every event.
func NewNopRecorder() Recorder { return nopRecorder{} }
