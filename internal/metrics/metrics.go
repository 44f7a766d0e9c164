// Package metrics provides Prometheus collectors for scheduler activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cadence"

var (
	// DispatchedTotal counts queue dispatch attempts.
	// Labels: phase, result (submitted, no_engine, error)
	DispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dispatched_total",
			Help:      "Total number of work units dispatched from phase queues",
		},
		[]string{"phase", "result"},
	)

	// QueueDepth tracks queued units per phase.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of work units waiting in each phase queue",
		},
		[]string{"phase"},
	)

	// WorkFinishedTotal counts work units reaching a terminal status.
	// Labels: outcome (completed, failed), category
	WorkFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "work",
			Name:      "finished_total",
			Help:      "Total number of work units that finished, by outcome",
		},
		[]string{"outcome", "category"},
	)

	// WorkDuration observes actual run time of finished units.
	WorkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "work",
			Name:      "duration_seconds",
			Help:      "Run time of finished work units in seconds",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	// OracleFallbacksTotal counts deterministic fallbacks around the oracle.
	// Labels: kind (decide, plan)
	OracleFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "oracle_fallbacks_total",
			Help:      "Total number of times the oracle failed and a fallback was used",
		},
		[]string{"kind"},
	)

	// PlanRunsTotal counts day planning attempts.
	// Labels: result (planned, skipped_same_day, skipped_budget, empty, error)
	PlanRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "plan_runs_total",
			Help:      "Total number of day planning attempts by result",
		},
		[]string{"result"},
	)

	// CurrentPhase is 1 for the active day phase and 0 for the others.
	CurrentPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dayphase",
			Name:      "current",
			Help:      "Current day phase (1=active)",
		},
		[]string{"phase"},
	)
)

// SetCurrentPhase marks phase active and every other known phase inactive.
func SetCurrentPhase(phase string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		CurrentPhase.WithLabelValues(p).Set(v)
	}
}
