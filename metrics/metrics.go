// Package metrics holds the Prometheus collectors of the gym. They register
// with the default registry, which the env server exposes on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Episodes counts finished episodes by result
	Episodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuzzgym_episodes_total",
		Help: "Finished episodes by result",
	}, []string{"result"})

	// Steps counts decisions sent to targets
	Steps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fuzzgym_steps_total",
		Help: "Decisions sent to targets",
	})

	// StepDuration is the time from sending a decision to the end of the turn
	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fuzzgym_step_duration_seconds",
		Help:    "Time from sending a decision to the end of the turn",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
	})

	// Faults counts protocol faults by kind
	Faults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuzzgym_faults_total",
		Help: "Protocol faults by kind",
	}, []string{"kind"})

	// States is the number of signatures known to the state ledger
	States = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fuzzgym_states",
		Help: "Signatures known to the state ledger",
	})

	// Coverage is the coverage reached by the latest turn
	Coverage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fuzzgym_coverage",
		Help: "Coverage reached by the latest turn",
	})
)
