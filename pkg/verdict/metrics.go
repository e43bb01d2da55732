package verdict

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decoynet",
		Subsystem: "verdict",
		Name:      "evaluations_total",
		Help:      "Resolved verdicts by classification.",
	}, []string{"classification"})

	metricFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "decoynet",
		Subsystem: "verdict",
		Name:      "fail_open_total",
		Help:      "Evaluations that fell back to ALLOW because the oracle failed or missed the deadline.",
	})

	metricLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "decoynet",
		Subsystem: "verdict",
		Name:      "latency_seconds",
		Help:      "Oracle round-trip latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 5.5, 8},
	})
)
