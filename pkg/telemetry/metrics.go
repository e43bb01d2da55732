package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decoynet",
		Subsystem: "telemetry",
		Name:      "events_enqueued_total",
		Help:      "Events accepted into the telemetry queue.",
	}, []string{"kind"})

	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "decoynet",
		Subsystem: "telemetry",
		Name:      "events_dropped_total",
		Help:      "Events dropped because the telemetry queue was full.",
	}, []string{"kind"})

	metricForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "decoynet",
		Subsystem: "telemetry",
		Name:      "events_forwarded_total",
		Help:      "Events successfully forwarded to the control plane.",
	})

	metricForwardFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "decoynet",
		Subsystem: "telemetry",
		Name:      "forward_failures_total",
		Help:      "Batches that failed to reach the control plane.",
	})

	metricSpoolDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "decoynet",
		Subsystem: "telemetry",
		Name:      "spool_batches_dropped_total",
		Help:      "Oldest spool batches discarded to respect the spool bound.",
	})
)
