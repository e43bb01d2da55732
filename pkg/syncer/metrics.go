package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPullFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "decoynet",
		Subsystem: "syncer",
		Name:      "pull_failures_total",
		Help:      "Blocklist pulls that failed and triggered backoff.",
	})

	metricAppliedVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "decoynet",
		Subsystem: "syncer",
		Name:      "blocklist_version",
		Help:      "Version of the last applied global blocklist.",
	})
)
