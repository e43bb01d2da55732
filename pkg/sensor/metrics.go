package sensor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decoynet_sensor_active_sessions",
		Help: "Admitted sessions currently running.",
	})
	metricConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoynet_sensor_connections_total",
		Help: "Connections handled, labelled by admission outcome.",
	}, []string{"outcome"})
	metricForcedCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decoynet_sensor_forced_closes_total",
		Help: "Connections force-closed by watchdog expiry or block enforcement.",
	})
)
