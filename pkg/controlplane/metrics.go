package controlplane

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoynet_control_events_ingested_total",
		Help: "Events accepted by the ingest endpoint.",
	}, []string{"kind"})

	metricBlocklistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decoynet_control_blocklist_size",
		Help: "Entries in the global blocklist.",
	})

	metricEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoynet_control_evaluations_total",
		Help: "Verdict evaluations proxied to the oracle.",
	}, []string{"outcome"})

	metricWSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decoynet_control_ws_clients",
		Help: "Connected live event feed clients.",
	})
)
