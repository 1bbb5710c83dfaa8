package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// downstreamConnected is a 0/1 gauge per MCP downstream, flipped on every
	// discovery pass (initial DiscoverAll, AddDownstream, or health loop tick).
	downstreamConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loomgate_downstream_connected",
		Help: "Whether an MCP downstream is currently connected (1) or not (0).",
	}, []string{"downstream"})

	// downstreamToolCount tracks how many tools a downstream currently offers.
	downstreamToolCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loomgate_downstream_tool_count",
		Help: "Number of tools currently advertised by an MCP downstream.",
	}, []string{"downstream"})
)

// metricsHandler returns the standard Prometheus scrape handler for /metrics.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
