// Package metrics exposes Prometheus counters and gauges for the agent
// engine, workspace backends, and MCP gateway. It is a thin wrapper around
// client_golang so call sites don't need to know about label cardinality
// or registration order.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TurnsTotal counts completed agent turns by agent_id and outcome
	// ("done", "error", "max_iterations_exceeded").
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_agent_turns_total",
		Help: "Total agent turns, labeled by agent and outcome.",
	}, []string{"agent_id", "outcome"})

	// TurnDurationSeconds observes end-to-end turn latency.
	TurnDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loom_agent_turn_duration_seconds",
		Help:    "Agent turn duration in seconds, labeled by agent.",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent_id"})

	// ToolCallsTotal counts tool invocations by tool name and outcome.
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_tool_calls_total",
		Help: "Total tool calls, labeled by tool name and outcome (ok/error).",
	}, []string{"tool", "outcome"})

	// ContainerTransitionsTotal counts backend container lifecycle
	// transitions (idle->launching, launching->launched, ->error, stopped).
	ContainerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_container_transitions_total",
		Help: "Container lifecycle transitions, labeled by backend id and new status.",
	}, []string{"backend_id", "status"})

	// DownstreamConnected is a 0/1 gauge per MCP downstream.
	DownstreamConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loom_gateway_downstream_connected",
		Help: "Whether an MCP downstream is currently connected (1) or not (0).",
	}, []string{"downstream"})

	// DownstreamToolCount tracks how many tools a downstream currently offers.
	DownstreamToolCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loom_gateway_downstream_tool_count",
		Help: "Number of tools currently advertised by an MCP downstream.",
	}, []string{"downstream"})

	// InstancesActive tracks live per-(agent,user) instances held by the
	// agent registry, labeled by agent_id.
	InstancesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loom_agent_instances_active",
		Help: "Live per-user agent instances currently cached by the registry, labeled by agent.",
	}, []string{"agent_id"})

	// LLMRetriesTotal counts retried LLM HTTP calls (429/5xx), labeled by
	// provider ("openai", "anthropic", "proxy").
	LLMRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_llm_retries_total",
		Help: "Total retried LLM API calls, labeled by provider.",
	}, []string{"provider"})

	// TracesStored tracks the number of invoke/stream traces currently held
	// in a trace store's bounded in-memory ring.
	TracesStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loom_traces_stored",
		Help: "Number of traces currently held in memory by the trace store.",
	})

	// BackendsActive tracks live per-(agent,user) workspace backends held by
	// the backend store, labeled by agent_id.
	BackendsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loom_backends_active",
		Help: "Live per-user workspace backends currently cached by the backend store, labeled by agent.",
	}, []string{"agent_id"})
)

// Handler returns the standard Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
