// Package metrics provides Prometheus metrics for the conversation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusUnknown  = "unknown_tool"
	StatusFallback = "fallback"
)

var (
	// ChatRequests counts driver runs by outcome.
	ChatRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphbot",
			Subsystem: "engine",
			Name:      "chat_requests_total",
			Help:      "Total number of chat requests by outcome",
		},
		[]string{"status"}, // "ok", "fallback", "error"
	)

	// ChatDuration tracks end-to-end graph execution time.
	ChatDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "graphbot",
			Subsystem: "engine",
			Name:      "chat_duration_seconds",
			Help:      "Graph execution duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	// NodeExecutions counts node executor runs.
	NodeExecutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "graphbot",
			Subsystem: "engine",
			Name:      "node_executions_total",
			Help:      "Total number of graph node executions",
		},
	)

	// TurnIterations tracks how many model turns a node needed.
	TurnIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "graphbot",
			Subsystem: "engine",
			Name:      "turn_iterations",
			Help:      "Model invocations per node execution",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		},
	)

	// ModelErrors counts failed or empty model responses.
	ModelErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphbot",
			Subsystem: "engine",
			Name:      "model_errors_total",
			Help:      "Total number of failed model invocations",
		},
		[]string{"stage"}, // "turn", "routing"
	)

	// ToolCalls counts tool invocations by tool and status.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphbot",
			Subsystem: "engine",
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	// ToolLatency tracks tool call duration.
	ToolLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "graphbot",
			Subsystem: "engine",
			Name:      "tool_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// ParserMatches counts which parser strategy produced tool calls.
	ParserMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphbot",
			Subsystem: "engine",
			Name:      "parser_matches_total",
			Help:      "Tool calls extracted from model text, by parser strategy",
		},
		[]string{"strategy"},
	)

	// RoutingDecisions counts transition selections by condition type.
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphbot",
			Subsystem: "engine",
			Name:      "routing_decisions_total",
			Help:      "Transition selections by matched condition type",
		},
		[]string{"condition"}, // "always", "keyword", "llm_routing", "llm_fallback", "end"
	)

	// TokenCostUSD accumulates priced model usage.
	TokenCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphbot",
			Subsystem: "engine",
			Name:      "token_cost_usd_total",
			Help:      "Priced model token usage in USD",
		},
		[]string{"model"},
	)
)
