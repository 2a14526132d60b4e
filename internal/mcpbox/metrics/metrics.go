// Package metrics provides Prometheus metrics for the MCPbox gateway
// (RED metrics for the MCP surface, sandbox reliability, and auth).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mcpbox"

var (
	// MCPRequestsTotal counts inbound JSON-RPC requests by method and outcome.
	MCPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mcp_requests_total",
			Help:      "Total number of MCP JSON-RPC requests by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	// MCPRequestDurationSeconds is request latency by method.
	MCPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mcp_request_duration_seconds",
			Help:      "MCP JSON-RPC request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		},
		[]string{"method"},
	)

	// ToolCallsTotal counts tools/call invocations by tool name and outcome.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls by tool name and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	// ToolCallDurationSeconds is tool execution latency.
	ToolCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds, as reported by the sandbox.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"tool"},
	)

	// SandboxRequestsTotal counts outbound sandbox RPCs by operation and outcome.
	SandboxRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_requests_total",
			Help:      "Total number of sandbox RPC calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// SandboxRequestDurationSeconds is sandbox RPC latency by operation.
	SandboxRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sandbox_request_duration_seconds",
			Help:      "Sandbox RPC call duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	// SandboxRetriesTotal counts retry attempts made by the sandbox client's retryAsync.
	SandboxRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_retries_total",
			Help:      "Total number of sandbox RPC retry attempts by operation.",
		},
		[]string{"operation"},
	)

	// CircuitBreakerState tracks current circuit breaker state
	// (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current sandbox circuit breaker state (0=closed, 1=open, 2=half-open).",
		},
	)

	// CircuitBreakerTransitionsTotal counts circuit breaker state transitions.
	CircuitBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of sandbox circuit breaker state transitions.",
		},
		[]string{"from_state", "to_state"},
	)

	// AuthFailuresTotal counts rejected auth attempts by reason.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of rejected authentication attempts by reason.",
		},
		[]string{"reason"},
	)

	// SSEConnectionsActive is the current number of open SSE gateway streams.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_connections_active",
			Help:      "Number of active SSE gateway stream connections.",
		},
	)

	// ActivityLogFlushTotal counts activity logger batch flushes by outcome.
	ActivityLogFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_log_flush_total",
			Help:      "Total number of activity log batch flushes by outcome.",
		},
		[]string{"outcome"},
	)

	// PendingApprovalsGauge tracks the current size of each approval queue.
	PendingApprovalsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_approvals",
			Help:      "Current number of pending approval requests by kind.",
		},
		[]string{"kind"}, // kind: tool, module, network
	)
)
