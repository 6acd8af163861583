// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the steward host.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ToolBuckets defines histogram buckets suited for tool call latencies,
// ranging from 10ms to 60s.
var ToolBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}

// ApprovalBuckets covers the human timescale of interactive approvals,
// from near-instant UI responses up to the request timeout.
var ApprovalBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300}

var (
	// RequestsTotal counts admin API requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_requests_total",
			Help: "Total admin API requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records admin API request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steward_request_duration_seconds",
			Help:    "Admin API request duration",
			Buckets: ToolBuckets,
		},
		[]string{"method"},
	)

	// StateTransitions counts server lifecycle transitions by target state.
	StateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_state_transitions_total",
			Help: "Server state transitions",
		},
		[]string{"server", "state"},
	)

	// ToolExecutions counts tool calls by server and outcome.
	ToolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"server", "status"},
	)

	// ToolDuration records tool call latency in seconds per server.
	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steward_tool_duration_seconds",
			Help:    "Tool call duration",
			Buckets: ToolBuckets,
		},
		[]string{"server"},
	)

	// PermissionDecisions counts authorization outcomes by decision source.
	PermissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steward_permission_decisions_total",
			Help: "Permission decisions",
		},
		[]string{"source", "outcome"},
	)

	// PendingApprovals tracks the number of unresolved approval prompts.
	PendingApprovals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "steward_pending_approvals",
			Help: "Unresolved approval prompts",
		},
	)

	// ApprovalWait records how long callers waited on approval prompts.
	ApprovalWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steward_approval_wait_seconds",
			Help:    "Time spent waiting for approval",
			Buckets: ApprovalBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StateTransitions,
		ToolExecutions,
		ToolDuration,
		PermissionDecisions,
		PendingApprovals,
		ApprovalWait,
	)
}
