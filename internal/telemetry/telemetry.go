package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal tracks the total number of events received from the gateway, by kind
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_events_total",
			Help: "Total number of gateway events processed, by event kind",
		},
		[]string{"kind"},
	)

	// ToolCallsTotal tracks the total number of tool calls observed in agent streams
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_tool_calls_total",
			Help: "Total number of tool calls observed in agent streams",
		},
		[]string{"tool"},
	)

	// RiskAlertsTotal tracks the total number of risk alerts raised, by severity and risk type
	RiskAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_risk_alerts_total",
			Help: "Total number of risk alerts raised, by severity and risk type",
		},
		[]string{"severity", "risk_type"},
	)

	// RunsCompletedTotal tracks the total number of agent runs completed
	RunsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lookout_runs_completed_total",
			Help: "Total number of agent runs completed",
		},
	)

	// ActiveRuns tracks the number of agent runs currently in progress
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lookout_active_runs",
			Help: "Number of agent runs currently in progress",
		},
	)

	// TokensTotal tracks the total number of tokens consumed, by model and direction
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_tokens_total",
			Help: "Total number of tokens consumed, by model and direction (input/output)",
		},
		[]string{"model", "direction"},
	)

	// CostUSDTotal tracks the accumulated spend in US dollars, by model
	CostUSDTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_cost_usd_total",
			Help: "Accumulated model spend in US dollars, by model",
		},
		[]string{"model"},
	)

	// GatewayConnected reports whether the gateway websocket is currently established
	GatewayConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lookout_gateway_connected",
			Help: "Whether the gateway websocket is currently established (1) or not (0)",
		},
	)

	// GatewayReconnectsTotal tracks the total number of gateway reconnect attempts
	GatewayReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lookout_gateway_reconnects_total",
			Help: "Total number of gateway reconnect attempts",
		},
	)

	// StoreWriteErrorsTotal tracks failed metric store writes, by table
	StoreWriteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookout_store_write_errors_total",
			Help: "Total number of failed metric store writes, by table",
		},
		[]string{"table"},
	)
)
