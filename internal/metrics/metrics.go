// Package metrics defines the Prometheus collectors shared across the
// application. All collectors register themselves via promauto at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebSocket hub metrics
var (
	// WSConnectedClients tracks the number of registered connections.
	WSConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connected_clients",
			Help: "Number of registered WebSocket connections",
		},
	)

	// WSMessagesBroadcastTotal counts published messages per channel.
	WSMessagesBroadcastTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_messages_broadcast_total",
			Help: "Total messages broadcast per channel",
		},
		[]string{"channel"},
	)

	// WSSendFailuresTotal counts frame writes that failed and caused an
	// immediate eviction.
	WSSendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_send_failures_total",
			Help: "Total failed frame sends (each evicts the client)",
		},
	)

	// WSHeartbeatEvictionsTotal counts clients reaped by the heartbeat
	// sweep after missing two intervals.
	WSHeartbeatEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_heartbeat_evictions_total",
			Help: "Total clients removed by the heartbeat reaper",
		},
	)

	// WSConnectionsRejectedTotal counts upgrade requests refused by the
	// admission limiters.
	WSConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_connections_rejected_total",
			Help: "Total WebSocket connections rejected by limit type",
		},
		[]string{"limit"},
	)
)

// Simulator metrics
var (
	// PipelineRunsTotal counts demo pipeline runs by terminal status.
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total demo pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	// TestSuiteRunsTotal counts test suite executions by result.
	TestSuiteRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_suite_runs_total",
			Help: "Total test suite executions by result",
		},
		[]string{"result"},
	)
)

// HTTP metrics
var (
	// BroadcastTriggersTotal counts REST-triggered broadcasts by kind.
	BroadcastTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_triggers_total",
			Help: "Total broadcast trigger requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)
