package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poker_gateway_connections",
		Help: "Open session websocket connections",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poker_gateway_sessions",
		Help: "Sessions with at least one open websocket connection",
	})

	changesBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poker_gateway_changes_broadcast_total",
		Help: "Changes fanned out to websocket connections, by table",
	}, []string{"table"})

	slowConnectionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poker_gateway_slow_connections_closed_total",
		Help: "Connections closed because their send buffer was full",
	})
)
