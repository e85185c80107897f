package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the stream transport. Labels stay bounded: methods are
// counted only once registered, event types only after a successful decode.
var (
	wsConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncroom_ws_connections_total",
		Help: "Total number of accepted WebSocket connections",
	})

	rpcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncroom_rpc_requests_total",
		Help: "Total number of dispatched JSON-RPC requests",
	}, []string{"method"})

	streamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncroom_stream_events_total",
		Help: "Total number of room events fanned out to subscribers",
	}, []string{"type"})

	slowSubscribersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncroom_stream_subscribers_dropped_total",
		Help: "Subscribers dropped for not draining their send queue",
	})
)
