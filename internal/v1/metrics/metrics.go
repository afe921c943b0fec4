// Package metrics declares the process's Prometheus instrumentation.
// Naming convention: namespace_subsystem_name, namespace "watchroom".
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWebSocketConnections is the current number of open sessions.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchroom",
		Subsystem: "transport",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms is the current number of rooms held by the registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchroom",
		Subsystem: "registry",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants is the current participant count, per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchroom",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants currently in each room",
	}, []string{"room_code"})

	// WireEventsTotal is labelled by inbound variant and outcome. No code
	// path in this repository increments it, so it stays at zero.
	WireEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "wire",
		Name:      "events_total",
		Help:      "Total inbound wire messages processed",
	}, []string{"variant", "status"})

	// WireParseErrorsTotal counts frames that failed to decode.
	WireParseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "wire",
		Name:      "parse_errors_total",
		Help:      "Total inbound frames that failed to parse",
	}, []string{"reason"})

	// PingsSentTotal counts Ping Driver emissions.
	PingsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "ping",
		Name:      "sent_total",
		Help:      "Total Ping messages sent to participants",
	})

	// MappingRefreshesTotal counts successful pong-driven TimeMapping
	// updates.
	MappingRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "timesync",
		Name:      "mapping_refreshes_total",
		Help:      "Total TimeMapping recalculations from a pong",
	})

	// CircuitBreakerState mirrors gobreaker.State (0 closed, 1 half-open,
	// 2 open) for the bus relay's breaker.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watchroom",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the bus circuit breaker (0: Closed, 1: Half-Open, 2: Open)",
	}, []string{"service"})

	// RateLimitExceededTotal counts requests rejected by the limiter.
	RateLimitExceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded the rate limit",
	}, []string{"endpoint"})

	// RedisOperationsTotal counts bus operations against Redis.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watchroom",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total Redis operations performed by the bus",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks bus operation latency.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watchroom",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations performed by the bus",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() { ActiveWebSocketConnections.Inc() }
func DecConnection() { ActiveWebSocketConnections.Dec() }
