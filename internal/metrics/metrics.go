// Package metrics declares the Prometheus instrumentation for the
// signaling hub. Naming follows namespace_subsystem_name, mirroring the
// convention used across the wider signaling codebase.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections is the current number of open WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signalhub",
		Subsystem: "connection",
		Name:      "active",
		Help:      "Current number of open WebSocket connections",
	})

	// ActiveRooms is the current number of non-empty rooms in the registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signalhub",
		Subsystem: "room",
		Name:      "active",
		Help:      "Current number of rooms with at least one member",
	})

	// FramesRelayed counts successfully fanned-out peer frames.
	FramesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signalhub",
		Subsystem: "router",
		Name:      "frames_relayed_total",
		Help:      "Total peer frames fanned out to at least one member",
	})

	// RejectionsTotal counts upgrade/admit rejections by kind.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalhub",
		Subsystem: "connection",
		Name:      "rejections_total",
		Help:      "Total rejected connections by error kind",
	}, []string{"kind"})

	// RateLimitDenials counts frames denied by the per-connection limiter.
	RateLimitDenials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signalhub",
		Subsystem: "ratelimit",
		Name:      "denials_total",
		Help:      "Total frames denied by the per-connection rate limiter",
	})

	// SlowConsumerDisconnects counts members closed for outbound overflow.
	SlowConsumerDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signalhub",
		Subsystem: "router",
		Name:      "slow_consumer_disconnects_total",
		Help:      "Total members disconnected for a full outbound queue",
	})

	// RoomsSwept counts rooms evicted by the idle sweeper.
	RoomsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signalhub",
		Subsystem: "sweeper",
		Name:      "rooms_evicted_total",
		Help:      "Total rooms evicted for exceeding the idle TTL",
	})
)
