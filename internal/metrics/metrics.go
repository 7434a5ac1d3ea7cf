// Package metrics holds the Prometheus collectors for the sync server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync engine
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_events_total",
			Help: "Client events routed, by event type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_events_dropped_total",
			Help: "Client events dropped before reaching room state",
		},
		[]string{"reason"}, // "malformed", "unknown_type", "room_not_loaded", "rate_limited", "too_large", "slide_full", "throttled", "undelivered"
	)

	// Registry
	RoomsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whiteboard_rooms_loaded",
			Help: "Rooms resident in memory",
		},
	)

	StoreLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_store_loads_total",
			Help: "Room loads from the store, by result",
		},
		[]string{"result"}, // "found", "not_found", "error"
	)

	// Write-back
	PendingWrites = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whiteboard_pending_writes",
			Help: "Rooms with a scheduled write-back",
		},
	)

	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_flushes_total",
			Help: "Write-back flushes, by result",
		},
		[]string{"result"}, // "ok", "error"
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whiteboard_flush_duration_seconds",
			Help:    "Duration of write-back upserts",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Transport
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whiteboard_ws_connections",
			Help: "Open websocket connections",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_ws_rejected_total",
			Help: "Websocket upgrades refused",
		},
		[]string{"reason"}, // "ip_rate_limited", "upgrade"
	)

	SlowPeersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whiteboard_slow_peers_evicted_total",
			Help: "Connections dropped because their send queue was full",
		},
	)
)
