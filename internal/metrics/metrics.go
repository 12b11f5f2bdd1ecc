package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Synchronizer metrics
var (
	// GenerationsTotal tracks generation outcomes (ok, failed, busy, duplicate, invalid)
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapic_generations_total",
			Help: "Total generation submissions by status",
		},
		[]string{"status"},
	)

	// GenerationDuration tracks remote generation latency in seconds
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mapic_generation_duration_seconds",
			Help:    "Remote image generation duration in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		},
	)

	// DeletesTotal tracks delete outcomes (ok, rolled_back, noop)
	DeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapic_deletes_total",
			Help: "Total history deletions by status",
		},
		[]string{"status"},
	)

	// HistoryFetchesTotal tracks history fetch outcomes (ok, error, stale)
	HistoryFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapic_history_fetches_total",
			Help: "Total history fetches by status",
		},
		[]string{"status"},
	)

	// HistoryFetchRetries counts retried fetch attempts
	HistoryFetchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapic_history_fetch_retries_total",
			Help: "Total retried history fetch attempts",
		},
	)

	// PendingDeletes tracks deletes awaiting remote confirmation
	PendingDeletes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapic_pending_deletes",
			Help: "Deletes awaiting remote confirmation",
		},
	)

	// Observers tracks active snapshot subscribers
	Observers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapic_observers",
			Help: "Active snapshot subscribers",
		},
	)
)

// Bridge metrics
var (
	// BridgeRequestsTotal tracks bridge API requests by route and status code
	BridgeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapic_bridge_requests_total",
			Help: "Total bridge API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	// WebSocketConnectionsCurrent tracks open snapshot streams
	WebSocketConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapic_websocket_connections_current",
			Help: "Open WebSocket snapshot streams",
		},
	)
)
