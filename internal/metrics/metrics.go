package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportline_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportline_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportline_connected_clients",
			Help: "Websocket clients registered with the hub",
		},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportline_commands_total",
			Help: "Commands processed by the hub",
		},
		[]string{"command", "result"}, // result: "ok" or an error code
	)

	DroppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportline_dropped_events_total",
			Help: "Events dropped for slow consumers",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportline_rate_limit_hits_total",
			Help: "Commands rejected by the per-connection rate limit",
		},
	)

	// Business metrics
	RoomsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supportline_rooms",
			Help: "Rooms by lifecycle status",
		},
		[]string{"status"},
	)

	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportline_messages_posted_total",
			Help: "Total messages posted",
		},
	)

	Claims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportline_claims_total",
			Help: "Claim attempts by outcome",
		},
		[]string{"outcome"}, // "won" or "rejected"
	)

	WaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supportline_queue_wait_seconds",
			Help:    "Time from request to claim",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
)
