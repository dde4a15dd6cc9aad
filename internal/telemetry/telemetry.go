// Package telemetry holds the hub's prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections tracks currently open WebSocket connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "watercooler_connections",
		Help: "Open WebSocket connections.",
	})

	// MessagesPublished counts publishes into the bus by source (peer, webhook).
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watercooler_messages_published_total",
		Help: "Messages published to the fan-out bus.",
	}, []string{"source"})

	// Deliveries counts messages written to subscribers.
	Deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watercooler_deliveries_total",
		Help: "Messages delivered to WebSocket subscribers.",
	})

	// Evictions counts subscribers removed because their transport was dead.
	Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watercooler_evictions_total",
		Help: "Subscribers evicted on delivery failure.",
	})

	// WebhookRejected counts rejected webhook calls by reason
	// (missing_signature, bad_signature, expired).
	WebhookRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "watercooler_webhook_rejected_total",
		Help: "Webhook notifications rejected before publish.",
	}, []string{"reason"})

	// AuthFailures counts WebSocket connections closed during authentication.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "watercooler_auth_failures_total",
		Help: "WebSocket connections rejected for bad or expired tokens.",
	})
)

// Handler exposes the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
