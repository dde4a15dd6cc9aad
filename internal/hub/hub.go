// Package hub implements the real-time fan-out core: the subscription
// registry, per-connection WebSocket sessions, and the run loop that owns
// all mutable state.
package hub

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jsherman999/watercooler/internal/bus"
	"github.com/jsherman999/watercooler/internal/config"
	"github.com/jsherman999/watercooler/internal/signing"
	"github.com/jsherman999/watercooler/internal/telemetry"
)

const (
	publishTimeout = 5 * time.Second

	// deliveryQueueSize buffers bus deliveries into the run loop. Delivery
	// is best-effort; overflow drops rather than blocking the bus reader.
	deliveryQueueSize = 1024
)

type delivery struct {
	channel string
	sender  string
	payload []byte
}

// Hub owns the registry and serializes every mutation through its run
// loop. Sessions and the bus talk to it only via channels.
type Hub struct {
	cfg    *config.Config
	signer *signing.Signer
	bus    bus.Bus
	log    zerolog.Logger

	registry *Registry
	upgrader websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	deliveries chan delivery
	stopped    chan struct{}
}

func New(cfg *config.Config, signer *signing.Signer, b bus.Bus, log zerolog.Logger) *Hub {
	h := &Hub{
		cfg:        cfg,
		signer:     signer,
		bus:        b,
		log:        log.With().Str("component", "hub").Logger(),
		registry:   NewRegistry(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliveries: make(chan delivery, deliveryQueueSize),
		stopped:    make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run processes registrations and deliveries until ctx is cancelled, then
// closes every remaining connection. Registry state is touched only here.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.stopped)
			return

		case c := <-h.register:
			h.registry.Subscribe(c.channel, c)
			h.registry.Subscribe(bus.ChannelAll, c)
			telemetry.Connections.Inc()
			h.log.Debug().Str("conn", c.id).Str("channel", c.channel).Msg("connection subscribed")

		case c := <-h.unregister:
			h.registry.Drop(c)
			telemetry.Connections.Dec()
			h.log.Debug().Str("conn", c.id).Str("channel", c.channel).Msg("connection unsubscribed")

		case d := <-h.deliveries:
			h.registry.Publish(d.channel, d.payload, d.sender)
		}
	}
}

// Stopped is closed once the run loop has torn down every connection.
func (h *Hub) Stopped() <-chan struct{} {
	return h.stopped
}

// Dispatch is the bus handler: every publish observed on the transport,
// local or remote, lands here and is queued for the run loop. Sender
// exclusion happens at delivery using the id carried in the bus frame.
func (h *Hub) Dispatch(channel, sender string, payload []byte) {
	select {
	case h.deliveries <- delivery{channel: channel, sender: sender, payload: payload}:
	default:
		h.log.Warn().Str("channel", channel).Msg("delivery queue full, dropping message")
	}
}

// PublishPeer relays a message from a connected client to its channel.
func (h *Hub) PublishPeer(channel, sender string, payload []byte) {
	telemetry.MessagesPublished.WithLabelValues("peer").Inc()
	h.publish(channel, sender, payload)
}

// PublishWebhook broadcasts a webhook-originated notification to every
// connection. No sender: nothing is excluded from delivery.
func (h *Hub) PublishWebhook(payload []byte) {
	telemetry.MessagesPublished.WithLabelValues("webhook").Inc()
	h.publish(bus.ChannelAll, "", payload)
}

func (h *Hub) publish(channel, sender string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.bus.Publish(ctx, channel, sender, payload); err != nil {
		h.log.Warn().Err(err).Str("channel", channel).Msg("bus publish failed")
	}
}

func (h *Hub) closeAll() {
	clients := h.registry.clients()
	for _, c := range clients {
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
		}
		h.registry.Drop(c)
		c.shutdown()
	}
	if len(clients) > 0 {
		h.log.Info().Int("connections", len(clients)).Msg("closed remaining connections")
	}
}

// checkOrigin accepts same-origin handshakes, hosts on the allow-list, and
// anything at all in debug mode. Non-browser clients send no Origin header
// and are accepted.
func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.cfg.Debug {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(strings.ToLower(origin))
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, host := range h.cfg.AllowedHosts {
		if u.Host == strings.ToLower(host) {
			return true
		}
	}
	h.log.Debug().Str("origin", origin).Msg("origin rejected")
	return false
}
