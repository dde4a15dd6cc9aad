package hub

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jsherman999/watercooler/internal/bus"
	"github.com/jsherman999/watercooler/internal/telemetry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendQueueSize = 64
)

// Client is one WebSocket session. It owns its connection; the registry
// only holds references and never outlives the session's close.
type Client struct {
	id      string
	channel string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	log     zerolog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

// channels lists every registry entry the session joins.
func (c *Client) channels() []string {
	return []string{c.channel, bus.ChannelAll}
}

// trySend queues payload for the write pump without blocking. False means
// the session is closed or its buffer is full; callers treat both as a
// dead peer.
func (c *Client) trySend(payload []byte) (sent bool) {
	// Sending can race with shutdown closing the channel; recover rather
	// than taking a lock on the delivery path.
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// shutdown tears the transport down exactly once, from any goroutine.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// ServeWS upgrades the handshake, authenticates the channel token and
// hands the session to the hub. The token travels in the "channel" query
// parameter and must verify within the socket TTL; on failure the socket
// is closed before the session ever opens.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake rejection.
		h.log.Debug().Err(err).Msg("handshake rejected")
		return
	}

	channel, err := h.signer.Unsign(r.URL.Query().Get("channel"), h.cfg.Token.SocketTTL)
	if err != nil {
		telemetry.AuthFailures.Inc()
		h.log.Debug().Err(err).Msg("connection token rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	c := &Client{
		id:      uuid.NewString(),
		channel: channel,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
	}
	c.log = h.log.With().Str("conn", c.id).Str("channel", c.channel).Logger()

	h.register <- c
	go c.writePump()
	go c.readPump()
}

// readPump relays inbound client messages to the fan-out bus, verbatim.
// When the read side ends, for any reason, the session unsubscribes
// exactly once.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.shutdown()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && !c.closed.Load() {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		c.hub.PublishPeer(c.channel, c.id, payload)
	}
}

// writePump drains the send queue and keeps the peer alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
