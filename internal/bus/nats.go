package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jsherman999/watercooler/internal/config"
)

func init() {
	Register("nats", func(cfg *config.Config) (Bus, error) {
		return NewNats(cfg.Bus.NatsURL, cfg.Bus.Prefix)
	})
}

// Nats is a drop-in alternative to the Redis transport for deployments
// that already run a NATS cluster. Channels map to subjects under the
// configured prefix.
type Nats struct {
	nc     *nats.Conn
	prefix string
	sub    *nats.Subscription
}

func NewNats(url, prefix string) (*Nats, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &Nats{nc: nc, prefix: prefix}, nil
}

func (n *Nats) Start(ctx context.Context, h Handler) error {
	sub, err := n.nc.Subscribe(n.prefix+">", func(m *nats.Msg) {
		sender, payload := decodeFrame(m.Data)
		h(strings.TrimPrefix(m.Subject, n.prefix), sender, payload)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	n.sub = sub
	return n.nc.Flush()
}

func (n *Nats) Publish(ctx context.Context, channel, sender string, payload []byte) error {
	return n.nc.Publish(n.prefix+canonical(channel), encodeFrame(sender, payload))
}

func (n *Nats) Close() error {
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	n.nc.Close()
	return nil
}
