package hub

import (
	"github.com/jsherman999/watercooler/internal/telemetry"
)

// Registry maps channel → subscribed connections. It is owned by the hub's
// run loop and mutated only there, so it needs no locking. Channel entries
// appear on first subscriber and are deleted when the last one leaves;
// channels are cheap either way.
type Registry struct {
	channels map[string]map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]map[string]*Client)}
}

// Subscribe adds c to channel. Idempotent.
func (r *Registry) Subscribe(channel string, c *Client) {
	subs, ok := r.channels[channel]
	if !ok {
		subs = make(map[string]*Client)
		r.channels[channel] = subs
	}
	subs[c.id] = c
}

// Unsubscribe removes c from channel. No-op if absent.
func (r *Registry) Unsubscribe(channel string, c *Client) {
	subs, ok := r.channels[channel]
	if !ok {
		return
	}
	delete(subs, c.id)
	if len(subs) == 0 {
		delete(r.channels, channel)
	}
}

// Drop removes c from every channel it joined.
func (r *Registry) Drop(c *Client) {
	for _, channel := range c.channels() {
		r.Unsubscribe(channel, c)
	}
}

// Publish delivers payload to every subscriber of channel whose id is not
// exclude. An empty channel fans out to every known channel, delivering at
// most once per connection. Subscribers whose transport is dead are
// evicted rather than surfacing an error.
func (r *Registry) Publish(channel string, payload []byte, exclude string) {
	if channel == "" {
		r.broadcast(payload, exclude)
		return
	}

	// Snapshot: delivery failures mutate the registry mid-iteration.
	subs := r.snapshot(channel)
	for _, c := range subs {
		if c.id == exclude {
			continue
		}
		r.deliver(c, payload)
	}
}

func (r *Registry) broadcast(payload []byte, exclude string) {
	seen := make(map[string]struct{})
	var targets []*Client
	for channel := range r.channels {
		for _, c := range r.channels[channel] {
			if c.id == exclude {
				continue
			}
			if _, dup := seen[c.id]; dup {
				continue
			}
			seen[c.id] = struct{}{}
			targets = append(targets, c)
		}
	}
	for _, c := range targets {
		r.deliver(c, payload)
	}
}

func (r *Registry) deliver(c *Client, payload []byte) {
	if c.trySend(payload) {
		telemetry.Deliveries.Inc()
		return
	}
	// Dead peer: self-heal by evicting it from every channel.
	r.Drop(c)
	c.shutdown()
	telemetry.Evictions.Inc()
}

func (r *Registry) snapshot(channel string) []*Client {
	subs := r.channels[channel]
	out := make([]*Client, 0, len(subs))
	for _, c := range subs {
		out = append(out, c)
	}
	return out
}

// clients returns every distinct registered connection.
func (r *Registry) clients() []*Client {
	seen := make(map[string]*Client)
	for _, subs := range r.channels {
		for id, c := range subs {
			seen[id] = c
		}
	}
	out := make([]*Client, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	return out
}
