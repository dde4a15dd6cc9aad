// Package bus abstracts the fan-out transport. A single hub process can
// dispatch in memory; multiple processes behind a load balancer share a
// Redis or NATS transport so each instance delivers to its own local
// subscribers. Implementations self-register by name.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jsherman999/watercooler/internal/config"
)

// ChannelAll is the reserved channel every connection is subscribed to.
// Publishing with an empty channel name is canonicalized to it.
const ChannelAll = "all"

// Handler receives every message published on the bus, including the
// publishing process's own. Sender is the originating connection id, empty
// for webhook-originated broadcasts; the handler re-applies sender
// exclusion since the transport knows nothing about local connections.
type Handler func(channel, sender string, payload []byte)

type Bus interface {
	// Publish sends payload to every hub process subscribed to channel.
	Publish(ctx context.Context, channel, sender string, payload []byte) error

	// Start begins delivering publishes to h. Call once, before Publish.
	Start(ctx context.Context, h Handler) error

	Close() error
}

// Factory builds a Bus from configuration.
type Factory func(cfg *config.Config) (Bus, error)

var (
	factoriesMu sync.Mutex
	factories   = make(map[string]Factory)
)

// Register makes a bus implementation available under kind. Called from
// init() in each implementation file.
func Register(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = f
}

// Open constructs the bus selected by cfg.Bus.Kind.
func Open(cfg *config.Config) (Bus, error) {
	factoriesMu.Lock()
	f, ok := factories[cfg.Bus.Kind]
	factoriesMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown bus kind %q (have %v)", cfg.Bus.Kind, Kinds())
	}
	return f(cfg)
}

// Kinds lists the registered bus kinds, sorted.
func Kinds() []string {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func canonical(channel string) string {
	if channel == "" {
		return ChannelAll
	}
	return channel
}

// frame is the wire format shared by all transports:
// {"sender": <connection-id-or-null>, "message": <payload>}.
type frame struct {
	Sender  *string `json:"sender"`
	Message string  `json:"message"`
}

// encodeFrame wraps a payload with its originating sender id.
func encodeFrame(sender string, payload []byte) []byte {
	f := frame{Message: string(payload)}
	if sender != "" {
		f.Sender = &sender
	}
	b, _ := json.Marshal(f)
	return b
}

// decodeFrame unwraps a wire frame. A frame that does not parse is treated
// as a bare payload with no sender; remote publishers outside this module
// are allowed to be sloppy.
func decodeFrame(data []byte) (sender string, payload []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", data
	}
	if f.Sender != nil {
		sender = *f.Sender
	}
	return sender, []byte(f.Message)
}
