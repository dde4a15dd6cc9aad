package bus

import (
	"context"
	"sync"

	"github.com/jsherman999/watercooler/internal/config"
)

func init() {
	Register("memory", func(cfg *config.Config) (Bus, error) {
		return NewMemory(), nil
	})
}

// Memory is the single-process bus: a publish loops straight back into the
// local handler. No cross-process fan-out.
type Memory struct {
	mu      sync.RWMutex
	handler Handler
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Start(ctx context.Context, h Handler) error {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
	return nil
}

func (m *Memory) Publish(ctx context.Context, channel, sender string, payload []byte) error {
	m.mu.RLock()
	h := m.handler
	m.mu.RUnlock()
	if h != nil {
		h(canonical(channel), sender, payload)
	}
	return nil
}

func (m *Memory) Close() error { return nil }
