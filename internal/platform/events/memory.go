// Package events delivers job progress events from runners to connected clients.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dontdude/goscribe/internal/domain"
)

// subscriberBuffer is how many events a slow subscriber may lag behind before events are dropped.
const subscriberBuffer = 64

// MemoryBus is an in-process domain.EventBus used when no Redis is configured.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[chan domain.Event]struct{}
	closed bool
}

var _ domain.EventBus = (*MemoryBus)(nil)

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[chan domain.Event]struct{})}
}

// Publish delivers ev to every subscriber without blocking; a full subscriber misses the event.
func (b *MemoryBus) Publish(_ context.Context, ev domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropping event for slow subscriber", "batch", ev.BatchID, "file", ev.File)
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done or the bus is closed.
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(ch)
	}()
	return ch, nil
}

func (b *MemoryBus) unsubscribe(ch chan domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Close ends every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.closed = true
	return nil
}
