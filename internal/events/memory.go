package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/foofork/orchflow/internal/common/logger"
)

// MemoryBus is the default in-process Bus: every subscriber gets its own
// buffered channel, and a slow subscriber is skipped rather than blocking
// publication for everyone else.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
	closed      bool
	logger      *logger.Logger
}

// NewMemoryBus creates an empty in-process event bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{
		subscribers: make(map[Subscriber]struct{}),
		logger:      log.WithFields(zap.String("component", "events.bus")),
	}
}

// Publish delivers event to every subscriber without blocking on a slow one.
func (b *MemoryBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber", zap.String("type", string(event.Type)))
		}
	}
}

// Subscribe registers a new subscriber with a modest buffer to absorb
// bursts without immediately dropping events.
func (b *MemoryBus) Subscribe() Subscriber {
	sub := make(Subscriber, 256)
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe deregisters and closes sub.
func (b *MemoryBus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Close shuts the bus down, closing every live subscriber channel.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = make(map[Subscriber]struct{})
}
