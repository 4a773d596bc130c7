package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/foofork/orchflow/internal/common/logger"
)

// broadcastSubject is the single NATS subject every orchflow instance
// publishes and subscribes on; the domain-level Type field on Event already
// carries the specific kind of notification.
const broadcastSubject = "orchflow.events"

// NATSBus fans Events out across a NATS cluster, letting multiple
// orchflow processes (or external dashboards) share one event stream
// instead of being confined to a single process's in-memory bus.
type NATSBus struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	logger *logger.Logger

	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
	closed      bool
}

// NewNATSBus connects to url and starts relaying broadcastSubject messages
// to local subscribers.
func NewNATSBus(url string, log *logger.Logger) (*NATSBus, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "events.nats"))

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats at %q: %w", url, err)
	}

	b := &NATSBus{conn: conn, logger: log, subscribers: make(map[Subscriber]struct{})}

	sub, err := conn.Subscribe(broadcastSubject, b.onMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: subscribe to %q: %w", broadcastSubject, err)
	}
	b.sub = sub
	return b, nil
}

func (b *NATSBus) onMessage(msg *nats.Msg) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		b.logger.Error("discarding malformed event", zap.Error(err))
		return
	}
	b.deliverLocal(event)
}

func (b *NATSBus) deliverLocal(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber", zap.String("type", string(event.Type)))
		}
	}
}

// Publish marshals event and publishes it to the shared NATS subject; every
// connected process (including this one, via onMessage) relays it to its
// local subscribers.
func (b *NATSBus) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	if err := b.conn.Publish(broadcastSubject, data); err != nil {
		b.logger.Error("failed to publish event", zap.Error(err))
	}
}

func (b *NATSBus) Subscribe() Subscriber {
	sub := make(Subscriber, 256)
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *NATSBus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

func (b *NATSBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = make(map[Subscriber]struct{})
	b.mu.Unlock()

	_ = b.sub.Unsubscribe()
	b.conn.Close()
}
