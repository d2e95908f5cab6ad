package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber channel buffer.
const DefaultBufferSize = 64

// Filter limits which events a subscriber receives. A nil filter receives
// everything.
type Filter func(Event) bool

// TypeFilter matches events of the given types.
func TypeFilter(types ...EventType) Filter {
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// subscriber is one registered event consumer.
type subscriber struct {
	ch     chan Event
	filter Filter
}

// Bus is an in-process publish/subscribe event bus. Delivery is best-effort:
// a subscriber that cannot keep up has events dropped rather than blocking
// the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	bufferSize  int
	logger      *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(size int) BusOption {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithLogger sets the logger for the bus.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers: make(map[string]*subscriber),
		bufferSize:  DefaultBufferSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a consumer and returns its ID and receive channel.
// The channel is closed by Unsubscribe.
func (b *Bus) Subscribe(filter Filter) (string, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	sub := &subscriber{
		ch:     make(chan Event, b.bufferSize),
		filter: filter,
	}
	b.subscribers[id] = sub

	b.logger.Debug("event subscriber added",
		slog.String("subscriber_id", id),
		slog.Int("total", len(b.subscribers)),
	)
	return id, sub.ch
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.ch)

	b.logger.Debug("event subscriber removed",
		slog.String("subscriber_id", id),
		slog.Int("total", len(b.subscribers)),
	)
}

// Publish delivers an event to all matching subscribers without blocking.
// Events to a full subscriber channel are dropped with a warning.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}

		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("event dropped, subscriber channel full",
				slog.String("subscriber_id", id),
				slog.String("event_type", string(event.Type)),
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
