package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventType describes the kind of event.
type EventType string

const (
	// CircuitOpened is published when a platform circuit trips.
	CircuitOpened EventType = "circuit_opened"
	// CircuitHalfOpened is published when a cool-down ends and a trial call is let through.
	CircuitHalfOpened EventType = "circuit_half_opened"
	// CircuitClosed is published when a trial call succeeds.
	CircuitClosed EventType = "circuit_closed"
)

// Event wraps a typed payload with an event type.
type Event[T any] struct {
	Type    EventType
	Payload T
}

// subscriberBufferSize is the channel buffer size for each subscriber.
const subscriberBufferSize = 64

// Broker is a generic, thread-safe publish/subscribe broker. Publishing
// never blocks: events for a subscriber whose buffer is full are dropped
// and counted.
type Broker[T any] struct {
	mu      sync.RWMutex
	subs    map[chan Event[T]]struct{}
	dropped atomic.Int64
}

// NewBroker creates a new Broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs: make(map[chan Event[T]]struct{}),
	}
}

// Subscribe creates a new subscription. The returned channel receives events
// until ctx is cancelled, at which point the channel is closed and the
// subscription removed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], subscriberBufferSize)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish broadcasts an event to all active subscribers.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	if b == nil {
		return
	}
	evt := Event[T]{Type: eventType, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was not keeping up.
func (b *Broker[T]) Dropped() int64 {
	return b.dropped.Load()
}
