package pubsub

import (
	"context"
	"sync"
	"time"
)

// subscriberBuffer is the per-subscription channel depth. A publish to a
// subscriber whose buffer is full is dropped for that subscriber only.
const subscriberBuffer = 64

// Broker fans typed events out to its subscribers. Publishing never
// blocks: a slow subscriber loses events once its buffer fills, the rest
// are unaffected. Construct with NewBroker; the zero value is not usable.
type Broker[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Event[T]
	closed bool
}

// NewBroker returns an empty broker ready for subscribers.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[uint64]chan Event[T])}
}

// Subscribe registers a subscription and returns its receive channel. The
// subscription lasts until ctx ends or the broker closes; either way the
// channel is closed, so range loops over it terminate.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event[T], subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	context.AfterFunc(ctx, func() { b.drop(id) })
	return ch
}

// drop detaches one subscription. No-op after Close, which already closed
// every channel.
func (b *Broker[T]) drop(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers an event to every live subscriber. After Close it is a
// no-op.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	event := Event[T]{Type: eventType, Payload: payload, Timestamp: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close ends every subscription and closes their channels. Subsequent
// Subscribe calls return an already-closed channel.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Next receives a single event from a subscription channel. It returns
// false when ctx ends or the channel is closed, whichever comes first.
func Next[T any](ctx context.Context, ch <-chan Event[T]) (Event[T], bool) {
	select {
	case <-ctx.Done():
		var zero Event[T]
		return zero, false
	case event, ok := <-ch:
		if !ok {
			var zero Event[T]
			return zero, false
		}
		return event, true
	}
}
