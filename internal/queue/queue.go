// Package queue provides the two hand-off primitives used between pipeline
// stages: a bounded FIFO and a fan-out topic. Both are non-blocking on the
// producer side and drop the newest item when a buffer is full.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/speedgate/internal/monitoring"
)

// ErrClosed is returned when subscribing to a closed topic.
var ErrClosed = errors.New("queue: closed")

// Bounded is a fixed-capacity FIFO with a single logical consumer.
type Bounded[T any] struct {
	name    string
	ch      chan T
	dropped monitoring.Counter
}

// NewBounded creates a queue holding at most capacity items. The name is
// used in drop warnings.
func NewBounded[T any](name string, capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{name: name, ch: make(chan T, capacity)}
}

// TryPut enqueues v without blocking. When the queue is full v is discarded,
// the drop counter is incremented and false is returned.
func (q *Bounded[T]) TryPut(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		q.dropped.Inc()
		monitoring.Warnf("%s queue full, dropped item (%d total)", q.name, q.dropped.Load())
		return false
	}
}

// TryGet dequeues the oldest item without blocking.
func (q *Bounded[T]) TryGet() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Get blocks until an item is available or ctx is done.
func (q *Bounded[T]) Get(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Len returns the number of queued items.
func (q *Bounded[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Bounded[T]) Cap() int { return cap(q.ch) }

// Dropped returns how many items TryPut has discarded.
func (q *Bounded[T]) Dropped() uint64 { return q.dropped.Load() }

// Topic fans each published message out to every subscriber. Each subscriber
// has its own buffer; a full buffer loses that message for that subscriber
// only.
type Topic[T any] struct {
	name string

	mu          sync.Mutex
	subscribers map[string]chan T
	closed      bool

	published monitoring.Counter
	dropped   monitoring.Counter
}

// NewTopic creates a topic with no subscribers.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name, subscribers: make(map[string]chan T)}
}

// Subscribe registers a subscriber with the given buffer capacity. The
// returned ID is passed to Unsubscribe.
func (t *Topic[T]) Subscribe(capacity int) (string, <-chan T, error) {
	if capacity < 1 {
		capacity = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", nil, ErrClosed
	}
	id := uuid.NewString()
	ch := make(chan T, capacity)
	t.subscribers[id] = ch
	return id, ch, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (t *Topic[T]) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subscribers[id]; ok {
		close(ch)
		delete(t.subscribers, id)
	}
}

// Publish delivers v to every subscriber without blocking and returns the
// number of subscribers that received it.
func (t *Topic[T]) Publish(v T) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0
	}
	t.published.Inc()
	delivered := 0
	for id, ch := range t.subscribers {
		select {
		case ch <- v:
			delivered++
		default:
			t.dropped.Inc()
			monitoring.Warnf("%s topic: subscriber %s full, dropped message", t.name, id)
		}
	}
	return delivered
}

// Subscribers returns the number of active subscribers.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Published returns how many messages have been published.
func (t *Topic[T]) Published() uint64 { return t.published.Load() }

// Dropped returns how many per-subscriber deliveries were lost.
func (t *Topic[T]) Dropped() uint64 { return t.dropped.Load() }

// Close closes every subscriber channel. Later publishes are ignored.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
}
