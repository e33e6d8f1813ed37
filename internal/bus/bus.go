// Package bus implements the in-process typed publish/subscribe event bus
// described in spec.md §4.1. A single dispatch goroutine drains a FIFO
// queue and invokes subscriber handlers synchronously, so delivery order is
// FIFO per (event type, subscriber) and a panicking/erroring handler never
// stops delivery to other handlers or to subsequent events.
package bus

import (
	"fmt"
	"sync"

	"github.com/squidcore/acquisition/internal/acqlog"
)

// Event is any published value. EventType is the dispatch key; handlers
// subscribe by this string rather than by Go type so adapters (out of
// scope here) can subscribe generically.
type Event interface {
	EventType() string
}

// Handler processes one delivered event. A returned error is logged and
// does not affect delivery to other handlers or other events.
type Handler func(Event) error

// Bus is a thread-safe publish/subscribe dispatcher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]Handler
	nextID      int

	queue   chan Event
	done    chan struct{}
	started bool
}

// New creates a Bus with the given dispatch queue depth. A depth of 0 means
// unbounded behavior is not supported; callers should size the queue to the
// expected publish burst (the teacher's SerialMux subscriber channels are
// similarly bounded per-subscriber rather than globally, but a single
// dispatch queue is simpler to reason about for FIFO ordering across types).
func New(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Bus{
		subscribers: make(map[string]map[int]Handler),
		queue:       make(chan Event, queueDepth),
		done:        make(chan struct{}),
	}
}

// Start launches the dispatch goroutine. Calling Start twice is a no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go b.dispatchLoop()
}

// Stop halts the dispatch goroutine after draining any already-queued
// events. It does not unblock a Publish that is waiting on a full queue.
func (b *Bus) Stop() {
	close(b.done)
}

// Subscribe registers handler for eventType and returns a subscription ID
// usable with Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subscribers[eventType] == nil {
		b.subscribers[eventType] = make(map[int]Handler)
	}
	b.subscribers[eventType][id] = handler
	return id
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(eventType string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers[eventType], id)
}

// Publish enqueues an event for dispatch. Publish blocks if the dispatch
// queue is full; it does not invoke handlers itself.
func (b *Bus) Publish(e Event) {
	b.queue <- e
}

// PublishNow dispatches the event synchronously on the calling goroutine,
// bypassing the queue. Used by tests and by callers that must observe
// handler completion before proceeding.
func (b *Bus) PublishNow(e Event) {
	b.dispatch(e)
}

func (b *Bus) dispatchLoop() {
	for {
		select {
		case <-b.done:
			for {
				select {
				case e := <-b.queue:
					b.dispatch(e)
				default:
					return
				}
			}
		case e := <-b.queue:
			b.dispatch(e)
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := b.subscribers[e.EventType()]
	// Copy handler list under the lock so a concurrent Subscribe/Unsubscribe
	// from inside a handler cannot deadlock or mutate this dispatch's set.
	ordered := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		ordered = append(ordered, h)
	}
	b.mu.RUnlock()

	for _, h := range ordered {
		b.invokeSafely(e, h)
	}
}

func (b *Bus) invokeSafely(e Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			acqlog.Logf("bus: handler for %s panicked: %v", e.EventType(), r)
		}
	}()
	if err := h(e); err != nil {
		acqlog.Logf("bus: handler for %s returned error: %v", e.EventType(), err)
	}
}

// SubscriberCount reports how many handlers are registered for eventType,
// for diagnostics and tests.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}

func (b *Bus) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fmt.Sprintf("Bus{types=%d}", len(b.subscribers))
}
