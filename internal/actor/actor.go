// Package actor implements the BackendActor from spec.md §4.1: a single
// dedicated dispatch goroutine draining a bounded priority queue of
// Command messages, so every controller state transition happens on one
// thread without fine-grained locking.
package actor

import (
	"container/heap"
	"sync"

	"github.com/squidcore/acquisition/internal/acqlog"
)

// Priority orders commands within the queue. Higher values are dispatched
// first; within equal priority, commands are dispatched FIFO.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityControl
	PriorityAbort
)

// Command is a unit of work routed to a single registered handler by Type.
type Command struct {
	Type     string
	Priority Priority
	Payload  interface{}
}

// Handler executes a dispatched command. Errors are logged by the actor;
// handlers should not panic for expected failures (use the typed
// acqerrors kinds and log internally if a caller needs to observe them).
type Handler func(Command) error

// Actor is the single-threaded command dispatcher described in spec.md
// §4.1. Commands whose type has no registered handler are dropped with a
// log entry rather than blocking the queue.
type Actor struct {
	mu       sync.Mutex
	handlers map[string]Handler

	cond    *sync.Cond
	pq      commandHeap
	seq     int
	closed  bool
	running bool
}

// New creates an Actor. Start must be called to begin dispatching.
func New() *Actor {
	a := &Actor{
		handlers: make(map[string]Handler),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// RegisterHandler binds commandType to handler. Registering the same type
// twice replaces the previous handler.
func (a *Actor) RegisterHandler(commandType string, handler Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[commandType] = handler
}

// Enqueue adds a command to the priority queue. It is safe to call from
// any goroutine, including from inside a handler running on the actor's
// own dispatch goroutine (re-entrant scheduling, e.g. a cleanup command).
func (a *Actor) Enqueue(cmd Command) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.seq++
	heap.Push(&a.pq, queuedCommand{cmd: cmd, seq: a.seq})
	a.cond.Signal()
}

// Start launches the dispatch goroutine. Calling Start twice is a no-op.
func (a *Actor) Start() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.mu.Unlock()

	go a.run()
}

// Stop halts the dispatch goroutine once it is idle. Commands already
// queued are not guaranteed to run after Stop returns.
func (a *Actor) Stop() {
	a.mu.Lock()
	a.closed = true
	a.cond.Broadcast()
	a.mu.Unlock()
}

func (a *Actor) run() {
	for {
		a.mu.Lock()
		for a.pq.Len() == 0 && !a.closed {
			a.cond.Wait()
		}
		if a.pq.Len() == 0 && a.closed {
			a.mu.Unlock()
			return
		}
		next := heap.Pop(&a.pq).(queuedCommand).cmd
		handler, ok := a.handlers[next.Type]
		a.mu.Unlock()

		if !ok {
			acqlog.Logf("actor: dropping command %q: no handler registered", next.Type)
			continue
		}
		if err := handler(next); err != nil {
			acqlog.Logf("actor: handler for %q returned error: %v", next.Type, err)
		}
	}
}

// QueueLen reports the number of commands currently queued, for
// diagnostics and tests.
func (a *Actor) QueueLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pq.Len()
}

type queuedCommand struct {
	cmd Command
	seq int
}

// commandHeap is a container/heap.Interface ordering by (Priority desc,
// seq asc) so equal-priority commands dispatch FIFO.
type commandHeap []queuedCommand

func (h commandHeap) Len() int { return len(h) }
func (h commandHeap) Less(i, j int) bool {
	if h[i].cmd.Priority != h[j].cmd.Priority {
		return h[i].cmd.Priority > h[j].cmd.Priority
	}
	return h[i].seq < h[j].seq
}
func (h commandHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *commandHeap) Push(x interface{}) {
	*h = append(*h, x.(queuedCommand))
}
func (h *commandHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
