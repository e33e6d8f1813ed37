package actor

import (
	"github.com/squidcore/acquisition/internal/bus"
)

// CommandEvent is the EventBus envelope for a command that must be routed
// to the actor rather than handled inline by whatever publishes it. Every
// hardware-touching command flows through an event of this shape so the
// router is the only path onto the actor's queue (spec.md §4.1).
type CommandEvent struct {
	Command Command
}

func (CommandEvent) EventType() string { return "Command" }

// CommandRouter subscribes to "Command" events on an EventBus and enqueues
// each onto an Actor. It is the BackendCommandRouter of spec.md §4.1.
type CommandRouter struct {
	actor *Actor
	bus   *bus.Bus
	subID int
}

// NewCommandRouter wires b's "Command" events onto a. Call Close to
// unsubscribe.
func NewCommandRouter(b *bus.Bus, a *Actor) *CommandRouter {
	r := &CommandRouter{actor: a, bus: b}
	r.subID = b.Subscribe("Command", func(e bus.Event) error {
		ce := e.(CommandEvent)
		a.Enqueue(ce.Command)
		return nil
	})
	return r
}

// Close unsubscribes the router from the bus.
func (r *CommandRouter) Close() {
	r.bus.Unsubscribe("Command", r.subID)
}
