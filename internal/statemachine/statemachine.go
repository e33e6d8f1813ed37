// Package statemachine is the abstract FSM substrate described in
// spec.md §4.3. Each controller (LiveController, MultiPointController, ...)
// embeds a Machine[S] instantiated on its own state enum.
package statemachine

import (
	"fmt"
	"sync"

	"github.com/squidcore/acquisition/internal/acqerrors"
	"github.com/squidcore/acquisition/internal/bus"
)

// Table maps a "from" state to the set of states it may transition to.
type Table[S comparable] map[S]map[S]bool

// NewTable builds a Table from a flat list of (from, to) pairs.
func NewTable[S comparable](edges ...[2]S) Table[S] {
	t := make(Table[S])
	for _, e := range edges {
		if t[e[0]] == nil {
			t[e[0]] = make(map[S]bool)
		}
		t[e[0]][e[1]] = true
	}
	return t
}

// Machine is a thread-safe FSM over states of type S, with an explicit
// transition table and an optional per-state command whitelist.
type Machine[S comparable] struct {
	mu         sync.Mutex
	name       string
	state      S
	table      Table[S]
	whitelist  map[S]map[string]bool
	eventBus   *bus.Bus
}

// New creates a Machine with the given controller name (used in published
// events and error messages), initial state, and transition table.
func New[S comparable](name string, initial S, table Table[S]) *Machine[S] {
	return &Machine[S]{
		name:  name,
		state: initial,
		table: table,
	}
}

// SetEventBus attaches a bus.Bus so every successful transition publishes a
// StateChanged event (spec.md §4.3 "After every transition, a *StateChanged
// event is published").
func (m *Machine[S]) SetEventBus(b *bus.Bus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventBus = b
}

// SetCommandWhitelist restricts which command names are accepted while in
// state s. A state with no whitelist entry accepts any command.
func (m *Machine[S]) SetCommandWhitelist(s S, commands []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.whitelist == nil {
		m.whitelist = make(map[S]map[string]bool)
	}
	set := make(map[string]bool, len(commands))
	for _, c := range commands {
		set[c] = true
	}
	m.whitelist[s] = set
}

// State returns the current state.
func (m *Machine[S]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsCommandValid reports whether command is accepted in the current state.
// A state with no registered whitelist accepts every command.
func (m *Machine[S]) IsCommandValid(command string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.whitelist[m.state]
	if !ok {
		return true
	}
	return set[command]
}

// TransitionTo moves the machine to "to" if the transition table allows it
// from the current state, publishing StateChanged on success. It rejects
// non-whitelisted transitions with *acqerrors.InvalidStateTransition.
func (m *Machine[S]) TransitionTo(to S) error {
	m.mu.Lock()
	from := m.state
	allowed := m.table[from][to]
	if !allowed {
		m.mu.Unlock()
		return &acqerrors.InvalidStateTransition{
			Controller: m.name,
			From:       fmt.Sprintf("%v", from),
			To:         fmt.Sprintf("%v", to),
		}
	}
	m.state = to
	b := m.eventBus
	m.mu.Unlock()

	if b != nil {
		b.Publish(bus.StateChanged{
			Controller: m.name,
			From:       fmt.Sprintf("%v", from),
			To:         fmt.Sprintf("%v", to),
		})
	}
	return nil
}

// ForceState unconditionally sets the state, bypassing the transition
// table, for unrecoverable cleanup paths (spec.md §4.3). reason is logged
// via the published StateChanged event's semantics (callers typically log
// it themselves too).
func (m *Machine[S]) ForceState(to S, reason string) {
	m.mu.Lock()
	from := m.state
	m.state = to
	b := m.eventBus
	m.mu.Unlock()

	if b != nil {
		b.Publish(bus.StateChanged{
			Controller: m.name,
			From:       fmt.Sprintf("%v", from) + " (forced: " + reason + ")",
			To:         fmt.Sprintf("%v", to),
		})
	}
}

// CheckCommand validates a command against the current state's whitelist,
// returning *acqerrors.InvalidStateForOperation when rejected. Callers
// should drop the command (log only) on error, per spec.md §4.3.
func (m *Machine[S]) CheckCommand(command string) error {
	if m.IsCommandValid(command) {
		return nil
	}
	return &acqerrors.InvalidStateForOperation{
		Controller: m.name,
		State:      fmt.Sprintf("%v", m.State()),
		Command:    command,
	}
}
