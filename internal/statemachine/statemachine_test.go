package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidcore/acquisition/internal/acqerrors"
	"github.com/squidcore/acquisition/internal/bus"
)

type liveState int

const (
	stateStopped liveState = iota
	stateStarting
	stateLive
	stateStopping
)

func (s liveState) String() string {
	return [...]string{"Stopped", "Starting", "Live", "Stopping"}[s]
}

func liveTable() Table[liveState] {
	return NewTable(
		[2]liveState{stateStopped, stateStarting},
		[2]liveState{stateStarting, stateLive},
		[2]liveState{stateLive, stateStopping},
		[2]liveState{stateStopping, stateStopped},
	)
}

func TestTransitionToAllowed(t *testing.T) {
	m := New("Live", stateStopped, liveTable())
	require.NoError(t, m.TransitionTo(stateStarting))
	assert.Equal(t, stateStarting, m.State())
}

func TestTransitionToRejectsIllegalEdge(t *testing.T) {
	m := New("Live", stateStopped, liveTable())
	err := m.TransitionTo(stateLive)
	require.Error(t, err)
	var invalid *acqerrors.InvalidStateTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, stateStopped, m.State(), "state must not change on rejected transition")
}

func TestForceStateBypassesTable(t *testing.T) {
	m := New("Live", stateLive, liveTable())
	m.ForceState(stateStopped, "camera failure")
	assert.Equal(t, stateStopped, m.State())
}

func TestCommandWhitelist(t *testing.T) {
	m := New("Live", stateStopped, liveTable())
	m.SetCommandWhitelist(stateStopped, []string{"StartLive"})
	m.SetCommandWhitelist(stateLive, []string{"StopLive"})

	assert.True(t, m.IsCommandValid("StartLive"))
	assert.False(t, m.IsCommandValid("StopLive"))

	require.NoError(t, m.CheckCommand("StartLive"))
	err := m.CheckCommand("StopLive")
	require.Error(t, err)
	var invalid *acqerrors.InvalidStateForOperation
	require.ErrorAs(t, err, &invalid)
}

func TestStateWithNoWhitelistAcceptsAnyCommand(t *testing.T) {
	m := New("Live", stateStopped, liveTable())
	assert.True(t, m.IsCommandValid("AnythingGoes"))
}

func TestTransitionPublishesStateChanged(t *testing.T) {
	m := New("Live", stateStopped, liveTable())
	b := bus.New(8)
	b.Start()
	defer b.Stop()
	m.SetEventBus(b)

	done := make(chan bus.StateChanged, 1)
	b.Subscribe("StateChanged", func(e bus.Event) error {
		done <- e.(bus.StateChanged)
		return nil
	})

	require.NoError(t, m.TransitionTo(stateStarting))

	select {
	case got := <-done:
		assert.Equal(t, "Live", got.Controller)
		assert.Equal(t, "Stopped", got.From)
		assert.Equal(t, "Starting", got.To)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for StateChanged event")
	}
}
