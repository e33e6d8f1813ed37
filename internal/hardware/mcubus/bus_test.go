package mcubus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidcore/acquisition/internal/acqerrors"
	"github.com/squidcore/acquisition/internal/acqmodel"
)

func TestSendCommandRoundTrip(t *testing.T) {
	port := NewMockPort()
	b := New(port, time.Second)

	resp, err := b.SendCommand("PING")
	require.NoError(t, err)
	assert.Equal(t, "OK", resp)
	assert.Equal(t, "PING", port.LastCommand())
}

func TestSendCommandTimesOut(t *testing.T) {
	port := NewMockPort()
	port.Respond = func(string) string {
		time.Sleep(50 * time.Millisecond)
		return "OK"
	}
	// Respond is invoked inside Write, which holds the mock's own lock and
	// sleeps before appending to readBuf, so the bus's short timeout below
	// elapses first.
	b := New(port, 5*time.Millisecond)

	_, err := b.SendCommand("SLOW")
	require.Error(t, err)
	var timeout *acqerrors.HardwareTimeout
	assert.ErrorAs(t, err, &timeout)
}

func TestStageGetPositionParsesResponse(t *testing.T) {
	port := NewMockPort()
	port.Respond = func(cmd string) string {
		if cmd == "POS" {
			return "OK,1.500000,2.500000,0.100000"
		}
		return "OK"
	}
	b := New(port, time.Second)
	stage := NewStage(b)

	pos, err := stage.GetPosition()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, pos.XMm, 1e-9)
	assert.InDelta(t, 2.5, pos.YMm, 1e-9)
	assert.InDelta(t, 0.1, pos.ZMm, 1e-9)
}

func TestStageMoveTo(t *testing.T) {
	port := NewMockPort()
	b := New(port, time.Second)
	stage := NewStage(b)

	err := stage.MoveTo(context.Background(), acqmodel.Position{XMm: 3, YMm: 4, ZMm: 0.2})
	require.NoError(t, err)
	assert.Contains(t, port.LastCommand(), "MOVEXYZ,")
}

func TestPiezoRejectsOutOfRangeTarget(t *testing.T) {
	port := NewMockPort()
	b := New(port, time.Second)
	piezo := NewPiezo(b, 0, 300)

	err := piezo.MoveToZUm(context.Background(), 500)
	require.Error(t, err)
}

func TestIlluminationOnOffTracksState(t *testing.T) {
	port := NewMockPort()
	b := New(port, time.Second)
	illum := NewIllumination(b)

	require.NoError(t, illum.On())
	assert.True(t, illum.IsOn())
	require.NoError(t, illum.Off())
	assert.False(t, illum.IsOn())
}

func TestJoystickDisableEnable(t *testing.T) {
	port := NewMockPort()
	b := New(port, time.Second)
	j := NewJoystick(b)

	require.True(t, j.Enabled())
	require.NoError(t, j.Disable())
	assert.False(t, j.Enabled())
	require.NoError(t, j.Enable())
	assert.True(t, j.Enabled())
}
