package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidcore/acquisition/internal/acqerrors"
	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/bus"
	"github.com/squidcore/acquisition/internal/timeutil"
)

func TestAcquireGrantsDisjointResources(t *testing.T) {
	c := New(nil, nil)
	l1, err := c.Acquire([]acqmodel.Resource{acqmodel.CameraControl}, "live", acqmodel.ModeLive, nil)
	require.NoError(t, err)
	require.NotNil(t, l1)

	l2, err := c.Acquire([]acqmodel.Resource{acqmodel.StageControl}, "multipoint", acqmodel.ModeAcquiring, nil)
	require.NoError(t, err)
	require.NotNil(t, l2)

	assert.Equal(t, acqmodel.GlobalAcquiring, c.GlobalMode())
}

func TestAcquireRejectsOverlappingResources(t *testing.T) {
	c := New(nil, nil)
	_, err := c.Acquire([]acqmodel.Resource{acqmodel.CameraControl, acqmodel.StageControl}, "live", acqmodel.ModeLive, nil)
	require.NoError(t, err)

	_, err = c.Acquire([]acqmodel.Resource{acqmodel.StageControl}, "multipoint", acqmodel.ModeAcquiring, nil)
	require.Error(t, err)
	var unavailable *acqerrors.ResourceUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "multipoint", unavailable.Owner)
}

func TestAcquireIsAllOrNothing(t *testing.T) {
	c := New(nil, nil)
	_, err := c.Acquire([]acqmodel.Resource{acqmodel.CameraControl}, "live", acqmodel.ModeLive, nil)
	require.NoError(t, err)

	_, err = c.Acquire([]acqmodel.Resource{acqmodel.StageControl, acqmodel.CameraControl}, "multipoint", acqmodel.ModeAcquiring, nil)
	require.Error(t, err)

	holders := c.Holders()
	_, stageHeld := holders[acqmodel.StageControl]
	assert.False(t, stageHeld, "stage must not be held after a failed all-or-nothing acquire")
}

func TestReleaseFreesResourcesAndRecomputesMode(t *testing.T) {
	c := New(nil, nil)
	lease, err := c.Acquire([]acqmodel.Resource{acqmodel.CameraControl}, "live", acqmodel.ModeLive, nil)
	require.NoError(t, err)
	assert.Equal(t, acqmodel.GlobalLive, c.GlobalMode())

	c.Release(lease)
	assert.Equal(t, acqmodel.GlobalIdle, c.GlobalMode())
	assert.Empty(t, c.Holders())
}

func TestGlobalModePrecedence(t *testing.T) {
	c := New(nil, nil)
	_, err := c.Acquire([]acqmodel.Resource{acqmodel.IlluminationControl}, "live", acqmodel.ModeLive, nil)
	require.NoError(t, err)
	assert.Equal(t, acqmodel.GlobalLive, c.GlobalMode())

	_, err = c.Acquire([]acqmodel.Resource{acqmodel.CameraControl}, "af", acqmodel.ModeAutofocusing, nil)
	require.NoError(t, err)
	assert.Equal(t, acqmodel.GlobalAutofocusing, c.GlobalMode())

	_, err = c.Acquire([]acqmodel.Resource{acqmodel.StageControl}, "multipoint", acqmodel.ModeAcquiring, nil)
	require.NoError(t, err)
	assert.Equal(t, acqmodel.GlobalAcquiring, c.GlobalMode())
}

func TestWatchdogRevokesExpiredLease(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	b := bus.New(8)
	b.Start()
	defer b.Stop()

	c := New(b, clock)
	c.SetWatchdogInterval(10 * time.Millisecond)

	revoked := make(chan bus.LeaseRevoked, 1)
	b.Subscribe("LeaseRevoked", func(e bus.Event) error {
		revoked <- e.(bus.LeaseRevoked)
		return nil
	})

	timeout := 5 * time.Millisecond
	lease, err := c.Acquire([]acqmodel.Resource{acqmodel.CameraControl}, "stuck-job", acqmodel.ModeAcquiring, &timeout)
	require.NoError(t, err)
	require.NotNil(t, lease)

	c.StartWatchdog()
	defer c.StopWatchdog()

	clock.Advance(20 * time.Millisecond)

	select {
	case got := <-revoked:
		assert.Equal(t, lease.LeaseID, got.LeaseID)
		assert.Equal(t, "stuck-job", got.Owner)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for LeaseRevoked event")
	}

	assert.Empty(t, c.Holders())
}

func TestAcquireLeaseHoldsReportedResources(t *testing.T) {
	c := New(nil, nil)
	lease, err := c.Acquire([]acqmodel.Resource{acqmodel.PiezoControl}, "af", acqmodel.ModeAutofocusing, nil)
	require.NoError(t, err)
	assert.True(t, lease.Holds(acqmodel.PiezoControl))
	assert.False(t, lease.Holds(acqmodel.StageControl))
}
