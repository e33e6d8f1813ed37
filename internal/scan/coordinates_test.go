package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidcore/acquisition/internal/acqmodel"
)

func TestAddRegionSquareGridCoversCenter(t *testing.T) {
	c := New(DefaultStageLimits())
	require.NoError(t, c.AddRegion("A1", acqmodel.Position{XMm: 0, YMm: 0}, 2.0, 0.1, 1.0, 1.0, ShapeSquare))

	r := c.Region("A1")
	require.NotNil(t, r)
	assert.NotEmpty(t, r.FOVs)
}

func TestAddRegionRejectsOutOfLimitRegion(t *testing.T) {
	limits := StageLimits{XNegMm: -1, XPosMm: 1, YNegMm: -1, YPosMm: 1}
	c := New(limits)
	err := c.AddRegion("A1", acqmodel.Position{XMm: 50, YMm: 50}, 2.0, 0.1, 1.0, 1.0, ShapeSquare)
	require.Error(t, err)
}

func TestAddRegionCircleKeepsCenterTileWhenGridEmpty(t *testing.T) {
	limits := StageLimits{XNegMm: -0.01, XPosMm: 0.01, YNegMm: -0.01, YPosMm: 0.01}
	c := New(limits)
	require.NoError(t, c.AddRegion("A1", acqmodel.Position{XMm: 0, YMm: 0}, 5.0, 0.0, 1.0, 1.0, ShapeCircle))
	r := c.Region("A1")
	require.Len(t, r.FOVs, 1)
}

func TestAddFlexibleRegionBuildsExactGridSize(t *testing.T) {
	c := New(DefaultStageLimits())
	require.NoError(t, c.AddFlexibleRegion("A1", acqmodel.Position{}, 3, 2, 0.1, 1.0, 1.0))
	r := c.Region("A1")
	assert.Len(t, r.FOVs, 6)
}

func TestAddFlexibleRegionWithStepSize(t *testing.T) {
	c := New(DefaultStageLimits())
	require.NoError(t, c.AddFlexibleRegionWithStepSize("A1", acqmodel.Position{}, 2, 2, 0.5, 0.5))
	r := c.Region("A1")
	assert.Len(t, r.FOVs, 4)
}

func TestAddTemplateRegionOffsetsFromOrigin(t *testing.T) {
	c := New(DefaultStageLimits())
	require.NoError(t, c.AddTemplateRegion("T1", 10, 10, 0.5, []float64{0, 1}, []float64{0, 1}))
	r := c.Region("T1")
	require.Len(t, r.FOVs, 2)
	assert.InDelta(t, 10.0, r.FOVs[0].XMm, 1e-9)
	assert.InDelta(t, 11.0, r.FOVs[1].XMm, 1e-9)
}

func TestGetPointsForManualRegionRayCasting(t *testing.T) {
	c := New(DefaultStageLimits())
	square := []Point2D{{XMm: 0, YMm: 0}, {XMm: 10, YMm: 0}, {XMm: 10, YMm: 10}, {XMm: 0, YMm: 10}}
	require.NoError(t, c.GetPointsForManualRegion("M1", square, 0.1, 1.0, 1.0, 0))
	r := c.Region("M1")
	require.NotEmpty(t, r.FOVs)
	for _, fov := range r.FOVs {
		assert.GreaterOrEqual(t, fov.XMm, -0.5)
		assert.LessOrEqual(t, fov.XMm, 10.5)
	}
	assert.True(t, r.Manual)
}

func TestUpdateFOVZLevelUpdatesCenterForFirstFOV(t *testing.T) {
	c := New(DefaultStageLimits())
	require.NoError(t, c.AddFlexibleRegion("A1", acqmodel.Position{}, 2, 1, 0.1, 1.0, 1.0))
	require.NoError(t, c.UpdateFOVZLevel("A1", 0, 3.5))
	r := c.Region("A1")
	assert.InDelta(t, 3.5, r.FOVs[0].ZMm, 1e-9)
	assert.InDelta(t, 3.5, r.Center.ZMm, 1e-9)
}

func TestSortCoordinatesOrdersManualFirstThenRowColumn(t *testing.T) {
	c := New(DefaultStageLimits())
	require.NoError(t, c.AddFlexibleRegion("B2", acqmodel.Position{}, 1, 1, 0, 1, 1))
	require.NoError(t, c.AddFlexibleRegion("A1", acqmodel.Position{}, 1, 1, 0, 1, 1))
	require.NoError(t, c.AddFlexibleRegion("A10", acqmodel.Position{}, 1, 1, 0, 1, 1))
	square := []Point2D{{XMm: 0, YMm: 0}, {XMm: 1, YMm: 0}, {XMm: 1, YMm: 1}, {XMm: 0, YMm: 1}}
	require.NoError(t, c.GetPointsForManualRegion("manual-1", square, 0, 1, 1, 0))

	c.SortCoordinates()
	ids := c.RegionIDs()
	assert.Equal(t, "manual-1", ids[0])
	assert.Equal(t, []string{"manual-1", "A1", "A10", "B2"}, ids)
}

func TestSnapshotClonesIndependentlyOfFurtherMutation(t *testing.T) {
	c := New(DefaultStageLimits())
	require.NoError(t, c.AddFlexibleRegion("A1", acqmodel.Position{}, 1, 1, 0, 1, 1))

	snap := c.Snapshot()
	require.NoError(t, c.UpdateFOVZLevel("A1", 0, 99))

	assert.NotEqual(t, 99.0, snap.RegionFOVCoordsMm["A1"][0].ZMm)
}

func TestSPatternReversesAlternateRows(t *testing.T) {
	c := New(DefaultStageLimits())
	c.SetSPattern(true)
	require.NoError(t, c.AddFlexibleRegion("A1", acqmodel.Position{}, 3, 2, 0, 1, 1))
	r := c.Region("A1")
	require.Len(t, r.FOVs, 6)
	// First row (indices 0-2) ascending X, second row (3-5) descending X.
	assert.Less(t, r.FOVs[0].XMm, r.FOVs[1].XMm)
	assert.Greater(t, r.FOVs[3].XMm, r.FOVs[4].XMm)
}
