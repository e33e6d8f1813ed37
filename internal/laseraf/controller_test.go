package laseraf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/fsutil"
	"github.com/squidcore/acquisition/internal/hardware"
	"github.com/squidcore/acquisition/internal/timeutil"
)

const (
	testWidth  = 64
	testHeight = 64
)

// fakeAFCamera is a hardware.AutofocusCamera test double whose
// CaptureFrame returns a synthetic frame with a bright spot at spotX
// (mutable between calls to simulate stage/piezo motion) or a blank frame
// when noSpot is set.
type fakeAFCamera struct {
	spotX     float64
	noSpot    bool
	laserOn   bool
	roi       acqmodel.LaserAFROI
	setROICnt int
}

func (c *fakeAFCamera) CaptureFrame(ctx context.Context) (hardware.Frame, error) {
	pixels := make([]float64, testWidth*testHeight)
	if !c.noSpot {
		cx, cy := int(c.spotX), testHeight/2
		for dy := -2; dy <= 2; dy++ {
			for dx := -2; dx <= 2; dx++ {
				x, y := cx+dx, cy+dy
				if x < 0 || x >= testWidth || y < 0 || y >= testHeight {
					continue
				}
				pixels[y*testWidth+x] = 200
			}
		}
	}
	return hardware.Frame{Pixels: pixels, Width: testWidth, Height: testHeight, CapturedAt: time.Now()}, nil
}

func (c *fakeAFCamera) SetROI(offsetX, offsetY, width, height int) error {
	c.setROICnt++
	c.roi = acqmodel.LaserAFROI{OffsetX: offsetX, OffsetY: offsetY, Width: width, Height: height}
	return nil
}

func (c *fakeAFCamera) LaserOn() error  { c.laserOn = true; return nil }
func (c *fakeAFCamera) LaserOff() error { c.laserOn = false; return nil }

// fakeStage is a minimal hardware.Stage double tracking Z in mm.
type fakeStage struct {
	zMm float64
}

func (f *fakeStage) GetPosition() (acqmodel.Position, error) { return acqmodel.Position{ZMm: f.zMm}, nil }
func (f *fakeStage) MoveTo(ctx context.Context, pos acqmodel.Position) error {
	f.zMm = pos.ZMm
	return nil
}
func (f *fakeStage) MoveZ(ctx context.Context, zMm float64) error {
	f.zMm = zMm
	return nil
}

func defaultSpotParams() acqmodel.SpotDetectionParams {
	return acqmodel.SpotDetectionParams{
		WindowSize:  40,
		PeakMinArea: 1,
		PeakMaxArea: 1000,
		CCThreshold: 50,
		Mode:        acqmodel.SpotDetectionSingle,
	}
}

func defaultConfig() acqmodel.LaserAFConfig {
	return acqmodel.LaserAFConfig{
		Objective: "20x",
		Thresholds: acqmodel.LaserAFThresholds{
			CorrelationThreshold: 0.5,
			LaserAFRangeUm:       100,
			LaserAFAveragingN:    1,
		},
		SpotParams: defaultSpotParams(),
	}
}

func newTestController(cam *fakeAFCamera, stage *fakeStage, cfg acqmodel.LaserAFConfig) *Controller {
	store := NewSettingsStore(fsutil.NewMemoryFileSystem(), "/laseraf")
	return New(cam, stage, nil, nil, store, timeutil.NewMockClock(time.Unix(0, 0)), cfg)
}

func TestInitializeAutoCalibratesPixelToUm(t *testing.T) {
	stage := &fakeStage{zMm: 0}
	cam := &fakeAFCamera{spotX: 32}
	c := newTestController(cam, stage, defaultConfig())

	require.NoError(t, c.InitializeAuto(context.Background()))
	assert.True(t, c.IsInitialized())
	assert.True(t, cam.laserOn)
	assert.Greater(t, cam.setROICnt, 0)
	assert.InDelta(t, 0.0, stage.zMm, 1e-9) // restored after calibration sweep
}

func TestInitializeAutoFallsBackWhenNoShiftDetected(t *testing.T) {
	stage := &fakeStage{zMm: 0}
	cam := &fakeAFCamera{spotX: 32}
	c := newTestController(cam, stage, defaultConfig())

	// Spot position never changes with Z in this fake, so the
	// calibration shift is zero and the fallback constant applies.
	require.NoError(t, c.InitializeAuto(context.Background()))
	assert.InDelta(t, FallbackPixelToUm, c.config.Calibration.PixelToUm, 1e-9)
}

func TestSetReferenceStoresCropAndXReference(t *testing.T) {
	stage := &fakeStage{zMm: 0}
	cam := &fakeAFCamera{spotX: 32}
	c := newTestController(cam, stage, defaultConfig())

	require.NoError(t, c.SetReference(context.Background()))
	assert.True(t, c.config.Reference.HasReference)
	assert.InDelta(t, 32.0, c.config.Reference.XReference, 1.0)
	assert.NotEmpty(t, c.config.Reference.ReferenceCrop)
}

func TestMeasureDisplacementWithoutSearch(t *testing.T) {
	stage := &fakeStage{zMm: 0}
	cam := &fakeAFCamera{spotX: 32}
	cfg := defaultConfig()
	cfg.Calibration.PixelToUm = 1.0
	c := newTestController(cam, stage, cfg)
	require.NoError(t, c.SetReference(context.Background()))

	cam.spotX = 34
	d := c.MeasureDisplacement(context.Background(), false)
	assert.InDelta(t, 2.0, d, 1.0)
}

func TestMeasureDisplacementReturnsNaNWhenSpotNeverFound(t *testing.T) {
	stage := &fakeStage{zMm: 0}
	cam := &fakeAFCamera{spotX: 32, noSpot: true}
	c := newTestController(cam, stage, defaultConfig())

	d := c.MeasureDisplacement(context.Background(), true)
	assert.True(t, d != d) // NaN != NaN
}

func TestMoveToTargetSucceedsWhenSpotStaysCorrelated(t *testing.T) {
	stage := &fakeStage{zMm: 0}
	cam := &fakeAFCamera{spotX: 32}
	cfg := defaultConfig()
	cfg.Calibration.PixelToUm = 1.0
	c := newTestController(cam, stage, cfg)
	require.NoError(t, c.SetReference(context.Background()))

	err := c.MoveToTarget(context.Background(), 0)
	assert.NoError(t, err)
}

func TestOnObjectiveChangedResetsInitializedFlag(t *testing.T) {
	stage := &fakeStage{zMm: 0}
	cam := &fakeAFCamera{spotX: 32}
	c := newTestController(cam, stage, defaultConfig())
	require.NoError(t, c.InitializeAuto(context.Background()))
	require.True(t, c.IsInitialized())

	c.OnObjectiveChanged("40x")
	assert.False(t, c.IsInitialized())
	assert.Equal(t, "40x", c.config.Objective)
}

func TestSettingsStoreRoundTrip(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	store := NewSettingsStore(fs, "/laseraf")
	cfg := defaultConfig()
	cfg.Calibration.PixelToUm = 0.42

	require.NoError(t, store.Save(cfg))
	loaded, ok := store.Load("20x")
	require.True(t, ok)
	assert.InDelta(t, 0.42, loaded.Calibration.PixelToUm, 1e-9)

	_, ok = store.Load("missing")
	assert.False(t, ok)
}
