// Package laseraf implements LaserAutofocusController (spec.md §4.6): a
// dedicated focus camera images a laser spot reflected off the sample
// surface, and the spot's horizontal pixel position tracks sample Z
// through a per-objective calibrated pixel_to_um constant.
package laseraf

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/squidcore/acquisition/internal/acqerrors"
	"github.com/squidcore/acquisition/internal/acqlog"
	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/bus"
	"github.com/squidcore/acquisition/internal/hardware"
	"github.com/squidcore/acquisition/internal/timeutil"
)

// FallbackPixelToUm is used when a calibration move produces no measurable
// centroid shift (spec.md §4.6 initialize_auto: "If x1 - x0 == 0, log
// warning and use a fallback").
const FallbackPixelToUm = 0.4

// zSearchStepUm is the fixed step size for measure_displacement's Z search
// (spec.md §4.6).
const zSearchStepUm = 10.0

// Controller drives the focus camera and stage/piezo to hold a sample
// surface at a target displacement from a calibrated reference.
type Controller struct {
	camera hardware.AutofocusCamera
	stage  hardware.Stage
	piezo  hardware.Piezo // nil when UsePiezo is false
	bus    *bus.Bus
	store  *SettingsStore
	clock  timeutil.Clock

	config      acqmodel.LaserAFConfig
	initialized bool

	calibrationDistanceUm float64
	spotCropSize          int
	searchDownFirst       bool
	piezoDelay            time.Duration

	// lastZSearch records the most recent searchZForSpot's candidate
	// trace, for internal/diagnostics to render on a move_to_target
	// failure. Scratch state: only the most recent call is kept.
	lastZSearch []ZSearchSample
}

// ZSearchSample is one candidate offset tried during searchZForSpot, in
// search order.
type ZSearchSample struct {
	OffsetUm       float64
	DisplacementUm float64
	SpotFound      bool
}

// LastZSearch returns the candidate trace from the most recent
// searchZForSpot call, or nil if it has not run yet.
func (c *Controller) LastZSearch() []ZSearchSample {
	return c.lastZSearch
}

// Option configures tunables that spec.md names as configuration flags
// (LASER_AF_SEARCH_DOWN_FIRST, MULTIPOINT_PIEZO_DELAY_MS) rather than
// per-objective persisted state.
type Option func(*Controller)

// WithSearchDownFirst sets LASER_AF_SEARCH_DOWN_FIRST (spec.md §4.6
// measure_displacement step 3).
func WithSearchDownFirst(downFirst bool) Option {
	return func(c *Controller) { c.searchDownFirst = downFirst }
}

// WithPiezoDelay sets MULTIPOINT_PIEZO_DELAY_MS, the settle time after a
// piezo move during Z search.
func WithPiezoDelay(d time.Duration) Option {
	return func(c *Controller) { c.piezoDelay = d }
}

// WithCalibrationDistanceUm sets the ± sweep used by InitializeAuto to
// derive pixel_to_um. Defaults to 60um.
func WithCalibrationDistanceUm(umTotal float64) Option {
	return func(c *Controller) { c.calibrationDistanceUm = umTotal }
}

// WithSpotCropSize sets the reference crop window side length in pixels.
// Defaults to 20.
func WithSpotCropSize(px int) Option {
	return func(c *Controller) { c.spotCropSize = px }
}

// New builds a Controller for the given objective's persisted (or default)
// config. piezo may be nil if the rig has no piezo stage; stage-based Z
// moves are then used everywhere.
func New(camera hardware.AutofocusCamera, stage hardware.Stage, piezo hardware.Piezo, b *bus.Bus, store *SettingsStore, clock timeutil.Clock, cfg acqmodel.LaserAFConfig, opts ...Option) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	c := &Controller{
		camera:                camera,
		stage:                 stage,
		piezo:                 piezo,
		bus:                   b,
		store:                 store,
		clock:                 clock,
		config:                cfg,
		calibrationDistanceUm: 60,
		spotCropSize:          20,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsInitialized reports whether InitializeAuto has succeeded since the
// last objective/profile change.
func (c *Controller) IsInitialized() bool { return c.initialized }

// OnObjectiveChanged loads the cached settings for the new objective
// without touching hardware, and marks the controller uninitialized
// (spec.md §4.6 "Objective change / profile change -> is_initialized =
// false; load cached settings without touching hardware").
func (c *Controller) OnObjectiveChanged(objective string) {
	c.initialized = false
	if cfg, ok := c.store.Load(objective); ok {
		c.config = cfg
	} else {
		c.config = acqmodel.LaserAFConfig{Objective: objective}
	}
	c.publish(bus.LaserAFPropertiesChanged{Objective: objective})
}

// InitializeAuto performs full calibration (spec.md §4.6 initialize_auto).
func (c *Controller) InitializeAuto(ctx context.Context) error {
	if err := c.camera.SetROI(0, 0, 0, 0); err != nil {
		return fmt.Errorf("laseraf: full-sensor ROI: %w", err)
	}
	if err := c.camera.LaserOn(); err != nil {
		return fmt.Errorf("laseraf: laser on: %w", err)
	}

	x0, _, ok := c.getLaserSpotCentroid(ctx, true)
	if !ok {
		return acqerrors.NewConfigurationError("initialize_auto: no spot detected on full sensor")
	}
	c.config.ROI = roiAround(x0, c.config.SpotParams.WindowSize)
	if err := c.camera.SetROI(c.config.ROI.OffsetX, c.config.ROI.OffsetY, c.config.ROI.Width, c.config.ROI.Height); err != nil {
		return fmt.Errorf("laseraf: setting spot ROI: %w", err)
	}
	c.config.Reference = acqmodel.LaserAFReference{}

	originalZ, err := c.currentZ()
	if err != nil {
		return fmt.Errorf("laseraf: reading z for calibration: %w", err)
	}
	half := c.calibrationDistanceUm / 2
	if err := c.moveZRelativeUm(ctx, -half); err != nil {
		return fmt.Errorf("laseraf: calibration move down: %w", err)
	}
	xDown, _, downOK := c.getLaserSpotCentroid(ctx, false)

	if err := c.moveZRelativeUm(ctx, c.calibrationDistanceUm); err != nil {
		return fmt.Errorf("laseraf: calibration move up: %w", err)
	}
	xUp, _, upOK := c.getLaserSpotCentroid(ctx, false)

	if err := c.restoreZ(ctx, originalZ); err != nil {
		return fmt.Errorf("laseraf: restoring z after calibration: %w", err)
	}

	pixelToUm := FallbackPixelToUm
	if downOK && upOK && xUp-xDown != 0 {
		pixelToUm = c.calibrationDistanceUm / (xUp - xDown)
	} else {
		acqlog.Logf("laseraf: calibration shift was zero or undetectable, using fallback pixel_to_um=%.4f", FallbackPixelToUm)
	}

	c.config.Calibration = acqmodel.LaserAFCalibration{PixelToUm: pixelToUm, Timestamp: c.clock.Now()}
	if err := c.store.Save(c.config); err != nil {
		acqlog.Logf("laseraf: failed to persist calibration: %v", err)
	}
	c.initialized = true
	c.publish(bus.LaserAFInitialized{Objective: c.config.Objective, PixelToUm: pixelToUm})
	return nil
}

// SetReference captures and stores the reference crop (spec.md §4.6
// set_reference).
func (c *Controller) SetReference(ctx context.Context) error {
	if err := c.camera.LaserOn(); err != nil {
		return fmt.Errorf("laseraf: laser on: %w", err)
	}
	x, y, ok := c.getLaserSpotCentroid(ctx, false)
	if !ok {
		return acqerrors.NewConfigurationError("set_reference: no spot detected")
	}
	frame, err := c.camera.CaptureFrame(ctx)
	if err != nil {
		return fmt.Errorf("laseraf: capturing reference frame: %w", err)
	}
	crop := cropAndNormalize(frame, x, y, c.spotCropSize)

	c.config.Reference = acqmodel.LaserAFReference{
		HasReference:        true,
		XReference:           x,
		ReferenceCropWidth:   c.spotCropSize,
		ReferenceCropHeight:  c.spotCropSize,
		ReferenceCrop:        crop,
	}
	if err := c.store.Save(c.config); err != nil {
		acqlog.Logf("laseraf: failed to persist reference: %v", err)
	}
	c.publish(bus.LaserAFReferenceSet{Objective: c.config.Objective})
	return nil
}

// MeasureDisplacement returns the current displacement in microns relative
// to x_reference, searching across Z if searchForSpot and the spot is not
// visible at the current position (spec.md §4.6 measure_displacement).
// Returns NaN (not an error) if nothing is found.
func (c *Controller) MeasureDisplacement(ctx context.Context, searchForSpot bool) float64 {
	if err := c.camera.LaserOn(); err != nil {
		acqlog.Logf("laseraf: laser on failed: %v", err)
		return math.NaN()
	}

	x, _, ok := c.getLaserSpotCentroid(ctx, false)
	if ok {
		d := (x - c.config.Reference.XReference) * c.config.Calibration.PixelToUm
		c.publish(bus.LaserAFDisplacementMeasured{DisplacementUm: d})
		return d
	}

	if !searchForSpot {
		return math.NaN()
	}

	originalZ, err := c.currentZ()
	if err != nil {
		acqlog.Logf("laseraf: reading z for search: %v", err)
		return math.NaN()
	}

	d, found := c.searchZForSpot(ctx, originalZ)
	if !found {
		if err := c.restoreZ(ctx, originalZ); err != nil {
			acqlog.Logf("laseraf: restoring z after failed search: %v", err)
		}
		return math.NaN()
	}
	c.publish(bus.LaserAFDisplacementMeasured{DisplacementUm: d})
	return d
}

// searchZForSpot sweeps candidate Z offsets per spec.md §4.6
// measure_displacement step 3 and returns the first displacement whose
// magnitude is within step+4um, or (0, false) if none qualify.
func (c *Controller) searchZForSpot(ctx context.Context, originalZ float64) (float64, bool) {
	rangeUm := c.config.Thresholds.LaserAFRangeUm
	candidates := zSearchCandidates(rangeUm, zSearchStepUm, c.searchDownFirst)
	trace := make([]ZSearchSample, 0, len(candidates))

	for _, offsetUm := range candidates {
		if err := c.moveZAbsoluteUm(ctx, originalZ+offsetUm); err != nil {
			acqlog.Logf("laseraf: z-search move to offset %.2fum failed: %v", offsetUm, err)
			continue
		}
		if c.piezo != nil && c.piezoDelay > 0 {
			c.clock.Sleep(c.piezoDelay)
		}

		x, _, ok := c.getLaserSpotCentroid(ctx, false)
		if !ok {
			trace = append(trace, ZSearchSample{OffsetUm: offsetUm, SpotFound: false})
			continue
		}
		d := (x - c.config.Reference.XReference) * c.config.Calibration.PixelToUm
		trace = append(trace, ZSearchSample{OffsetUm: offsetUm, DisplacementUm: d, SpotFound: true})
		if math.Abs(d) <= zSearchStepUm+4 {
			c.lastZSearch = trace
			return d, true
		}
	}
	c.lastZSearch = trace
	return 0, false
}

// zSearchCandidates builds [downward sweep] + [0] + [upward sweep] (or the
// reverse, per downFirst), per spec.md §4.6.
func zSearchCandidates(rangeUm, stepUm float64, downFirst bool) []float64 {
	var down, up []float64
	for off := stepUm; off <= rangeUm+1e-9; off += stepUm {
		down = append(down, -off)
		up = append(up, off)
	}
	var out []float64
	if downFirst {
		out = append(out, down...)
		out = append(out, 0)
		out = append(out, up...)
	} else {
		out = append(out, up...)
		out = append(out, 0)
		out = append(out, down...)
	}
	return out
}

// MoveToTarget drives the sample to targetUm displacement from the
// reference, verifying with cross-correlation before committing (spec.md
// §4.6 move_to_target).
func (c *Controller) MoveToTarget(ctx context.Context, targetUm float64) error {
	originalZ, err := c.currentZ()
	if err != nil {
		return fmt.Errorf("laseraf: reading original z: %w", err)
	}

	currentDisplacement := c.MeasureDisplacement(ctx, true)
	if math.IsNaN(currentDisplacement) || math.Abs(currentDisplacement) > c.config.Thresholds.LaserAFRangeUm {
		c.restoreOrLog(ctx, originalZ)
		c.publish(bus.LaserAFMoveCompleted{Success: false})
		return acqerrors.NewConfigurationError("move_to_target: displacement unavailable or out of range")
	}

	deltaUm := targetUm - currentDisplacement
	if err := c.moveZRelativeUm(ctx, deltaUm); err != nil {
		c.restoreOrLog(ctx, originalZ)
		c.publish(bus.LaserAFMoveCompleted{Success: false})
		return fmt.Errorf("laseraf: move_to_target move failed: %w", err)
	}

	correlation, verifyOK := c.verifyByCrossCorrelation(ctx)
	c.publish(bus.LaserAFCrossCorrelationMeasured{Correlation: correlation})
	if !verifyOK {
		c.restoreOrLog(ctx, originalZ)
		c.publish(bus.LaserAFMoveCompleted{Success: false})
		return acqerrors.NewConfigurationError(fmt.Sprintf("move_to_target: correlation %.4f below threshold %.4f", correlation, c.config.Thresholds.CorrelationThreshold))
	}

	finalZ, _ := c.currentZ()
	c.publish(bus.LaserAFMoveCompleted{Success: true, ZMm: finalZ})
	return nil
}

// verifyByCrossCorrelation recaptures a frame, crops around the detected
// peak (not around x_reference, per spec.md §4.6 move_to_target step 5),
// and computes its Pearson correlation against the stored reference crop.
func (c *Controller) verifyByCrossCorrelation(ctx context.Context) (float64, bool) {
	x, y, ok := c.getLaserSpotCentroid(ctx, false)
	if !ok {
		return 0, false
	}
	frame, err := c.camera.CaptureFrame(ctx)
	if err != nil {
		acqlog.Logf("laseraf: verification capture failed: %v", err)
		return 0, false
	}
	crop := cropAndNormalize(frame, x, y, c.config.Reference.ReferenceCropWidth)
	if len(crop) != len(c.config.Reference.ReferenceCrop) || len(crop) == 0 {
		return 0, false
	}
	correlation := stat.Correlation(crop, c.config.Reference.ReferenceCrop, nil)
	return correlation, correlation >= c.config.Thresholds.CorrelationThreshold
}

func (c *Controller) restoreOrLog(ctx context.Context, originalZ float64) {
	if err := c.restoreZ(ctx, originalZ); err != nil {
		acqlog.Logf("laseraf: failed to restore z: %v", err)
	}
}

// getLaserSpotCentroid makes laser_af_averaging_n capture attempts and
// averages the successful detections (spec.md §4.6
// "_get_laser_spot_centroid").
func (c *Controller) getLaserSpotCentroid(ctx context.Context, cropHint bool) (x, y float64, found bool) {
	n := c.config.Thresholds.LaserAFAveragingN
	if n < 1 {
		n = 1
	}

	var sumX, sumY float64
	successes := 0
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		frame, err := c.camera.CaptureFrame(ctx)
		if err != nil {
			continue
		}
		px, py, ok := findSpotCentroid(frame, c.config.SpotParams, cropHint)
		if !ok {
			continue
		}
		sumX += px
		sumY += py
		successes++
	}

	if successes == 0 {
		c.publish(bus.LaserAFSpotCentroidMeasured{Found: false})
		return 0, 0, false
	}
	x, y = sumX/float64(successes), sumY/float64(successes)
	c.publish(bus.LaserAFSpotCentroidMeasured{X: x, Y: y, Found: true})
	return x, y, true
}

func (c *Controller) currentZ() (float64, error) {
	if c.piezo != nil {
		zUm, err := c.piezo.GetZUm()
		return zUm, err
	}
	pos, err := c.stage.GetPosition()
	return pos.ZMm * 1000, err
}

func (c *Controller) restoreZ(ctx context.Context, zUm float64) error {
	return c.moveZAbsoluteUm(ctx, zUm)
}

func (c *Controller) moveZRelativeUm(ctx context.Context, deltaUm float64) error {
	current, err := c.currentZ()
	if err != nil {
		return err
	}
	return c.moveZAbsoluteUm(ctx, current+deltaUm)
}

func (c *Controller) moveZAbsoluteUm(ctx context.Context, zUm float64) error {
	if c.piezo != nil {
		min, max := c.piezo.RangeUm()
		if zUm < min {
			zUm = min
		}
		if zUm > max {
			zUm = max
		}
		return c.piezo.MoveToZUm(ctx, zUm)
	}
	return c.stage.MoveZ(ctx, zUm/1000)
}

func (c *Controller) publish(e bus.Event) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(e)
}

// roiAround builds a square ROI of side windowSize centered at pixel x on
// the sensor's horizontal axis (spec.md §4.6 initialize_auto "set ROI
// around spot"). Vertical centering is left to the caller's sensor height
// via OffsetY 0, since the spot's row position is not known until
// centroid detection runs within the new ROI.
func roiAround(x float64, windowSize int) acqmodel.LaserAFROI {
	if windowSize <= 0 {
		windowSize = 100
	}
	half := windowSize / 2
	offsetX := int(x) - half
	if offsetX < 0 {
		offsetX = 0
	}
	return acqmodel.LaserAFROI{OffsetX: offsetX, OffsetY: 0, Width: windowSize, Height: windowSize}
}
