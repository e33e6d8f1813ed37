// Package autofocus implements the contrast-based AutoFocusController
// (spec.md §4.5): sweep Z over a small range around the current position,
// grade each captured frame by a sharpness metric, and move to the Z that
// scored best.
package autofocus

import (
	"context"
	"fmt"
	"time"

	"github.com/squidcore/acquisition/internal/acqlog"
	"github.com/squidcore/acquisition/internal/bus"
	"github.com/squidcore/acquisition/internal/hardware"
)

// DefaultCaptureTimeout bounds how long Run waits for a single triggered
// frame before treating that Z as uncaptured and moving on.
const DefaultCaptureTimeout = 3 * time.Second

// SweepConfig parametrizes one Run call (spec.md §4.5 "sweep range, step,
// metric, optional focus map").
type SweepConfig struct {
	RangeMm float64 // total sweep span, centered on the stage's current Z
	StepMm  float64
	Metric  Metric // nil defaults to VarianceOfLaplacian

	// StartZMm overrides the stage's reported current Z as the sweep
	// center, e.g. a focus-map interpolated estimate (spec.md §3 Focus
	// Map). It is used only when UseStartZMm is set; otherwise the stage's
	// current position is the center.
	StartZMm    float64
	UseStartZMm bool
}

// Controller drives Stage and Camera to find the best-focus Z.
type Controller struct {
	camera         hardware.Camera
	stage          hardware.Stage
	bus            *bus.Bus
	captureTimeout time.Duration

	// lastSweep records the most recent Run's (Z, grade) trace, for
	// internal/diagnostics to render on demand. Scratch state: only the
	// most recent call's sweep is kept.
	lastSweep []SweepSample
}

// SweepSample is one (Z, grade) pair captured during Run, in sweep order.
type SweepSample struct {
	ZMm   float64
	Grade float64
}

// LastSweep returns the (Z, grade) trace from the most recent Run call,
// or nil if Run has not been called.
func (c *Controller) LastSweep() []SweepSample {
	return c.lastSweep
}

// New builds a Controller. b may be nil in tests that don't care about
// AutoFocusCompleted notifications.
func New(camera hardware.Camera, stage hardware.Stage, b *bus.Bus) *Controller {
	return &Controller{
		camera:         camera,
		stage:          stage,
		bus:            b,
		captureTimeout: DefaultCaptureTimeout,
	}
}

// SetCaptureTimeout overrides DefaultCaptureTimeout, mainly for tests.
func (c *Controller) SetCaptureTimeout(d time.Duration) {
	c.captureTimeout = d
}

// Run sweeps Z per cfg and leaves the stage at the best-graded position on
// success. It returns (bestZMm, true) on success and (0, false) if no
// frame could be captured anywhere in the sweep, or if ctx is canceled
// at any sweep step (spec.md §4.5 "Abort" and "Failure").
func (c *Controller) Run(ctx context.Context, cfg SweepConfig) (float64, bool) {
	metric := cfg.Metric
	if metric == nil {
		metric = VarianceOfLaplacian
	}

	centerZ := cfg.StartZMm
	if !cfg.UseStartZMm {
		pos, err := c.stage.GetPosition()
		if err != nil {
			acqlog.Logf("autofocus: could not read stage position: %v", err)
			c.publish(false, 0)
			return 0, false
		}
		centerZ = pos.ZMm
	}

	steps := sweepSteps(centerZ, cfg.RangeMm, cfg.StepMm)

	bestGrade := 0.0
	bestZ := centerZ
	found := false
	sweep := make([]SweepSample, 0, len(steps))

	c.camera.EnableCallback()
	defer c.camera.DisableCallback()

	for _, z := range steps {
		if ctx.Err() != nil {
			acqlog.Logf("autofocus: aborted mid-sweep at z=%.4f", z)
			c.lastSweep = sweep
			c.publish(false, 0)
			return 0, false
		}

		if err := c.stage.MoveZ(ctx, z); err != nil {
			acqlog.Logf("autofocus: move to z=%.4f failed: %v", z, err)
			continue
		}

		frame, err := c.captureFrame(ctx)
		if err != nil {
			acqlog.Logf("autofocus: capture at z=%.4f failed: %v", z, err)
			continue
		}

		grade := metric(frame)
		sweep = append(sweep, SweepSample{ZMm: z, Grade: grade})
		if !found || grade > bestGrade {
			bestGrade = grade
			bestZ = z
			found = true
		}
	}
	c.lastSweep = sweep

	if !found {
		c.publish(false, 0)
		return 0, false
	}

	if err := c.stage.MoveZ(ctx, bestZ); err != nil {
		acqlog.Logf("autofocus: final move to best z=%.4f failed: %v", bestZ, err)
		c.publish(false, 0)
		return 0, false
	}

	c.publish(true, bestZ)
	return bestZ, true
}

func (c *Controller) publish(success bool, zMm float64) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.AutoFocusCompleted{Success: success, ZMm: zMm})
}

// captureFrame triggers the camera and waits for exactly one frame via a
// temporary callback registration, bounded by captureTimeout.
func (c *Controller) captureFrame(ctx context.Context) (hardware.Frame, error) {
	frames := make(chan hardware.Frame, 1)
	c.camera.RegisterFrameCallback(func(f hardware.Frame) {
		select {
		case frames <- f:
		default:
		}
	})

	if !c.camera.IsReady() {
		return hardware.Frame{}, fmt.Errorf("autofocus: camera not ready")
	}
	if err := c.camera.SendTrigger(); err != nil {
		return hardware.Frame{}, fmt.Errorf("autofocus: trigger failed: %w", err)
	}

	select {
	case f := <-frames:
		return f, nil
	case <-ctx.Done():
		return hardware.Frame{}, ctx.Err()
	case <-time.After(c.captureTimeout):
		return hardware.Frame{}, fmt.Errorf("autofocus: no frame within %s", c.captureTimeout)
	}
}

// sweepSteps returns the Z positions to sample, starting at
// centerZ-rangeMm/2 and stepping by stepMm up to centerZ+rangeMm/2.
// centerZ itself is sampled only when it falls on that grid; a
// non-positive range or step yields centerZ alone.
func sweepSteps(centerZ, rangeMm, stepMm float64) []float64 {
	if stepMm <= 0 || rangeMm <= 0 {
		return []float64{centerZ}
	}
	half := rangeMm / 2
	var steps []float64
	for z := centerZ - half; z <= centerZ+half+1e-9; z += stepMm {
		steps = append(steps, z)
	}
	if len(steps) == 0 {
		steps = []float64{centerZ}
	}
	return steps
}
