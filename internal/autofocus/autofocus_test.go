package autofocus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/bus"
	"github.com/squidcore/acquisition/internal/hardware"
)

// fakeStage is a minimal hardware.Stage test double tracking the last
// commanded Z and every Z it was moved to.
type fakeStage struct {
	mu       sync.Mutex
	zMm      float64
	visited  []float64
	failAtZ  map[float64]bool
}

func (f *fakeStage) GetPosition() (acqmodel.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return acqmodel.Position{ZMm: f.zMm}, nil
}

func (f *fakeStage) MoveTo(ctx context.Context, pos acqmodel.Position) error {
	return f.MoveZ(ctx, pos.ZMm)
}

func (f *fakeStage) MoveZ(ctx context.Context, zMm float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAtZ != nil && f.failAtZ[zMm] {
		return assert.AnError
	}
	f.zMm = zMm
	f.visited = append(f.visited, zMm)
	return nil
}

// fakeCamera is a minimal hardware.Camera test double: SendTrigger
// synchronously invokes the registered callback with a frame whose
// sharpness is controlled by sharpAtZ, keyed by the stage's current Z.
type fakeCamera struct {
	mu              sync.Mutex
	stage           *fakeStage
	cb              hardware.FrameCallback
	callbackEnabled bool
	ready           bool
	sharpAtZ        map[float64]float64
	noFrameAtZ      map[float64]bool
}

func newFakeCamera(stage *fakeStage) *fakeCamera {
	return &fakeCamera{stage: stage, ready: true}
}

func (c *fakeCamera) StartStreaming(ctx context.Context) error { return nil }
func (c *fakeCamera) StopStreaming() error                     { return nil }
func (c *fakeCamera) IsReady() bool                            { return c.ready }

func (c *fakeCamera) SendTrigger() error {
	c.mu.Lock()
	cb, enabled := c.cb, c.callbackEnabled
	z := c.stage.zMm
	noFrame := c.noFrameAtZ != nil && c.noFrameAtZ[z]
	c.mu.Unlock()

	if !enabled || cb == nil || noFrame {
		return nil
	}

	sharpness := c.sharpAtZ[z]
	frame := sharpFrame(8, 8, sharpness)
	cb(frame)
	return nil
}

func (c *fakeCamera) SetTriggerMode(mode hardware.TriggerMode) error { return nil }
func (c *fakeCamera) SetExposureTimeMs(ms float64) error             { return nil }
func (c *fakeCamera) SetAnalogGain(gain float64) error               { return nil }

func (c *fakeCamera) RegisterFrameCallback(cb hardware.FrameCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

func (c *fakeCamera) EnableCallback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbackEnabled = true
}

func (c *fakeCamera) DisableCallback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbackEnabled = false
}

func (c *fakeCamera) CallbackEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbackEnabled
}

// sharpFrame builds a synthetic frame whose variance-of-Laplacian grows
// with sharpness: a flat frame has zero Laplacian everywhere, while a
// checkerboard pattern scaled by sharpness has high-frequency content.
func sharpFrame(w, h int, sharpness float64) hardware.Frame {
	pixels := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				pixels[y*w+x] = sharpness
			}
		}
	}
	return hardware.Frame{Pixels: pixels, Width: w, Height: h, CapturedAt: time.Now()}
}

func TestRunMovesToBestGradedZ(t *testing.T) {
	stage := &fakeStage{zMm: 0}
	cam := newFakeCamera(stage)
	cam.sharpAtZ = map[float64]float64{-1: 1, -0.5: 2, 0: 10, 0.5: 3, 1: 1}

	c := New(cam, stage, nil)
	z, ok := c.Run(context.Background(), SweepConfig{RangeMm: 2, StepMm: 0.5})

	require.True(t, ok)
	assert.InDelta(t, 0.0, z, 1e-9)
	assert.InDelta(t, 0.0, stage.zMm, 1e-9)
}

func TestRunPublishesAutoFocusCompleted(t *testing.T) {
	stage := &fakeStage{zMm: 0}
	cam := newFakeCamera(stage)
	cam.sharpAtZ = map[float64]float64{-0.5: 1, 0: 5, 0.5: 1}

	b := bus.New(8)
	b.Start()
	defer b.Stop()

	received := make(chan bus.AutoFocusCompleted, 1)
	b.Subscribe("AutoFocusCompleted", func(e bus.Event) error {
		received <- e.(bus.AutoFocusCompleted)
		return nil
	})

	c := New(cam, stage, b)
	z, ok := c.Run(context.Background(), SweepConfig{RangeMm: 1, StepMm: 0.5})
	require.True(t, ok)

	select {
	case evt := <-received:
		assert.True(t, evt.Success)
		assert.InDelta(t, z, evt.ZMm, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for AutoFocusCompleted")
	}
}

func TestRunFailsWhenNoFrameCaptured(t *testing.T) {
	stage := &fakeStage{zMm: 0}
	cam := newFakeCamera(stage)
	cam.noFrameAtZ = map[float64]bool{-0.5: true, 0: true, 0.5: true}
	c := New(cam, stage, nil)
	c.SetCaptureTimeout(20 * time.Millisecond)

	_, ok := c.Run(context.Background(), SweepConfig{RangeMm: 1, StepMm: 0.5})
	assert.False(t, ok)
}

func TestRunAbortsOnCanceledContext(t *testing.T) {
	stage := &fakeStage{zMm: 0}
	cam := newFakeCamera(stage)
	cam.sharpAtZ = map[float64]float64{0: 5}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(cam, stage, nil)
	_, ok := c.Run(ctx, SweepConfig{RangeMm: 1, StepMm: 0.5})
	assert.False(t, ok)
}

func TestRunUsesStartZMmOverride(t *testing.T) {
	stage := &fakeStage{zMm: 100} // would be wrong if Run ignored the override
	cam := newFakeCamera(stage)
	cam.sharpAtZ = map[float64]float64{2: 9}

	c := New(cam, stage, nil)
	z, ok := c.Run(context.Background(), SweepConfig{RangeMm: 0, StepMm: 0, StartZMm: 2, UseStartZMm: true})

	require.True(t, ok)
	assert.InDelta(t, 2.0, z, 1e-9)
}
