package multipoint

import (
	"context"
	"sync"
	"time"

	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/hardware"
)

// fakeCamera is a minimal hardware.Camera test double. SendTrigger invokes
// whatever callback is currently registered, synchronously, popping frames
// off framesQueue (or returning a 1x1 zero frame if it's empty) -- mirroring
// live.Controller's own fakeCamera double.
type fakeCamera struct {
	mu              sync.Mutex
	cb              hardware.FrameCallback
	callbackEnabled bool
	ready           bool
	triggerErr      error
	triggerCount    int
	mode            hardware.TriggerMode
	framesQueue     []hardware.Frame
	exposureMs      float64
	gain            float64
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{ready: true, callbackEnabled: true}
}

func (c *fakeCamera) StartStreaming(ctx context.Context) error { return nil }
func (c *fakeCamera) StopStreaming() error                     { return nil }
func (c *fakeCamera) IsReady() bool                            { return c.ready }

func (c *fakeCamera) SendTrigger() error {
	c.mu.Lock()
	c.triggerCount++
	if c.triggerErr != nil {
		err := c.triggerErr
		c.mu.Unlock()
		return err
	}
	cb, enabled := c.cb, c.callbackEnabled
	var frame hardware.Frame
	if len(c.framesQueue) > 0 {
		frame = c.framesQueue[0]
		c.framesQueue = c.framesQueue[1:]
	} else {
		frame = hardware.Frame{Width: 1, Height: 1, Pixels: []float64{0}, CapturedAt: time.Now()}
	}
	c.mu.Unlock()
	if enabled && cb != nil {
		cb(frame)
	}
	return nil
}

func (c *fakeCamera) SetTriggerMode(mode hardware.TriggerMode) error { c.mode = mode; return nil }
func (c *fakeCamera) SetExposureTimeMs(ms float64) error             { c.exposureMs = ms; return nil }
func (c *fakeCamera) SetAnalogGain(gain float64) error               { c.gain = gain; return nil }

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

func (c *fakeCamera) TriggerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggerCount
}

func (c *fakeCamera) queueFrame(f hardware.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framesQueue = append(c.framesQueue, f)
}

// fakeStage is a minimal hardware.Stage test double.
type fakeStage struct {
	mu    sync.Mutex
	pos   acqmodel.Position
	moves []acqmodel.Position
}

func newFakeStage(initial acqmodel.Position) *fakeStage {
	return &fakeStage{pos: initial}
}

func (s *fakeStage) GetPosition() (acqmodel.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}

func (s *fakeStage) MoveTo(ctx context.Context, pos acqmodel.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = pos
	s.moves = append(s.moves, pos)
	return nil
}

func (s *fakeStage) MoveZ(ctx context.Context, zMm float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos.ZMm = zMm
	s.moves = append(s.moves, s.pos)
	return nil
}

// fakePiezo is a minimal hardware.Piezo test double.
type fakePiezo struct {
	mu  sync.Mutex
	zUm float64
}

func newFakePiezo(initialUm float64) *fakePiezo {
	return &fakePiezo{zUm: initialUm}
}

func (p *fakePiezo) GetZUm() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.zUm, nil
}

func (p *fakePiezo) MoveToZUm(ctx context.Context, zUm float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zUm = zUm
	return nil
}

func (p *fakePiezo) RangeUm() (float64, float64) { return 0, 300 }

// fakeIllumination is a minimal hardware.Illumination test double.
type fakeIllumination struct {
	mu        sync.Mutex
	on        bool
	onCalls   int
	offCalls  int
	sources   []string
	intensity float64
}

func (f *fakeIllumination) SetSource(source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	return nil
}
func (f *fakeIllumination) SetIntensityPercent(pct float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intensity = pct
	return nil
}
func (f *fakeIllumination) On() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = true
	f.onCalls++
	return nil
}
func (f *fakeIllumination) Off() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = false
	f.offCalls++
	return nil
}
func (f *fakeIllumination) IsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func (f *fakeIllumination) lastSource() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sources) == 0 {
		return ""
	}
	return f.sources[len(f.sources)-1]
}

// fakeFilterWheel is a minimal hardware.FilterWheel test double.
type fakeFilterWheel struct {
	mu       sync.Mutex
	position int
}

func (f *fakeFilterWheel) MoveTo(ctx context.Context, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = position
	return nil
}
func (f *fakeFilterWheel) CurrentPosition() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

// fakeJoystick is a minimal hardware.Joystick test double.
type fakeJoystick struct {
	mu      sync.Mutex
	enabled bool
}

func newFakeJoystick() *fakeJoystick { return &fakeJoystick{enabled: true} }

func (j *fakeJoystick) Enable() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.enabled = true
	return nil
}
func (j *fakeJoystick) Disable() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.enabled = false
	return nil
}
func (j *fakeJoystick) Enabled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enabled
}

// fakeFluidics is a minimal hardware.Fluidics test double.
type fakeFluidics struct {
	mu      sync.Mutex
	before  []int
	after   []int
}

func (f *fakeFluidics) RunBeforeImaging(ctx context.Context, round int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = append(f.before, round)
	return nil
}
func (f *fakeFluidics) RunAfterImaging(ctx context.Context, round int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.after = append(f.after, round)
	return nil
}

// fakeSpinningDisk is a minimal hardware.SpinningDisk test double.
type fakeSpinningDisk struct {
	mu      sync.Mutex
	engaged bool
}

func (d *fakeSpinningDisk) Engage(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engaged = true
	return nil
}
func (d *fakeSpinningDisk) Disengage(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engaged = false
	return nil
}
func (d *fakeSpinningDisk) Engaged() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engaged
}
