// Package live implements LiveController (spec.md §4.4): a Stopped ->
// Starting -> Live -> Stopping -> Stopped state machine that drives a
// software or hardware trigger loop, gating illumination per spec.md's
// low-fps special case and switching channels without dropping the
// trigger timer.
package live

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/squidcore/acquisition/internal/acqlog"
	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/bus"
	"github.com/squidcore/acquisition/internal/hardware"
	"github.com/squidcore/acquisition/internal/resource"
	"github.com/squidcore/acquisition/internal/statemachine"
	"github.com/squidcore/acquisition/internal/timeutil"
)

// State is one of LiveController's four states (spec.md §4.4).
type State int

const (
	StateStopped State = iota
	StateStarting
	StateLive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateLive:
		return "Live"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// lowFPSIlluminationThreshold is the fps_trigger cutoff at or below which
// illumination is toggled per frame instead of staying on for the whole
// Live session (spec.md §4.4 "Illumination ownership").
const lowFPSIlluminationThreshold = 5.0

// ownerName identifies this controller's leases to the resource
// coordinator.
const ownerName = "LiveController"

func transitionTable() statemachine.Table[State] {
	return statemachine.NewTable(
		[2]State{StateStopped, StateStarting},
		[2]State{StateStarting, StateLive},
		[2]State{StateStarting, StateStopped}, // resource/streaming failure
		[2]State{StateLive, StateStopping},
		[2]State{StateStopping, StateStopped},
	)
}

// Controller drives live imaging.
type Controller struct {
	machine *statemachine.Machine[State]

	camera       hardware.Camera
	illumination hardware.Illumination
	filterWheel  hardware.FilterWheel
	resources    *resource.Coordinator
	bus          *bus.Bus
	clock        timeutil.Clock

	mu             sync.Mutex
	triggerMode    hardware.TriggerMode
	fps            float64
	currentConfig  acqmodel.ChannelMode
	lease          *acqmodel.ResourceLease
	ticker         timeutil.Ticker
	stopTimer      chan struct{}
	timerDone      chan struct{}
	triggerID      uint64
	skippedTicks   int
	illuminationOn bool
}

// New builds a stopped Controller. b may be nil in unit tests that don't
// assert on published events.
func New(camera hardware.Camera, illumination hardware.Illumination, filterWheel hardware.FilterWheel, resources *resource.Coordinator, b *bus.Bus, clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	m := statemachine.New("LiveController", StateStopped, transitionTable())
	m.SetEventBus(b)
	m.SetCommandWhitelist(StateStopped, []string{"StartLive", "SetTriggerMode", "SetTriggerFPS", "SetMicroscopeMode", "UpdateIllumination"})
	m.SetCommandWhitelist(StateLive, []string{"StopLive", "SetTriggerMode", "SetTriggerFPS", "SetMicroscopeMode", "UpdateIllumination"})

	c := &Controller{
		machine:      m,
		camera:       camera,
		illumination: illumination,
		filterWheel:  filterWheel,
		resources:    resources,
		bus:          b,
		clock:        clock,
		triggerMode:  hardware.TriggerSoftware,
		fps:          10,
	}
	camera.RegisterFrameCallback(c.onNewFrame)
	return c
}

// State returns the current FSM state.
func (c *Controller) State() State { return c.machine.State() }

// StartLive acquires {CameraControl, IlluminationControl} under
// ModeLive, starts the camera, and launches the trigger timer (spec.md
// §4.4 "Acquire ... in Live mode before entering Live").
func (c *Controller) StartLive(ctx context.Context) error {
	if err := c.machine.CheckCommand("StartLive"); err != nil {
		return err
	}
	if err := c.machine.TransitionTo(StateStarting); err != nil {
		return err
	}

	lease, err := c.resources.Acquire([]acqmodel.Resource{acqmodel.CameraControl, acqmodel.IlluminationControl}, ownerName, acqmodel.ModeLive, nil)
	if err != nil {
		c.failToStopped("StartLive: resource acquisition", err)
		return nil
	}

	if err := c.camera.SetTriggerMode(c.triggerModeLocked()); err != nil {
		c.resources.Release(lease)
		c.failToStopped("StartLive: set trigger mode", err)
		return nil
	}
	if err := c.camera.StartStreaming(ctx); err != nil {
		c.resources.Release(lease)
		c.failToStopped("StartLive: start streaming", err)
		return nil
	}

	c.mu.Lock()
	c.lease = lease
	c.mu.Unlock()

	c.camera.EnableCallback()
	c.startTriggerTimer()

	if err := c.machine.TransitionTo(StateLive); err != nil {
		return err
	}
	c.publishLiveState()
	return nil
}

// StopLive stops the trigger timer, streaming, illumination, and releases
// the Live lease.
func (c *Controller) StopLive() error {
	if err := c.machine.CheckCommand("StopLive"); err != nil {
		return err
	}
	if err := c.machine.TransitionTo(StateStopping); err != nil {
		return err
	}

	c.stopTriggerTimer()
	c.camera.DisableCallback()
	if err := c.camera.StopStreaming(); err != nil {
		acqlog.Logf("live: stop streaming: %v", err)
	}
	if err := c.illumination.Off(); err != nil {
		acqlog.Logf("live: illumination off: %v", err)
	}
	c.mu.Lock()
	c.illuminationOn = false
	lease := c.lease
	c.lease = nil
	c.mu.Unlock()
	if lease != nil {
		c.resources.Release(lease)
	}

	if err := c.machine.TransitionTo(StateStopped); err != nil {
		return err
	}
	c.publishLiveState()
	return nil
}

// SetTriggerMode is valid in Stopped or Live (spec.md §4.4).
func (c *Controller) SetTriggerMode(mode hardware.TriggerMode) error {
	if err := c.machine.CheckCommand("SetTriggerMode"); err != nil {
		return err
	}
	c.mu.Lock()
	c.triggerMode = mode
	c.mu.Unlock()

	if c.machine.State() == StateLive {
		if err := c.camera.SetTriggerMode(mode); err != nil {
			return err
		}
		c.restartTriggerTimer()
	}
	if c.bus != nil {
		c.bus.Publish(bus.TriggerModeChanged{Mode: string(mode)})
	}
	return nil
}

// SetTriggerFPS is valid in any state.
func (c *Controller) SetTriggerFPS(fps float64) error {
	c.mu.Lock()
	c.fps = fps
	c.mu.Unlock()
	if c.machine.State() == StateLive {
		c.restartTriggerTimer()
	}
	if c.bus != nil {
		c.bus.Publish(bus.TriggerFPSChanged{FPS: fps})
	}
	return nil
}

// SetMicroscopeMode switches the active channel configuration. While Live,
// this stops the timer and illumination, applies camera exposure/gain and
// illumination/filter-wheel settings, then resumes the timer (spec.md §4.4
// "Channel switching").
func (c *Controller) SetMicroscopeMode(ctx context.Context, mode acqmodel.ChannelMode) error {
	if err := c.machine.CheckCommand("SetMicroscopeMode"); err != nil {
		return err
	}

	wasLive := c.machine.State() == StateLive
	if wasLive {
		c.stopTriggerTimer()
		if err := c.illumination.Off(); err != nil {
			acqlog.Logf("live: illumination off during channel switch: %v", err)
		}
		c.mu.Lock()
		c.illuminationOn = false
		c.mu.Unlock()
	}

	if err := c.camera.SetExposureTimeMs(mode.ExposureTimeMs); err != nil {
		return err
	}
	if err := c.camera.SetAnalogGain(mode.AnalogGain); err != nil {
		return err
	}
	if err := c.illumination.SetSource(channelSourceName(mode)); err != nil {
		return err
	}
	if err := c.illumination.SetIntensityPercent(mode.IlluminationIntensity); err != nil {
		return err
	}
	if c.filterWheel != nil {
		if err := c.filterWheel.MoveTo(ctx, mode.EmissionFilterPosition); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.currentConfig = mode
	c.mu.Unlock()

	if wasLive {
		c.startTriggerTimer()
	}
	return nil
}

// UpdateIllumination is valid in any state; applies source/intensity
// directly without touching the trigger timer.
func (c *Controller) UpdateIllumination(source string, intensityPct float64) error {
	if err := c.illumination.SetSource(source); err != nil {
		return err
	}
	return c.illumination.SetIntensityPercent(intensityPct)
}

// channelSourceName renders a ChannelMode's illumination source code as the
// string identifier hardware.Illumination.SetSource expects.
func channelSourceName(mode acqmodel.ChannelMode) string {
	return strconv.Itoa(mode.IlluminationSource)
}

func (c *Controller) triggerModeLocked() hardware.TriggerMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggerMode
}

func (c *Controller) currentConfigLocked() acqmodel.ChannelMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentConfig
}

func (c *Controller) failToStopped(operation string, err error) {
	c.machine.ForceState(StateStopped, err.Error())
	if c.bus != nil {
		c.bus.Publish(bus.ControllerError{Controller: "LiveController", Operation: operation, Err: err})
	}
	acqlog.Logf("live: %s failed: %v", operation, err)
}

func (c *Controller) publishLiveState() {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.LiveStateChanged{State: c.machine.State().String()})
}

// startTriggerTimer launches the software trigger loop. It is a no-op in
// HARDWARE/CONTINUOUS trigger mode, where the camera is clocked externally
// or free-runs (spec.md §4.4).
func (c *Controller) startTriggerTimer() {
	c.mu.Lock()
	mode, fps := c.triggerMode, c.fps
	c.mu.Unlock()

	if mode != hardware.TriggerSoftware || fps <= 0 {
		return
	}

	period := time.Duration(float64(time.Second) / fps)
	ticker := c.clock.NewTicker(period)

	c.mu.Lock()
	c.ticker = ticker
	c.stopTimer = make(chan struct{})
	c.timerDone = make(chan struct{})
	stop, done := c.stopTimer, c.timerDone
	c.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C():
				c.onTriggerTick()
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()
}

func (c *Controller) stopTriggerTimer() {
	c.mu.Lock()
	stop, done := c.stopTimer, c.timerDone
	c.stopTimer, c.timerDone, c.ticker = nil, nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *Controller) restartTriggerTimer() {
	c.stopTriggerTimer()
	c.startTriggerTimer()
}

// onTriggerTick is the software-timer trigger path (spec.md §4.4 "Per
// trigger" steps 1-4).
func (c *Controller) onTriggerTick() {
	if !c.camera.IsReady() {
		c.mu.Lock()
		c.skippedTicks++
		n := c.skippedTicks
		c.mu.Unlock()
		if n%100 == 1 {
			acqlog.Logf("live: camera not ready, skipped %d ticks", n)
		}
		return
	}

	c.mu.Lock()
	c.triggerID++
	fps := c.fps
	needsGating := fps <= lowFPSIlluminationThreshold
	alreadyOn := c.illuminationOn
	c.mu.Unlock()

	if needsGating || !alreadyOn {
		if err := c.illumination.On(); err != nil {
			acqlog.Logf("live: illumination on failed: %v", err)
		} else {
			c.mu.Lock()
			c.illuminationOn = true
			c.mu.Unlock()
		}
	}

	if err := c.camera.SendTrigger(); err != nil {
		acqlog.Logf("live: send trigger failed: %v", err)
	}
}

// onNewFrame is the camera's frame-delivery callback. For low fps_trigger,
// it turns illumination back off so the sample isn't continuously excited
// between triggers (spec.md §4.4 "Illumination ownership").
func (c *Controller) onNewFrame(frame hardware.Frame) {
	c.mu.Lock()
	needsGating := c.fps <= lowFPSIlluminationThreshold
	c.mu.Unlock()

	if needsGating {
		if err := c.illumination.Off(); err != nil {
			acqlog.Logf("live: illumination off after frame failed: %v", err)
		} else {
			c.mu.Lock()
			c.illuminationOn = false
			c.mu.Unlock()
		}
	}

	if c.bus != nil {
		c.bus.Publish(bus.NewImage{Capture: acqmodel.CaptureInfo{
			CaptureTime:   frame.CapturedAt,
			Configuration: c.currentConfigLocked(),
		}})
	}
}
