// Package hardware defines the capability interfaces controllers program
// against. Each interface is small and owned by exactly one controller at a
// time via the resource coordinator; concrete implementations live in
// mcubus (microcontroller-driven stage/illumination/piezo/filter wheel) and
// gvcamera (GigE-Vision-style camera).
package hardware

import (
	"context"
	"time"

	"github.com/squidcore/acquisition/internal/acqmodel"
)

// Camera is the capability surface MultiPointWorker, LiveController and
// the autofocus controllers drive for image acquisition (spec.md §4.4,
// §4.9).
type Camera interface {
	// StartStreaming begins frame production; camera-specific trigger
	// mode is configured beforehand via SetTriggerMode.
	StartStreaming(ctx context.Context) error
	StopStreaming() error

	// IsReady reports whether the camera will accept a trigger right now.
	IsReady() bool

	// SendTrigger issues a software trigger. It is a no-op in CONTINUOUS
	// and an error in HARDWARE trigger mode.
	SendTrigger() error

	SetTriggerMode(mode TriggerMode) error
	SetExposureTimeMs(ms float64) error
	SetAnalogGain(gain float64) error

	// RegisterFrameCallback installs the single callback invoked for
	// every completed frame. Only one callback is active at a time;
	// registering again replaces the previous one.
	RegisterFrameCallback(cb FrameCallback)

	// EnableCallback/DisableCallback gate whether RegisterFrameCallback's
	// callback fires, without tearing down the registration
	// (spec.md §4.8 "enable camera callbacks").
	EnableCallback()
	DisableCallback()
	CallbackEnabled() bool
}

// TriggerMode selects how the camera is clocked (spec.md §4.4).
type TriggerMode string

const (
	TriggerSoftware   TriggerMode = "SOFTWARE"
	TriggerHardware   TriggerMode = "HARDWARE"
	TriggerContinuous TriggerMode = "CONTINUOUS"
)

// Frame is a captured image plus the metadata needed to grade it (AF) or
// persist it (dataset writer).
type Frame struct {
	Pixels        []float64 // row-major grayscale or single-plane intensities
	Width, Height int
	CapturedAt    time.Time
}

// FrameCallback is invoked on the camera's own delivery goroutine for every
// completed frame; implementations must not block.
type FrameCallback func(Frame)

// Stage is the XY(Z) positioning capability (spec.md §3 Position, §4.7/§4.9).
type Stage interface {
	GetPosition() (acqmodel.Position, error)
	MoveTo(ctx context.Context, pos acqmodel.Position) error
	MoveZ(ctx context.Context, zMm float64) error
}

// Piezo is the fine Z-positioning capability used when UsePiezo is set
// (spec.md §3 AcquisitionParameters.UsePiezo, §4.6).
type Piezo interface {
	GetZUm() (float64, error)
	MoveToZUm(ctx context.Context, zUm float64) error
	RangeUm() (min, max float64)
}

// Illumination is the light-source capability gated by LiveController and
// MultiPointWorker around each trigger (spec.md §4.4 "Illumination
// ownership").
type Illumination interface {
	SetSource(source string) error
	SetIntensityPercent(pct float64) error
	On() error
	Off() error
	IsOn() bool
}

// FilterWheel positions an emission filter ahead of the selected channel's
// configured position.
type FilterWheel interface {
	MoveTo(ctx context.Context, position int) error
	CurrentPosition() int
}

// Joystick lets the operator drive the stage manually; disabled during
// acquisition per timepoint (spec.md §13 supplemented feature) and
// re-enabled between timepoints or on completion.
type Joystick interface {
	Enable() error
	Disable() error
	Enabled() bool
}

// Fluidics runs "before imaging"/"after imaging" sequences between
// timepoints when AcquisitionParameters.UseFluidics is set (spec.md §4.9
// outer loop, §13 supplemented feature).
type Fluidics interface {
	RunBeforeImaging(ctx context.Context, round int) error
	RunAfterImaging(ctx context.Context, round int) error
}

// SpinningDisk is an optional confocal unit (e.g. an NL5-style spinning
// disk) that can be engaged per channel (spec.md §13 supplemented
// feature). A microscope without one uses NoSpinningDisk.
type SpinningDisk interface {
	Engage(ctx context.Context) error
	Disengage(ctx context.Context) error
	Engaged() bool
}

// NoSpinningDisk is a SpinningDisk that is always disengaged, for rigs
// without a confocal unit.
type NoSpinningDisk struct{}

func (NoSpinningDisk) Engage(context.Context) error    { return nil }
func (NoSpinningDisk) Disengage(context.Context) error { return nil }
func (NoSpinningDisk) Engaged() bool                    { return false }

// AutofocusCamera is the dedicated focus-laser sensor driven by
// LaserAutofocusController (spec.md §4.6); distinct from the imaging
// Camera since both may be live at once during move_to_target's
// verification recapture.
type AutofocusCamera interface {
	CaptureFrame(ctx context.Context) (Frame, error)
	SetROI(offsetX, offsetY, width, height int) error
	LaserOn() error
	LaserOff() error
}
