package bus

import (
	"time"

	"github.com/squidcore/acquisition/internal/acqmodel"
)

// Concrete event types published per spec.md §6. Each implements Event via
// a constant EventType() string so subscribers can register by name.

type AcquisitionStateChanged struct {
	InProgress   bool
	ExperimentID string
	IsAborting   bool
}

func (AcquisitionStateChanged) EventType() string { return "AcquisitionStateChanged" }

type AcquisitionProgress struct {
	ExperimentID string
	TimePoint    int
	TotalTimePoints int
}

func (AcquisitionProgress) EventType() string { return "AcquisitionProgress" }

type AcquisitionRegionProgress struct {
	ExperimentID string
	RegionID     string
	FOVsDone     int
	FOVsTotal    int
}

func (AcquisitionRegionProgress) EventType() string { return "AcquisitionRegionProgress" }

type AcquisitionWorkerProgress struct {
	ExperimentID string
	Message      string
}

func (AcquisitionWorkerProgress) EventType() string { return "AcquisitionWorkerProgress" }

type AcquisitionWorkerFinished struct {
	ExperimentID   string
	Success        bool
	Err            error
	FinalFOVCount  int
}

func (AcquisitionWorkerFinished) EventType() string { return "AcquisitionWorkerFinished" }

type LiveStateChanged struct {
	State string
}

func (LiveStateChanged) EventType() string { return "LiveStateChanged" }

type TriggerModeChanged struct {
	Mode string
}

func (TriggerModeChanged) EventType() string { return "TriggerModeChanged" }

type TriggerFPSChanged struct {
	FPS float64
}

func (TriggerFPSChanged) EventType() string { return "TriggerFPSChanged" }

type NewImage struct {
	Capture acqmodel.CaptureInfo
	Preview *acqmodel.PreviewImage
}

func (NewImage) EventType() string { return "NewImage" }

type LaserAFInitialized struct {
	Objective string
	PixelToUm float64
}

func (LaserAFInitialized) EventType() string { return "LaserAFInitialized" }

type LaserAFReferenceSet struct {
	Objective string
}

func (LaserAFReferenceSet) EventType() string { return "LaserAFReferenceSet" }

type LaserAFDisplacementMeasured struct {
	DisplacementUm float64
}

func (LaserAFDisplacementMeasured) EventType() string { return "LaserAFDisplacementMeasured" }

type LaserAFCrossCorrelationMeasured struct {
	Correlation float64
}

func (LaserAFCrossCorrelationMeasured) EventType() string {
	return "LaserAFCrossCorrelationMeasured"
}

type LaserAFMoveCompleted struct {
	Success bool
	ZMm     float64
}

func (LaserAFMoveCompleted) EventType() string { return "LaserAFMoveCompleted" }

type LaserAFPropertiesChanged struct {
	Objective string
}

func (LaserAFPropertiesChanged) EventType() string { return "LaserAFPropertiesChanged" }

type LaserAFSpotCentroidMeasured struct {
	X, Y float64
	Found bool
}

func (LaserAFSpotCentroidMeasured) EventType() string { return "LaserAFSpotCentroidMeasured" }

type AutoFocusCompleted struct {
	Success bool
	ZMm     float64
}

func (AutoFocusCompleted) EventType() string { return "AutoFocusCompleted" }

type GlobalModeChanged struct {
	Mode acqmodel.GlobalMode
}

func (GlobalModeChanged) EventType() string { return "GlobalModeChanged" }

type LeaseAcquired struct {
	Lease acqmodel.ResourceLease
}

func (LeaseAcquired) EventType() string { return "LeaseAcquired" }

type LeaseReleased struct {
	LeaseID string
	Owner   string
}

func (LeaseReleased) EventType() string { return "LeaseReleased" }

type LeaseRevoked struct {
	LeaseID string
	Owner   string
	Reason  string
	At      time.Time
}

func (LeaseRevoked) EventType() string { return "LeaseRevoked" }

// StateChanged is published by every StateMachine after a successful
// transition (spec.md §4.3).
type StateChanged struct {
	Controller string
	From       string
	To         string
}

func (StateChanged) EventType() string { return "StateChanged" }

// ControllerError is published when a controller fails a command without
// raising to its caller (spec.md §4.4 LiveController "publish an error
// event; do not raise to caller", echoed by MultiPointController's own
// failure semantics).
type ControllerError struct {
	Controller string
	Operation  string
	Err        error
}

func (ControllerError) EventType() string { return "ControllerError" }
