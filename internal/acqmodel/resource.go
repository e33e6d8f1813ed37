package acqmodel

import "time"

// Resource is one member of the fixed resource enumeration tracked by the
// resource coordinator (spec.md §4.2).
type Resource string

const (
	CameraControl      Resource = "CAMERA_CONTROL"
	IlluminationControl Resource = "ILLUMINATION_CONTROL"
	StageControl       Resource = "STAGE_CONTROL"
	PiezoControl       Resource = "PIEZO_CONTROL"
)

// AllResources enumerates every resource the coordinator knows about.
var AllResources = []Resource{CameraControl, IlluminationControl, StageControl, PiezoControl}

// LeaseMode is the operating mode a lease grants its resources under.
type LeaseMode string

const (
	ModeLive         LeaseMode = "Live"
	ModeAcquiring    LeaseMode = "Acquiring"
	ModeAutofocusing LeaseMode = "Autofocusing"
)

// ResourceLease is a grant over a set of resources to a named owner.
type ResourceLease struct {
	LeaseID    string
	Owner      string
	Resources  map[Resource]bool
	Mode       LeaseMode
	AcquiredAt time.Time
	TimeoutAt  *time.Time
}

// Holds reports whether the lease covers the given resource.
func (l ResourceLease) Holds(r Resource) bool {
	return l.Resources[r]
}

// GlobalMode is the coarse system state derived from active leases
// (spec.md §3, §4.2).
type GlobalMode string

const (
	GlobalIdle         GlobalMode = "Idle"
	GlobalLive         GlobalMode = "Live"
	GlobalAcquiring    GlobalMode = "Acquiring"
	GlobalAborting     GlobalMode = "Aborting"
	GlobalAutofocusing GlobalMode = "Autofocusing"
)
