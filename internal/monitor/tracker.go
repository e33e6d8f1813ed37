// Package monitor is the operator dashboard: it subscribes to
// internal/bus events and renders what it has seen as an HTML dashboard
// (scan coverage, region progress, global-mode timeline) plus admin debug
// routes (SSE tail of bus activity, command injection) served over the
// same tsweb.Debugger mux the rest of the process uses.
package monitor

import (
	"sync"
	"time"

	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/bus"
	"github.com/squidcore/acquisition/internal/timeutil"
)

// eventTypes lists every bus.Event type the SSE tail formats and forwards;
// Start folds only a subset of them into tracked state. Kept as a literal
// list rather than a bus-level wildcard subscription, since Bus.Subscribe
// dispatches by a specific event type string.
var eventTypes = []string{
	"AcquisitionStateChanged",
	"AcquisitionProgress",
	"AcquisitionRegionProgress",
	"AcquisitionWorkerProgress",
	"AcquisitionWorkerFinished",
	"LiveStateChanged",
	"GlobalModeChanged",
	"LeaseAcquired",
	"LeaseReleased",
	"LeaseRevoked",
	"StateChanged",
	"ControllerError",
	"AutoFocusCompleted",
	"LaserAFMoveCompleted",
}

// RegionCoverage is one scan region's FOV completion count, as last
// reported by AcquisitionRegionProgress.
type RegionCoverage struct {
	RegionID  string
	FOVsDone  int
	FOVsTotal int
}

// modeEvent is one entry in the global-mode timeline.
type modeEvent struct {
	At   time.Time
	Mode acqmodel.GlobalMode
}

// Tracker subscribes to a bus.Bus and keeps a bounded in-memory snapshot
// of acquisition progress, safe for concurrent reads from HTTP handlers.
type Tracker struct {
	b     *bus.Bus
	clock timeutil.Clock

	mu            sync.RWMutex
	subIDs        map[string]int
	experimentID  string
	inProgress    bool
	timePoint     int
	totalTimePoints int
	regions       map[string]*RegionCoverage
	timeline      []modeEvent
	lastError     *bus.ControllerError
	lastErrorAt   time.Time
}

const maxTimelineEntries = 500

// NewTracker creates a Tracker bound to b and clock but does not yet
// subscribe; call Start to begin receiving events.
func NewTracker(b *bus.Bus, clock timeutil.Clock) *Tracker {
	return &Tracker{
		b:       b,
		clock:   clock,
		subIDs:  make(map[string]int),
		regions: make(map[string]*RegionCoverage),
	}
}

// Start subscribes the tracker to every event type it understands. Safe
// to call once; calling twice leaks a duplicate subscription.
func (t *Tracker) Start() {
	t.subscribe("AcquisitionStateChanged", func(e bus.Event) error {
		ev := e.(bus.AcquisitionStateChanged)
		t.mu.Lock()
		t.experimentID = ev.ExperimentID
		t.inProgress = ev.InProgress
		if !ev.InProgress {
			t.regions = make(map[string]*RegionCoverage)
		}
		t.mu.Unlock()
		return nil
	})
	t.subscribe("AcquisitionProgress", func(e bus.Event) error {
		ev := e.(bus.AcquisitionProgress)
		t.mu.Lock()
		t.timePoint = ev.TimePoint
		t.totalTimePoints = ev.TotalTimePoints
		t.mu.Unlock()
		return nil
	})
	t.subscribe("AcquisitionRegionProgress", func(e bus.Event) error {
		ev := e.(bus.AcquisitionRegionProgress)
		t.mu.Lock()
		t.regions[ev.RegionID] = &RegionCoverage{RegionID: ev.RegionID, FOVsDone: ev.FOVsDone, FOVsTotal: ev.FOVsTotal}
		t.mu.Unlock()
		return nil
	})
	t.subscribe("GlobalModeChanged", func(e bus.Event) error {
		ev := e.(bus.GlobalModeChanged)
		t.mu.Lock()
		t.timeline = append(t.timeline, modeEvent{At: t.clock.Now(), Mode: ev.Mode})
		if len(t.timeline) > maxTimelineEntries {
			t.timeline = t.timeline[len(t.timeline)-maxTimelineEntries:]
		}
		t.mu.Unlock()
		return nil
	})
	t.subscribe("ControllerError", func(e bus.Event) error {
		ev := e.(bus.ControllerError)
		t.mu.Lock()
		t.lastError = &ev
		t.lastErrorAt = t.clock.Now()
		t.mu.Unlock()
		return nil
	})
}

func (t *Tracker) subscribe(eventType string, handler bus.Handler) {
	t.subIDs[eventType] = t.b.Subscribe(eventType, handler)
}

// Stop unsubscribes from the bus. Safe to call once.
func (t *Tracker) Stop() {
	for eventType, id := range t.subIDs {
		t.b.Unsubscribe(eventType, id)
	}
}

// Snapshot is a point-in-time read of everything the tracker has observed,
// used by both the JSON status route and the echarts dashboard.
type Snapshot struct {
	ExperimentID    string
	InProgress      bool
	TimePoint       int
	TotalTimePoints int
	Regions         []RegionCoverage
	Timeline        []modeEvent
	LastError       *bus.ControllerError
	LastErrorAt     time.Time
}

// Snapshot returns a copy of the tracker's current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	regions := make([]RegionCoverage, 0, len(t.regions))
	for _, r := range t.regions {
		regions = append(regions, *r)
	}
	timeline := make([]modeEvent, len(t.timeline))
	copy(timeline, t.timeline)

	return Snapshot{
		ExperimentID:    t.experimentID,
		InProgress:      t.inProgress,
		TimePoint:       t.timePoint,
		TotalTimePoints: t.totalTimePoints,
		Regions:         regions,
		Timeline:        timeline,
		LastError:       t.lastError,
		LastErrorAt:     t.lastErrorAt,
	}
}
