package acqmodel

import "time"

// CaptureInfo is the per-frame metadata record created just before
// triggering and consumed by exactly one frame callback (spec.md §3).
type CaptureInfo struct {
	Position       Position
	ZIndex         int
	CaptureTime    time.Time
	ZPiezoUm       *float64
	Configuration  ChannelMode
	ConfigIndex    int
	RegionID       string
	FOV            int
	TimePoint      int
	FileID         string
	SaveDirectory  string

	TotalTimePoints int
	TotalZLevels    int
	TotalChannels   int
	ChannelNames    []string

	PhysicalSizeXUm float64
	PhysicalSizeYUm float64
	PhysicalSizeZUm float64
	TimeIncrementS  float64
}

// Key identifies a capture uniquely within a run, per spec.md §5's ordering
// guarantee: consumers must use this tuple, not wall-clock arrival order.
type CaptureKey struct {
	RegionID      string
	FOV           int
	ZIndex        int
	ConfigIndex   int
	TimePoint     int
}

// Key returns the unique identity tuple for this capture.
func (c CaptureInfo) Key() CaptureKey {
	return CaptureKey{
		RegionID:    c.RegionID,
		FOV:         c.FOV,
		ZIndex:      c.ZIndex,
		ConfigIndex: c.ConfigIndex,
		TimePoint:   c.TimePoint,
	}
}

// FileIDPadding is the single configured width used for file_id and
// per-timepoint directory zero-padding (spec.md §9 open question: two
// paddings existed in the source; this repository uses one named constant
// everywhere instead of a hard-coded "NNNN").
const FileIDPadding = 4
