package acqmodel

import (
	"time"

	"github.com/squidcore/acquisition/internal/acqerrors"
)

// SpotDetectionMode selects the connected-component strategy used to find
// the laser spot centroid (spec.md §4.6).
type SpotDetectionMode int

const (
	SpotDetectionSingle SpotDetectionMode = iota
	SpotDetectionDualPeak
	SpotDetectionRowConstrained
)

// LaserAFROI is the sub-window of the focus camera sensor the spot is
// searched within, set after initialize_auto() crops around the detected
// spot.
type LaserAFROI struct {
	OffsetX int
	OffsetY int
	Width   int
	Height  int
}

// LaserAFCalibration is the per-objective calibrated pixel-to-micron
// relationship (spec.md §4.6 initialize_auto).
type LaserAFCalibration struct {
	PixelToUm float64
	Timestamp time.Time
}

// LaserAFThresholds gates how displacement/search/verification behave.
type LaserAFThresholds struct {
	CorrelationThreshold        float64
	LaserAFRangeUm              float64
	LaserAFAveragingN           int
	DisplacementSuccessWindowUm float64
}

// SpotDetectionParams controls centroid detection.
type SpotDetectionParams struct {
	WindowSize        int
	PeakMinArea       int
	PeakMaxArea       int
	CCThreshold       float64
	SpotSpacing       float64
	Mode              SpotDetectionMode
	FilterSigma       float64
	RowTolerance      float64
	IgnoreRowTolerance bool
}

// LaserAFReference is the stored reference crop used for cross-correlation
// verification (spec.md §4.6 set_reference).
type LaserAFReference struct {
	HasReference        bool
	XReference           float64
	ReferenceCropWidth   int
	ReferenceCropHeight  int
	ReferenceCrop        []float64 // zero-mean, max-normalized pixel intensities
}

// LaserAFConfig is the full per-objective persisted laser AF configuration
// (spec.md §3).
type LaserAFConfig struct {
	Objective   string
	ROI         LaserAFROI
	Calibration LaserAFCalibration
	Thresholds  LaserAFThresholds
	SpotParams  SpotDetectionParams
	Reference   LaserAFReference
}

// Validate rejects configurations the spec names as invalid (spec.md §9
// open question: laser_af_averaging_n must be >= 1).
func (c LaserAFConfig) Validate() error {
	if c.Thresholds.LaserAFAveragingN < 1 {
		return acqerrors.NewConfigurationError("laser_af_averaging_n must be >= 1")
	}
	return nil
}
