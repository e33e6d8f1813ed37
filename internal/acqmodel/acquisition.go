package acqmodel

import (
	"time"

	"github.com/squidcore/acquisition/internal/acqerrors"
)

// ImageFormat selects the on-disk encoding SaveImageJob writes (spec.md
// §4.10 "write PNG/TIFF/Zarr per Acquisition.IMAGE_FORMAT").
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatTIFF ImageFormat = "tiff"
	ImageFormatZarr ImageFormat = "zarr"
)

// PreviewImage is a downsampled copy of a captured frame for display, kept
// in memory and attached to the NewImage event rather than written to disk
// (spec.md §13 "Display-resolution-scaled preview downsample").
type PreviewImage struct {
	Width, Height int
	Pixels        []float64
}

// ZStackingConfig selects where NZ Z-levels are measured from relative to
// the nominal Z position (spec.md §3).
type ZStackingConfig int

const (
	ZStackFromBottom ZStackingConfig = iota
	ZStackFromTop
	ZStackFromCenter
)

func (z ZStackingConfig) String() string {
	switch z {
	case ZStackFromBottom:
		return "FROM_BOTTOM"
	case ZStackFromTop:
		return "FROM_TOP"
	case ZStackFromCenter:
		return "FROM_CENTER"
	default:
		return "UNKNOWN"
	}
}

// ZRange is an inclusive Z bound in millimeters.
type ZRange struct {
	MinMm float64
	MaxMm float64
}

// ScanPositionInformation is the immutable snapshot passed to the worker
// (spec.md §3). Region order is authoritative for iteration.
type ScanPositionInformation struct {
	RegionNames        []string
	RegionCoordsMm     map[string]Position
	RegionFOVCoordsMm  map[string][]Position
}

// Clone returns a deep copy so later mutation of ScanCoordinates cannot
// affect an active run (spec.md §3 lifecycle invariant).
func (s ScanPositionInformation) Clone() ScanPositionInformation {
	out := ScanPositionInformation{
		RegionNames:       append([]string(nil), s.RegionNames...),
		RegionCoordsMm:    make(map[string]Position, len(s.RegionCoordsMm)),
		RegionFOVCoordsMm: make(map[string][]Position, len(s.RegionFOVCoordsMm)),
	}
	for k, v := range s.RegionCoordsMm {
		out.RegionCoordsMm[k] = v
	}
	for k, v := range s.RegionFOVCoordsMm {
		out.RegionFOVCoordsMm[k] = append([]Position(nil), v...)
	}
	return out
}

// AcquisitionParameters is the immutable snapshot for a single run
// (spec.md §3). Once constructed by the controller at run_acquisition
// entry, it must never be mutated; MultiPointWorker only reads it.
type AcquisitionParameters struct {
	NX, NY, NZ, Nt                    int
	DeltaXMm, DeltaYMm, DeltaZMm      float64
	DeltaTSeconds                     float64
	DoAutofocus                       bool
	DoReflectionAutofocus             bool
	UsePiezo                          bool
	UseFluidics                       bool
	ZStacking                         ZStackingConfig
	ZRange                            *ZRange
	SelectedConfigurations            []ChannelMode
	DisplayResolutionScaling          float64
	ImageFormat                       ImageFormat
	ExperimentID                      string
	BasePath                          string
	AcquisitionStartTime              time.Time
	ScanPositionInformation           ScanPositionInformation
}

// Validate enforces the configuration-error edge cases named in spec.md §7
// and §9's open questions.
func (p AcquisitionParameters) Validate() error {
	if p.NX <= 0 || p.NY <= 0 || p.NZ <= 0 || p.Nt <= 0 {
		return acqerrors.NewConfigurationError("NX, NY, NZ, Nt must all be positive")
	}
	if p.DisplayResolutionScaling <= 0 || p.DisplayResolutionScaling > 1 {
		return acqerrors.NewConfigurationError("display_resolution_scaling must be in (0,1]")
	}
	switch p.ImageFormat {
	case ImageFormatPNG, ImageFormatTIFF, ImageFormatZarr:
	default:
		return acqerrors.NewConfigurationErrorf("unsupported image format %q", p.ImageFormat)
	}
	if p.DoReflectionAutofocus && len(p.SelectedConfigurations) == 0 {
		return acqerrors.NewConfigurationError("reflection autofocus requires at least one selected channel configuration")
	}
	for _, c := range p.SelectedConfigurations {
		if err := c.Validate(); err != nil {
			return acqerrors.NewConfigurationErrorf("selected configuration invalid: %v", err)
		}
	}
	return nil
}
