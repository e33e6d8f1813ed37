package job

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"path/filepath"

	"golang.org/x/image/tiff"

	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/fsutil"
	"github.com/squidcore/acquisition/internal/hardware"
)

// SaveImageJob writes one captured frame to disk under capture.SaveDirectory
// as PNG, TIFF, or a minimal Zarr-like chunk store, per
// Acquisition.ImageFormat / per-config hints (spec.md §4.10).
type SaveImageJob struct {
	id      string
	capture acqmodel.CaptureInfo
	frame   hardware.Frame
	format  acqmodel.ImageFormat
	fs      fsutil.FileSystem
}

// NewSaveImageJob builds a SaveImageJob. id is caller-chosen (typically a
// uuid) so JobRunner results can be matched back to dispatch sites.
func NewSaveImageJob(id string, capture acqmodel.CaptureInfo, frame hardware.Frame, format acqmodel.ImageFormat, fs fsutil.FileSystem) *SaveImageJob {
	return &SaveImageJob{id: id, capture: capture, frame: frame, format: format, fs: fs}
}

func (j *SaveImageJob) ID() string { return j.id }

// SaveImageResult is returned via Result.Output on success.
type SaveImageResult struct {
	Path string
}

// fileID builds `{region}_{fov:NNNN}_{z:NNNN}` (spec.md §9 "file_id").
func fileID(c acqmodel.CaptureInfo) string {
	return fmt.Sprintf("%s_%0*d_%0*d", c.RegionID, acqmodel.FileIDPadding, c.FOV, acqmodel.FileIDPadding, c.ZIndex)
}

func (j *SaveImageJob) Run(ctx context.Context) (any, error) {
	ext := extensionFor(j.format)
	name := fmt.Sprintf("%s_%s.%s", fileID(j.capture), j.capture.Configuration.Name, ext)
	path := filepath.Join(j.capture.SaveDirectory, name)

	if err := j.fs.MkdirAll(j.capture.SaveDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("save image job: mkdir %s: %w", j.capture.SaveDirectory, err)
	}

	var data []byte
	var err error
	switch j.format {
	case acqmodel.ImageFormatPNG:
		data, err = encodePNG(j.frame)
	case acqmodel.ImageFormatTIFF:
		data, err = encodeTIFF(j.frame)
	case acqmodel.ImageFormatZarr:
		data, err = encodeZarrChunk(j.frame)
	default:
		return nil, fmt.Errorf("save image job: unsupported image format %q", j.format)
	}
	if err != nil {
		return nil, fmt.Errorf("save image job: encode: %w", err)
	}

	if err := j.fs.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("save image job: write %s: %w", path, err)
	}
	return SaveImageResult{Path: path}, nil
}

func extensionFor(format acqmodel.ImageFormat) string {
	switch format {
	case acqmodel.ImageFormatPNG:
		return "png"
	case acqmodel.ImageFormatTIFF:
		return "tiff"
	case acqmodel.ImageFormatZarr:
		return "zarr"
	default:
		return "bin"
	}
}

// frameToGray16 converts row-major float64 intensities to a 16-bit
// grayscale image, clamping to the valid range.
func frameToGray16(frame hardware.Frame) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			v := frame.Pixels[y*frame.Width+x]
			if v < 0 {
				v = 0
			}
			if v > 65535 {
				v = 65535
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v))})
		}
	}
	return img
}

func encodePNG(frame hardware.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, frameToGray16(frame)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeTIFF(frame hardware.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, frameToGray16(frame), nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// zarrChunkHeader is a minimal stand-in for Zarr's .zarray metadata: only
// the fields needed to reinterpret the raw chunk bytes that follow it are
// kept. Non-goal (spec.md §1 "storage-format internals beyond layout")
// excludes full Zarr compliance (compression codecs, multi-chunk arrays,
// the real .zarray/.zattrs file pair); this is a single-chunk, single-file
// layout that preserves the array shape and dtype.
type zarrChunkHeader struct {
	Shape [2]int `json:"shape"`
	DType string `json:"dtype"`
}

// encodeZarrChunk writes a length-prefixed JSON header followed by raw
// little-endian float64 chunk data.
func encodeZarrChunk(frame hardware.Frame) ([]byte, error) {
	header, err := json.Marshal(zarrChunkHeader{Shape: [2]int{frame.Height, frame.Width}, DType: "<f8"})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(header))); err != nil {
		return nil, err
	}
	buf.Write(header)
	if err := binary.Write(&buf, binary.LittleEndian, frame.Pixels); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
