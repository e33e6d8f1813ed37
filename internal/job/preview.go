package job

import (
	"context"

	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/hardware"
)

// PreviewJob box-downsamples a captured frame by scaling (0,1] and returns
// the result in memory for attachment to the NewImage event rather than
// writing to disk (spec.md §13 "Display-resolution-scaled preview
// downsample").
type PreviewJob struct {
	id      string
	capture acqmodel.CaptureInfo
	frame   hardware.Frame
	scaling float64
}

// NewPreviewJob builds a PreviewJob. scaling must be in (0,1]; callers
// should skip dispatching one entirely when scaling is 1.0 (no-op
// preview), per SPEC_FULL.md §13 "when scaling < 1.0".
func NewPreviewJob(id string, capture acqmodel.CaptureInfo, frame hardware.Frame, scaling float64) *PreviewJob {
	return &PreviewJob{id: id, capture: capture, frame: frame, scaling: scaling}
}

func (j *PreviewJob) ID() string { return j.id }

func (j *PreviewJob) Run(ctx context.Context) (any, error) {
	w := maxInt(1, int(float64(j.frame.Width)*j.scaling))
	h := maxInt(1, int(float64(j.frame.Height)*j.scaling))
	preview := downsample(j.frame, w, h)
	return preview, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// downsample box-averages frame into a w x h grid. Each output pixel is
// the mean of the source pixels whose box it covers.
func downsample(frame hardware.Frame, w, h int) acqmodel.PreviewImage {
	out := make([]float64, w*h)
	sx := float64(frame.Width) / float64(w)
	sy := float64(frame.Height) / float64(h)

	for oy := 0; oy < h; oy++ {
		y0 := int(float64(oy) * sy)
		y1 := int(float64(oy+1) * sy)
		if y1 <= y0 {
			y1 = y0 + 1
		}
		if y1 > frame.Height {
			y1 = frame.Height
		}
		for ox := 0; ox < w; ox++ {
			x0 := int(float64(ox) * sx)
			x1 := int(float64(ox+1) * sx)
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if x1 > frame.Width {
				x1 = frame.Width
			}

			var sum float64
			var n int
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					sum += frame.Pixels[y*frame.Width+x]
					n++
				}
			}
			if n > 0 {
				out[oy*w+ox] = sum / float64(n)
			}
		}
	}
	return acqmodel.PreviewImage{Width: w, Height: h, Pixels: out}
}
