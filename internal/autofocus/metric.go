package autofocus

import (
	"gonum.org/v1/gonum/stat"

	"github.com/squidcore/acquisition/internal/hardware"
)

// Metric grades a captured frame's sharpness; a higher value means better
// focus. Run picks the Z with the highest metric value (spec.md §4.5
// "grade each image by a sharpness metric").
type Metric func(frame hardware.Frame) float64

// VarianceOfLaplacian is the default sharpness metric: the variance of the
// frame after a discrete Laplacian filter. Blurred images have a
// low-energy Laplacian and therefore low variance; this is the concrete
// choice this repository makes for spec.md §4.5's "implementer's choice,
// unspecified" metric.
func VarianceOfLaplacian(frame hardware.Frame) float64 {
	if frame.Width < 3 || frame.Height < 3 {
		return 0
	}
	lap := laplacian(frame)
	return stat.Variance(lap, nil)
}

// laplacian applies the standard 4-connected discrete Laplacian kernel
// ([[0,1,0],[1,-4,1],[0,1,0]]) to frame.Pixels, a row-major grayscale
// buffer. Border pixels are left at zero (not filtered).
func laplacian(frame hardware.Frame) []float64 {
	w, h := frame.Width, frame.Height
	out := make([]float64, w*h)
	at := func(x, y int) float64 { return frame.Pixels[y*w+x] }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			out[y*w+x] = at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
		}
	}
	return out
}
