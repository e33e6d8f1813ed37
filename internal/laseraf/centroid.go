package laseraf

import (
	"math"

	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/hardware"
)

// component is one 4-connected region of above-threshold pixels.
type component struct {
	area           int
	sumIntensity   float64
	weightedX      float64
	weightedY      float64
}

func (c component) centroid() (x, y float64) {
	if c.sumIntensity == 0 {
		return 0, 0
	}
	return c.weightedX / c.sumIntensity, c.weightedY / c.sumIntensity
}

// findSpotCentroid locates the laser spot within frame per params.Mode and
// returns its centroid in full-frame pixel coordinates (spec.md §4.6
// "_get_laser_spot_centroid" single-frame step). found is false if no
// component satisfies the area bounds (and, for RowConstrained, the row
// tolerance).
func findSpotCentroid(frame hardware.Frame, params acqmodel.SpotDetectionParams, cropHint bool) (x, y float64, found bool) {
	pixels, width, height, offsetX, offsetY := frame.Pixels, frame.Width, frame.Height, 0, 0
	if cropHint && params.WindowSize > 0 {
		pixels, width, height, offsetX, offsetY = centerCrop(frame, params.WindowSize)
	}
	pixels = topHatSubtract(pixels, width, height)

	comps := connectedComponents(pixels, width, height, params.CCThreshold)
	var candidates []component
	for _, c := range comps {
		if c.area < params.PeakMinArea || (params.PeakMaxArea > 0 && c.area > params.PeakMaxArea) {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return 0, 0, false
	}

	rowCenter := float64(height) / 2

	var best component
	bestScore := -1.0
	for _, c := range candidates {
		_, cy := c.centroid()
		if params.Mode == acqmodel.SpotDetectionRowConstrained && !params.IgnoreRowTolerance {
			if math.Abs(cy-rowCenter) > params.RowTolerance {
				continue
			}
		}
		score := float64(c.area)
		if params.Mode == acqmodel.SpotDetectionDualPeak {
			score = c.sumIntensity
		}
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore < 0 {
		return 0, 0, false
	}

	cx, cy := best.centroid()
	return cx + float64(offsetX), cy + float64(offsetY), true
}

// centerCrop extracts a windowSize x windowSize square centered on frame,
// returning the cropped pixel buffer and the crop's offset within the
// original frame.
func centerCrop(frame hardware.Frame, windowSize int) ([]float64, int, int, int, int) {
	w, h := windowSize, windowSize
	if w > frame.Width {
		w = frame.Width
	}
	if h > frame.Height {
		h = frame.Height
	}
	offsetX := (frame.Width - w) / 2
	offsetY := (frame.Height - h) / 2

	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		srcRow := (y + offsetY) * frame.Width
		copy(out[y*w:(y+1)*w], frame.Pixels[srcRow+offsetX:srcRow+offsetX+w])
	}
	return out, w, h, offsetX, offsetY
}

// topHatSubtract approximates a morphological white top-hat filter: a
// coarse box blur is subtracted from the image, removing smooth background
// gradients while preserving the small, bright laser spot (spec.md §4.6
// "background top-hat removal").
func topHatSubtract(pixels []float64, width, height int) []float64 {
	const radius = 5
	background := boxBlur(pixels, width, height, radius)
	out := make([]float64, len(pixels))
	for i := range pixels {
		v := pixels[i] - background[i]
		if v < 0 {
			v = 0
		}
		out[i] = v
	}
	return out
}

func boxBlur(pixels []float64, width, height, radius int) []float64 {
	out := make([]float64, len(pixels))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum, n := 0.0, 0
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= height {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= width {
						continue
					}
					sum += pixels[ny*width+nx]
					n++
				}
			}
			if n > 0 {
				out[y*width+x] = sum / float64(n)
			}
		}
	}
	return out
}

// connectedComponents labels 4-connected regions of pixels at or above
// threshold and returns their area/intensity-weighted centroid statistics.
func connectedComponents(pixels []float64, width, height int, threshold float64) []component {
	visited := make([]bool, len(pixels))
	var comps []component

	var stack []int
	for start := 0; start < len(pixels); start++ {
		if visited[start] || pixels[start] < threshold {
			continue
		}
		var c component
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			v := pixels[idx]
			x, y := idx%width, idx/width
			c.area++
			c.sumIntensity += v
			c.weightedX += v * float64(x)
			c.weightedY += v * float64(y)

			for _, n := range neighbors4(x, y, width, height) {
				if !visited[n] && pixels[n] >= threshold {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}
		comps = append(comps, c)
	}
	return comps
}

func neighbors4(x, y, width, height int) []int {
	var out []int
	if x > 0 {
		out = append(out, y*width+x-1)
	}
	if x < width-1 {
		out = append(out, y*width+x+1)
	}
	if y > 0 {
		out = append(out, (y-1)*width+x)
	}
	if y < height-1 {
		out = append(out, (y+1)*width+x)
	}
	return out
}

// cropAndNormalize extracts a cropSize x cropSize window centered at
// (cx, cy) from frame and zero-means/max-normalizes it (spec.md §4.6
// set_reference: "zero-mean and max-normalize").
func cropAndNormalize(frame hardware.Frame, cx, cy float64, cropSize int) []float64 {
	half := cropSize / 2
	x0 := int(cx) - half
	y0 := int(cy) - half

	out := make([]float64, cropSize*cropSize)
	for y := 0; y < cropSize; y++ {
		for x := 0; x < cropSize; x++ {
			sx, sy := x0+x, y0+y
			if sx < 0 || sx >= frame.Width || sy < 0 || sy >= frame.Height {
				continue
			}
			out[y*cropSize+x] = frame.Pixels[sy*frame.Width+sx]
		}
	}

	mean := 0.0
	for _, v := range out {
		mean += v
	}
	mean /= float64(len(out))

	max := 0.0
	for i := range out {
		out[i] -= mean
		if math.Abs(out[i]) > max {
			max = math.Abs(out[i])
		}
	}
	if max > 0 {
		for i := range out {
			out[i] /= max
		}
	}
	return out
}
