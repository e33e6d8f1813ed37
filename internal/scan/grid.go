package scan

import "math"

// tileCount implements the tile count policy (spec.md §4.7):
// n = max(1, ceil((span - fov) / step) + 1), applied independently per
// axis, where step = fov * (1 - overlapFraction).
func tileCount(spanMm, fovMm, stepMm float64) int {
	if stepMm <= 0 {
		stepMm = fovMm
	}
	n := int(math.Ceil((spanMm-fovMm)/stepMm)) + 1
	if n < 1 {
		n = 1
	}
	return n
}

// gridOffsets returns the n tile-center offsets from the region center
// along one axis, evenly spaced by stepMm and centered on zero.
func gridOffsets(n int, stepMm float64) []float64 {
	offsets := make([]float64, n)
	if n == 1 {
		return offsets
	}
	totalSpan := stepMm * float64(n-1)
	start := -totalSpan / 2
	for i := 0; i < n; i++ {
		offsets[i] = start + float64(i)*stepMm
	}
	return offsets
}

// rectangularSpan converts a single size parameter into (width, height)
// for ShapeRectangle. The spec states the rectangle's span is
// "width×height (rectangle = 0.6×height by convention)"; this repository
// resolves that by treating sizeMm as the height and deriving width as
// 0.6*height when a caller supplies only one dimension (AddRegion).
// AddFlexibleRegion and friends instead take NX/NY directly and bypass
// this convention entirely.
func rectangularSpan(sizeMm float64) (widthMm, heightMm float64) {
	return 0.6 * sizeMm, sizeMm
}
