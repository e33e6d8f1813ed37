package scan

// pointInPolygon reports whether p lies inside polygon using the standard
// ray-casting (even-odd rule) test, per spec.md §4.7
// "get_points_for_manual_region ... ray casting".
func pointInPolygon(p Point2D, polygon []Point2D) bool {
	inside := false
	n := len(polygon)
	if n < 3 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := polygon[i], polygon[j]
		intersects := (pi.YMm > p.YMm) != (pj.YMm > p.YMm) &&
			p.XMm < (pj.XMm-pi.XMm)*(p.YMm-pi.YMm)/(pj.YMm-pi.YMm)+pi.XMm
		if intersects {
			inside = !inside
		}
	}
	return inside
}

// tileInPolygon accepts a tile if its center or any of its four corners
// falls inside polygon (spec.md §4.7).
func tileInPolygon(centerX, centerY, halfWidth, halfHeight float64, polygon []Point2D) bool {
	if pointInPolygon(Point2D{XMm: centerX, YMm: centerY}, polygon) {
		return true
	}
	corners := [4]Point2D{
		{XMm: centerX - halfWidth, YMm: centerY - halfHeight},
		{XMm: centerX + halfWidth, YMm: centerY - halfHeight},
		{XMm: centerX - halfWidth, YMm: centerY + halfHeight},
		{XMm: centerX + halfWidth, YMm: centerY + halfHeight},
	}
	for _, c := range corners {
		if pointInPolygon(c, polygon) {
			return true
		}
	}
	return false
}

// polygonBounds returns the axis-aligned bounding box of polygon.
func polygonBounds(polygon []Point2D) (minX, minY, maxX, maxY float64) {
	minX, minY = polygon[0].XMm, polygon[0].YMm
	maxX, maxY = polygon[0].XMm, polygon[0].YMm
	for _, p := range polygon[1:] {
		if p.XMm < minX {
			minX = p.XMm
		}
		if p.XMm > maxX {
			maxX = p.XMm
		}
		if p.YMm < minY {
			minY = p.YMm
		}
		if p.YMm > maxY {
			maxY = p.YMm
		}
	}
	return
}
