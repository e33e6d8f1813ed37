package scan

import "github.com/squidcore/acquisition/internal/acqmodel"

// Shape selects the tiling/clipping rule a region's FOV grid is generated
// under (spec.md §3 ScanRegion).
type Shape int

const (
	ShapeSquare Shape = iota
	ShapeRectangle
	ShapeCircle
	ShapeManual
)

// Region is a named scan area with its generated FOV grid.
type Region struct {
	ID     string
	Center acqmodel.Position
	Shape  Shape
	Radius float64 // for ShapeCircle, or half-span for Square/Rectangle

	// Polygon is the vertex list for ShapeManual regions, in mm.
	Polygon []Point2D

	// FOVs is the ordered list of generated FOV centers (2D or 3D).
	FOVs []acqmodel.Position

	// Manual marks regions built via GetPointsForManualRegion, which sort
	// first under SortCoordinates (spec.md §4.7 "manual" regions sort
	// first by (y, x)).
	Manual bool
}

// Point2D is a bare XY point in mm, used for polygon vertices before they
// become full Positions.
type Point2D struct {
	XMm, YMm float64
}
