// Package scan implements ScanCoordinates (spec.md §4.7): pure tile-grid
// geometry for scan regions, with one validation dependency on software
// stage limits.
package scan

import (
	"fmt"
	"sort"

	"github.com/squidcore/acquisition/internal/acqmodel"
)

// Coordinates owns the set of named regions and their generated FOV
// grids. It has no hardware dependency; MultiPointController snapshots it
// into an acqmodel.ScanPositionInformation at run start.
type Coordinates struct {
	limits   StageLimits
	sPattern bool
	regions  map[string]*Region
	order    []string // insertion order, for deterministic iteration before sort
}

// New creates an empty Coordinates bound to limits.
func New(limits StageLimits) *Coordinates {
	return &Coordinates{
		limits:  limits,
		regions: make(map[string]*Region),
	}
}

// SetSPattern enables or disables S-pattern (boustrophedon) row reversal
// for grids generated after this call (spec.md §4.7).
func (c *Coordinates) SetSPattern(enabled bool) {
	c.sPattern = enabled
}

// AddRegion builds a square/rectangle/circle tile grid centered at center,
// sized sizeMm (span for square/circle; height for rectangle, see
// rectangularSpan), with the given overlap fraction (0..1) and FOV size
// fovWidthMm x fovHeightMm. Out-of-limits tiles are silently dropped.
// Circle regions degenerate to keeping just the center tile if the full
// grid would otherwise be empty.
func (c *Coordinates) AddRegion(id string, center acqmodel.Position, sizeMm, overlapFraction, fovWidthMm, fovHeightMm float64, shape Shape) error {
	if shape == ShapeManual {
		return fmt.Errorf("scan: AddRegion does not accept ShapeManual; use GetPointsForManualRegion")
	}

	var spanX, spanY float64
	switch shape {
	case ShapeRectangle:
		spanX, spanY = rectangularSpan(sizeMm)
	default:
		spanX, spanY = sizeMm, sizeMm
	}

	stepX := fovWidthMm * (1 - overlapFraction)
	stepY := fovHeightMm * (1 - overlapFraction)
	nx := tileCount(spanX, fovWidthMm, stepX)
	ny := tileCount(spanY, fovHeightMm, stepY)

	tiles := c.buildGrid(center, nx, ny, stepX, stepY, shape, sizeMm/2)

	if len(tiles) == 0 && shape == ShapeCircle {
		tiles = []acqmodel.Position{center}
	}
	if len(tiles) == 0 {
		return fmt.Errorf("scan: region %q produced no in-limit tiles", id)
	}

	region := &Region{ID: id, Center: center, Shape: shape, Radius: sizeMm / 2, FOVs: tiles}
	c.put(region)
	return nil
}

// AddFlexibleRegion builds an NX x NY grid with a given overlap fraction
// instead of a span-derived tile count.
func (c *Coordinates) AddFlexibleRegion(id string, center acqmodel.Position, nx, ny int, overlapFraction, fovWidthMm, fovHeightMm float64) error {
	stepX := fovWidthMm * (1 - overlapFraction)
	stepY := fovHeightMm * (1 - overlapFraction)
	return c.addFlexibleWithStep(id, center, nx, ny, stepX, stepY)
}

// AddFlexibleRegionWithStepSize builds an NX x NY grid with explicit step
// sizes (dxMm, dyMm) instead of deriving step from FOV size and overlap.
func (c *Coordinates) AddFlexibleRegionWithStepSize(id string, center acqmodel.Position, nx, ny int, dxMm, dyMm float64) error {
	return c.addFlexibleWithStep(id, center, nx, ny, dxMm, dyMm)
}

func (c *Coordinates) addFlexibleWithStep(id string, center acqmodel.Position, nx, ny int, stepX, stepY float64) error {
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}
	tiles := c.buildGrid(center, nx, ny, stepX, stepY, ShapeRectangle, 0)
	if len(tiles) == 0 {
		return fmt.Errorf("scan: region %q produced no in-limit tiles", id)
	}
	region := &Region{ID: id, Center: center, Shape: ShapeRectangle, FOVs: tiles}
	c.put(region)
	return nil
}

// AddTemplateRegion offsets a caller-provided tile template (templateXsMm,
// templateYsMm, parallel arrays) from (x, y, z) (spec.md §4.7).
func (c *Coordinates) AddTemplateRegion(id string, x, y, z float64, templateXsMm, templateYsMm []float64) error {
	if len(templateXsMm) != len(templateYsMm) {
		return fmt.Errorf("scan: template x/y length mismatch for region %q", id)
	}
	var tiles []acqmodel.Position
	for i := range templateXsMm {
		tx, ty := x+templateXsMm[i], y+templateYsMm[i]
		if !c.limits.Contains(tx, ty) {
			continue
		}
		tiles = append(tiles, acqmodel.Position{XMm: tx, YMm: ty, ZMm: z})
	}
	if len(tiles) == 0 {
		return fmt.Errorf("scan: template region %q produced no in-limit tiles", id)
	}
	region := &Region{ID: id, Center: acqmodel.Position{XMm: x, YMm: y, ZMm: z}, Shape: ShapeManual, FOVs: tiles}
	c.put(region)
	return nil
}

// GetPointsForManualRegion grids the polygon's bounding box and keeps
// tiles whose center or any corner is inside the polygon (spec.md §4.7).
// The resulting region is marked Manual so SortCoordinates orders it
// ahead of generated regions, sorted by (y, x).
func (c *Coordinates) GetPointsForManualRegion(id string, polygon []Point2D, overlapFraction, fovWidthMm, fovHeightMm, zMm float64) error {
	if len(polygon) < 3 {
		return fmt.Errorf("scan: manual region %q polygon needs at least 3 vertices", id)
	}
	minX, minY, maxX, maxY := polygonBounds(polygon)
	stepX := fovWidthMm * (1 - overlapFraction)
	stepY := fovHeightMm * (1 - overlapFraction)
	if stepX <= 0 {
		stepX = fovWidthMm
	}
	if stepY <= 0 {
		stepY = fovHeightMm
	}

	var tiles []acqmodel.Position
	rowIdx := 0
	for y := minY; y <= maxY; y += stepY {
		var row []float64
		for x := minX; x <= maxX; x += stepX {
			row = append(row, x)
		}
		if c.sPattern && rowIdx%2 == 1 {
			for l, r := 0, len(row)-1; l < r; l, r = l+1, r-1 {
				row[l], row[r] = row[r], row[l]
			}
		}
		for _, x := range row {
			if !tileInPolygon(x, y, fovWidthMm/2, fovHeightMm/2, polygon) {
				continue
			}
			if !c.limits.Contains(x, y) {
				continue
			}
			tiles = append(tiles, acqmodel.Position{XMm: x, YMm: y, ZMm: zMm})
		}
		rowIdx++
	}
	if len(tiles) == 0 {
		return fmt.Errorf("scan: manual region %q produced no in-polygon tiles", id)
	}
	vertices := make([]Point2D, len(polygon))
	copy(vertices, polygon)
	region := &Region{ID: id, Shape: ShapeManual, Polygon: vertices, FOVs: tiles, Manual: true}
	c.put(region)
	return nil
}

// UpdateFOVZLevel sets the Z of a specific FOV within region, and of the
// region center too if fovIndex is 0 (spec.md §4.7).
func (c *Coordinates) UpdateFOVZLevel(regionID string, fovIndex int, zMm float64) error {
	region, ok := c.regions[regionID]
	if !ok {
		return fmt.Errorf("scan: unknown region %q", regionID)
	}
	if fovIndex < 0 || fovIndex >= len(region.FOVs) {
		return fmt.Errorf("scan: fov index %d out of range for region %q", fovIndex, regionID)
	}
	region.FOVs[fovIndex] = region.FOVs[fovIndex].WithZ(zMm)
	if fovIndex == 0 {
		region.Center = region.Center.WithZ(zMm)
	}
	return nil
}

// Region returns the named region, or nil if it does not exist.
func (c *Coordinates) Region(id string) *Region {
	return c.regions[id]
}

// RegionIDs returns region IDs in their current sort order (call
// SortCoordinates first to get the spec's canonical ordering).
func (c *Coordinates) RegionIDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Snapshot builds the immutable ScanPositionInformation passed to the
// MultiPointWorker (spec.md §3, §4.8 step 5). Mutating Coordinates after
// Snapshot does not affect the returned value, since Clone deep-copies.
func (c *Coordinates) Snapshot() acqmodel.ScanPositionInformation {
	info := acqmodel.ScanPositionInformation{
		RegionNames:       make([]string, len(c.order)),
		RegionCoordsMm:    make(map[string]acqmodel.Position, len(c.order)),
		RegionFOVCoordsMm: make(map[string][]acqmodel.Position, len(c.order)),
	}
	copy(info.RegionNames, c.order)
	for _, id := range c.order {
		r := c.regions[id]
		info.RegionCoordsMm[id] = r.Center
		fovs := make([]acqmodel.Position, len(r.FOVs))
		copy(fovs, r.FOVs)
		info.RegionFOVCoordsMm[id] = fovs
	}
	return info.Clone()
}

func (c *Coordinates) put(r *Region) {
	if _, exists := c.regions[r.ID]; !exists {
		c.order = append(c.order, r.ID)
	}
	c.regions[r.ID] = r
}

// SortCoordinates reorders regions deterministically: manual regions
// first, sorted by (y, x) of their center; then generated regions sorted
// lexicographically by (row-letter, column-number) parsed from the ID
// (e.g. "A1", "A2", "B1") (spec.md §4.7). It does not reorder FOVs within
// a region; S-pattern row reversal is applied when a grid is built (see
// SetSPattern).
func (c *Coordinates) SortCoordinates() {
	sort.SliceStable(c.order, func(i, j int) bool {
		a, b := c.regions[c.order[i]], c.regions[c.order[j]]
		if a.Manual != b.Manual {
			return a.Manual // manual first
		}
		if a.Manual {
			if a.Center.YMm != b.Center.YMm {
				return a.Center.YMm < b.Center.YMm
			}
			return a.Center.XMm < b.Center.XMm
		}
		return rowColumnLess(a.ID, b.ID)
	})
}

// rowColumnLess implements the lexicographic (row-letter, column-number)
// comparison spec.md §4.7 requires for generated region IDs such as "A1",
// "B12".
func rowColumnLess(a, b string) bool {
	ra, ca := splitRowColumn(a)
	rb, cb := splitRowColumn(b)
	if ra != rb {
		return ra < rb
	}
	return ca < cb
}

func splitRowColumn(id string) (row string, col int) {
	i := 0
	for i < len(id) && (id[i] < '0' || id[i] > '9') {
		i++
	}
	row = id[:i]
	for j := i; j < len(id); j++ {
		if id[j] < '0' || id[j] > '9' {
			return row, 0
		}
		col = col*10 + int(id[j]-'0')
	}
	return row, col
}

// buildGrid generates an nx*ny tile grid around center and clips to stage
// limits and, for ShapeCircle, to radius. When S-pattern is enabled, every
// other row's column order is reversed so consecutive-row stage travel is
// contiguous rather than requiring a long return traverse.
func (c *Coordinates) buildGrid(center acqmodel.Position, nx, ny int, stepX, stepY float64, shape Shape, radius float64) []acqmodel.Position {
	xOffsets := gridOffsets(nx, stepX)
	yOffsets := gridOffsets(ny, stepY)

	var tiles []acqmodel.Position
	for rowIdx, dy := range yOffsets {
		cols := xOffsets
		if c.sPattern && rowIdx%2 == 1 {
			cols = make([]float64, len(xOffsets))
			for i, v := range xOffsets {
				cols[len(xOffsets)-1-i] = v
			}
		}
		for _, dx := range cols {
			x, y := center.XMm+dx, center.YMm+dy
			if shape == ShapeCircle && radius > 0 {
				if dx*dx+dy*dy > radius*radius {
					continue
				}
			}
			if !c.limits.Contains(x, y) {
				continue
			}
			tiles = append(tiles, acqmodel.Position{XMm: x, YMm: y, ZMm: center.ZMm})
		}
	}
	return tiles
}
