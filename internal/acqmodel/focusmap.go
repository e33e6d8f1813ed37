package acqmodel

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FocusMapPoint is one calibration sample (x, y) -> z within a region.
type FocusMapPoint struct {
	XMm float64
	YMm float64
	ZMm float64
}

// FocusMap interpolates z = a*x + b*y + c over a named region from >= 3
// calibration points (spec.md §3 Focus Map), fit by ordinary least squares.
type FocusMap struct {
	region string
	a, b, c float64
}

// NewFocusMap fits a plane through the given calibration points.
func NewFocusMap(region string, points []FocusMapPoint) (*FocusMap, error) {
	if len(points) < 3 {
		return nil, fmt.Errorf("focus map for region %q needs >= 3 calibration points, got %d", region, len(points))
	}

	n := len(points)
	a := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i, p := range points {
		a.SetRow(i, []float64{p.XMm, p.YMm, 1})
		y.Set(i, 0, p.ZMm)
	}

	var coeffs mat.Dense
	var qr mat.QR
	qr.Factorize(a)
	if err := qr.SolveTo(&coeffs, false, y); err != nil {
		return nil, fmt.Errorf("focus map for region %q: least-squares fit failed: %w", region, err)
	}

	return &FocusMap{
		region: region,
		a:      coeffs.At(0, 0),
		b:      coeffs.At(1, 0),
		c:      coeffs.At(2, 0),
	}, nil
}

// Interpolate returns the fitted z for (x, y) within the region this map was
// built for. regionID is checked so a map is never silently applied to the
// wrong region.
func (m *FocusMap) Interpolate(xMm, yMm float64, regionID string) (float64, error) {
	if regionID != m.region {
		return 0, fmt.Errorf("focus map is for region %q, not %q", m.region, regionID)
	}
	return m.a*xMm + m.b*yMm + m.c, nil
}

// Region returns the region this focus map was built for.
func (m *FocusMap) Region() string { return m.region }
