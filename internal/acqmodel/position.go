// Package acqmodel holds the immutable data model shared across the
// acquisition core: positions, channel configurations, scan regions,
// acquisition parameters, and per-frame capture metadata.
package acqmodel

import "fmt"

// Position is an immutable stage/sample position. ThetaRad is nil when the
// stage has no rotation axis.
type Position struct {
	XMm      float64
	YMm      float64
	ZMm      float64
	ThetaRad *float64
}

// String renders the position for logs and diagnostics.
func (p Position) String() string {
	if p.ThetaRad != nil {
		return fmt.Sprintf("(%.4f, %.4f, %.4f, theta=%.4f)", p.XMm, p.YMm, p.ZMm, *p.ThetaRad)
	}
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", p.XMm, p.YMm, p.ZMm)
}

// WithZ returns a copy of the position with Z replaced.
func (p Position) WithZ(zMm float64) Position {
	p.ZMm = zMm
	return p
}
