// Package diagnostics renders PNG plots of autofocus search traces
// alongside the focus-camera frames saved on a move_to_target failure
// (spec.md §4.9 "save the focus-camera image for diagnostics"), so an
// operator can see why the search failed without re-running it.
package diagnostics

import (
	"bytes"
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/squidcore/acquisition/internal/autofocus"
	"github.com/squidcore/acquisition/internal/laseraf"
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// renderPNG encodes p as a PNG and returns its bytes, so callers can write
// it through internal/fsutil.FileSystem instead of a direct os.Create
// (gonum/plot's own Save writes straight to disk, which this package
// avoids to stay consistent with the rest of the codebase's filesystem
// abstraction).
func renderPNG(p *plot.Plot) ([]byte, error) {
	writerTo, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return nil, fmt.Errorf("diagnostics: build PNG writer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := writerTo.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("diagnostics: encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// SweepCurvePNG renders a contrast-autofocus Run's (Z, grade) trace,
// marking the best-graded Z with a labeled point, as PNG bytes. Grounded
// on internal/lidar/monitor/gridplotter.go's generateRingPlot (plot.New /
// plotter.NewLine), adapted to return bytes rather than save to disk
// directly.
func SweepCurvePNG(samples []autofocus.SweepSample, bestZMm float64) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("diagnostics: no sweep samples to plot")
	}

	ordered := make([]autofocus.SweepSample, len(samples))
	copy(ordered, samples)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ZMm < ordered[j].ZMm })

	p := plot.New()
	p.Title.Text = "Contrast autofocus sweep"
	p.X.Label.Text = "Z (mm)"
	p.Y.Label.Text = "Sharpness grade"

	pts := make(plotter.XYs, len(ordered))
	var bestPt plotter.XYs
	for i, s := range ordered {
		pts[i] = plotter.XY{X: s.ZMm, Y: s.Grade}
		if s.ZMm == bestZMm {
			bestPt = append(bestPt, plotter.XY{X: s.ZMm, Y: s.Grade})
		}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: build sweep line: %w", err)
	}
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("grade", line)

	if len(bestPt) > 0 {
		best, err := plotter.NewScatter(bestPt)
		if err != nil {
			return nil, fmt.Errorf("diagnostics: build best-z marker: %w", err)
		}
		p.Add(best)
		p.Legend.Add(fmt.Sprintf("best z=%.4fmm", bestZMm), best)
	}

	return renderPNG(p)
}

// ZSearchTracePNG renders a laser-AF measure_displacement Z-search's
// candidate offsets against measured displacement, marking candidates
// where the spot was not found, as PNG bytes.
func ZSearchTracePNG(samples []laseraf.ZSearchSample) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("diagnostics: no z-search samples to plot")
	}

	p := plot.New()
	p.Title.Text = "Laser AF Z-search"
	p.X.Label.Text = "Candidate offset (um)"
	p.Y.Label.Text = "Measured displacement (um)"

	var foundPts, missedPts plotter.XYs
	for _, s := range samples {
		pt := plotter.XY{X: s.OffsetUm, Y: s.DisplacementUm}
		if s.SpotFound {
			foundPts = append(foundPts, pt)
		} else {
			missedPts = append(missedPts, plotter.XY{X: s.OffsetUm, Y: 0})
		}
	}

	if len(foundPts) > 0 {
		found, err := plotter.NewScatter(foundPts)
		if err != nil {
			return nil, fmt.Errorf("diagnostics: build found-spot series: %w", err)
		}
		p.Add(found)
		p.Legend.Add("spot found", found)
	}
	if len(missedPts) > 0 {
		missed, err := plotter.NewScatter(missedPts)
		if err != nil {
			return nil, fmt.Errorf("diagnostics: build missed-spot series: %w", err)
		}
		p.Add(missed)
		p.Legend.Add("spot not found", missed)
	}

	return renderPNG(p)
}
