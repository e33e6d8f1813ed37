package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"time"
)

// RegionCoordinateRow is one row of the experiment-level coordinates.csv
// (spec.md §6 header "region, x (mm), y (mm), z (mm)"): one row per
// region, at the region's center.
type RegionCoordinateRow struct {
	Region string
	XMm    float64
	YMm    float64
	ZMm    float64
}

// WriteExperimentCoordinates writes the top-level coordinates.csv (spec.md
// §4.8 Preparation step 6).
func (w *Writer) WriteExperimentCoordinates(root string, rows []RegionCoordinateRow) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Write([]string{"region", "x (mm)", "y (mm)", "z (mm)"})
	for _, r := range rows {
		cw.Write([]string{
			r.Region,
			fmt.Sprintf("%.6f", r.XMm),
			fmt.Sprintf("%.6f", r.YMm),
			fmt.Sprintf("%.6f", r.ZMm),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("dataset: write coordinates.csv: %w", err)
	}
	return w.fs.WriteFile(filepath.Join(root, "coordinates.csv"), buf.Bytes(), 0o644)
}

// FOVCoordinateRow is one row of a per-timepoint coordinates.csv (spec.md
// §6 header "region, fov, z_level, x (mm), y (mm), z (um), time[, z_piezo
// (um)]").
type FOVCoordinateRow struct {
	Region     string
	FOV        int
	ZLevel     int
	XMm        float64
	YMm        float64
	ZUm        float64
	Time       time.Time
	ZPiezoUm   float64
}

// WriteTimepointCoordinates writes dir/coordinates.csv. The z_piezo column
// is included only when usePiezo is set, matching
// AcquisitionParameters.UsePiezo (spec.md §6).
func (w *Writer) WriteTimepointCoordinates(dir string, rows []FOVCoordinateRow, usePiezo bool) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	header := []string{"region", "fov", "z_level", "x (mm)", "y (mm)", "z (um)", "time"}
	if usePiezo {
		header = append(header, "z_piezo (um)")
	}
	cw.Write(header)

	for _, r := range rows {
		row := []string{
			r.Region,
			fmt.Sprintf("%d", r.FOV),
			fmt.Sprintf("%d", r.ZLevel),
			fmt.Sprintf("%.6f", r.XMm),
			fmt.Sprintf("%.6f", r.YMm),
			fmt.Sprintf("%.3f", r.ZUm),
			r.Time.Format(time.RFC3339Nano),
		}
		if usePiezo {
			row = append(row, fmt.Sprintf("%.3f", r.ZPiezoUm))
		}
		cw.Write(row)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("dataset: write timepoint coordinates.csv: %w", err)
	}
	return w.fs.WriteFile(filepath.Join(dir, "coordinates.csv"), buf.Bytes(), 0o644)
}
