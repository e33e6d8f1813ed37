package dataset

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/squidcore/acquisition/internal/acqmodel"
)

// ObjectiveInfo names the objective in use, for acquisition parameters.json
// (spec.md §6 "objective: { name, magnification, ... }"). This lives
// outside acqmodel.AcquisitionParameters because objective/sensor
// constants belong to hardware configuration, not the per-run snapshot.
type ObjectiveInfo struct {
	Name           string
	MagnificationX float64
}

// Metadata carries the acquisition parameters.json fields not already on
// acqmodel.AcquisitionParameters.
type Metadata struct {
	Objective          ObjectiveInfo
	SensorPixelSizeUm  float64
	TubeLensMm         float64
	HasManualFocusMap  bool
}

type objectiveJSON struct {
	Name          string  `json:"name"`
	Magnification float64 `json:"magnification"`
}

// acquisitionParametersJSON matches the exact key list in spec.md §6.
type acquisitionParametersJSON struct {
	DxMm               float64       `json:"dx(mm)"`
	Nx                 int           `json:"Nx"`
	DyMm               float64       `json:"dy(mm)"`
	Ny                 int           `json:"Ny"`
	DzUm               float64       `json:"dz(um)"`
	Nz                 int           `json:"Nz"`
	DtS                float64       `json:"dt(s)"`
	Nt                 int           `json:"Nt"`
	WithAF             bool          `json:"with AF"`
	WithReflectionAF   bool          `json:"with reflection AF"`
	WithManualFocusMap bool          `json:"with manual focus map"`
	Objective          objectiveJSON `json:"objective"`
	SensorPixelSizeUm  float64       `json:"sensor_pixel_size_um"`
	TubeLensMm         float64       `json:"tube_lens_mm"`
}

// WriteAcquisitionParameters writes acquisition parameters.json (spec.md
// §4.8 Preparation step 7, §6 key list).
func (w *Writer) WriteAcquisitionParameters(root string, params acqmodel.AcquisitionParameters, meta Metadata) error {
	doc := acquisitionParametersJSON{
		DxMm:               params.DeltaXMm,
		Nx:                 params.NX,
		DyMm:               params.DeltaYMm,
		Ny:                 params.NY,
		DzUm:               params.DeltaZMm * 1000,
		Nz:                 params.NZ,
		DtS:                params.DeltaTSeconds,
		Nt:                 params.Nt,
		WithAF:             params.DoAutofocus,
		WithReflectionAF:   params.DoReflectionAutofocus,
		WithManualFocusMap: meta.HasManualFocusMap,
		Objective: objectiveJSON{
			Name:          meta.Objective.Name,
			Magnification: meta.Objective.MagnificationX,
		},
		SensorPixelSizeUm: meta.SensorPixelSizeUm,
		TubeLensMm:        meta.TubeLensMm,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("dataset: marshal acquisition parameters.json: %w", err)
	}
	return w.fs.WriteFile(filepath.Join(root, "acquisition parameters.json"), data, 0o644)
}
