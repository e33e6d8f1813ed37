// Package dataset writes the on-disk experiment layout from spec.md §6:
//
//	{base_path}/{experiment_ID}/
//	  configurations.xml
//	  acquisition parameters.json
//	  coordinates.csv
//	  {tttt}/
//	    coordinates.csv
//	    {file_id}_{config.suffix}.{ext}
//	    done
//	  done
package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/fsutil"
)

// Writer writes experiment and per-timepoint layout files via fsutil, so
// tests can exercise it against MemoryFileSystem without touching disk.
type Writer struct {
	fs fsutil.FileSystem
}

// New builds a Writer over fs.
func New(fs fsutil.FileSystem) *Writer {
	return &Writer{fs: fs}
}

// ExperimentRoot is {base_path}/{experiment_id}.
func ExperimentRoot(basePath, experimentID string) string {
	return filepath.Join(basePath, experimentID)
}

// TimepointDir is the per-timepoint directory, zero-padded to
// acqmodel.FileIDPadding digits (spec.md §6 "4+ digit zero-padded";
// resolved to the single FileIDPadding constant used everywhere, per
// DESIGN.md's Open Question decision).
func TimepointDir(root string, timePoint int) string {
	return filepath.Join(root, fmt.Sprintf("%0*d", acqmodel.FileIDPadding, timePoint))
}

// EnsureExperimentRoot creates the experiment directory.
func (w *Writer) EnsureExperimentRoot(root string) error {
	return w.fs.MkdirAll(root, 0o755)
}

// EnsureTimepointDir creates the per-timepoint directory.
func (w *Writer) EnsureTimepointDir(dir string) error {
	return w.fs.MkdirAll(dir, 0o755)
}

// WriteConfigurations writes configurations.xml (spec.md §6, via
// acqmodel.ChannelConfigurationSet.MarshalXML).
func (w *Writer) WriteConfigurations(root string, set acqmodel.ChannelConfigurationSet) error {
	data, err := set.MarshalXML()
	if err != nil {
		return fmt.Errorf("dataset: marshal configurations.xml: %w", err)
	}
	return w.fs.WriteFile(filepath.Join(root, "configurations.xml"), data, 0o644)
}

// WriteDoneMarker writes an empty `done` marker file into dir (spec.md §6,
// §4.9 step 5, §4.8 Completion).
func (w *Writer) WriteDoneMarker(dir string) error {
	return w.fs.WriteFile(filepath.Join(dir, "done"), nil, 0o644)
}
