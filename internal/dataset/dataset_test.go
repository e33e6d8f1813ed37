package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/fsutil"
)

func TestExperimentRootAndTimepointDirNaming(t *testing.T) {
	assert.Equal(t, "/data/exp1", ExperimentRoot("/data", "exp1"))
	assert.Equal(t, "/data/exp1/0003", TimepointDir("/data/exp1", 3))
}

func TestWriteConfigurationsRoundTrips(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := New(fs)
	root := "/exp"
	require.NoError(t, w.EnsureExperimentRoot(root))

	set := acqmodel.ChannelConfigurationSet{
		Objective: "20x",
		Modes: []acqmodel.ChannelMode{
			{Name: "BF", ExposureTimeMs: 10, IlluminationIntensity: 50},
		},
	}
	require.NoError(t, w.WriteConfigurations(root, set))

	data, err := fs.ReadFile(root + "/configurations.xml")
	require.NoError(t, err)

	parsed, err := acqmodel.UnmarshalChannelConfigurationSet(data)
	require.NoError(t, err)
	assert.Equal(t, set, parsed)
}

func TestWriteDoneMarkerCreatesEmptyFile(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := New(fs)
	require.NoError(t, w.EnsureExperimentRoot("/exp"))
	require.NoError(t, w.WriteDoneMarker("/exp"))
	assert.True(t, fs.Exists("/exp/done"))
}

func TestWriteExperimentCoordinatesHasHeaderAndOneRowPerRegion(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := New(fs)
	require.NoError(t, w.EnsureExperimentRoot("/exp"))

	rows := []RegionCoordinateRow{
		{Region: "A1", XMm: 1, YMm: 2, ZMm: 3},
		{Region: "A2", XMm: 4, YMm: 5, ZMm: 6},
	}
	require.NoError(t, w.WriteExperimentCoordinates("/exp", rows))

	data, err := fs.ReadFile("/exp/coordinates.csv")
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "region,x (mm),y (mm),z (mm)")
	assert.Contains(t, content, "A1,1.000000,2.000000,3.000000")
	assert.Contains(t, content, "A2,4.000000,5.000000,6.000000")
}

func TestWriteTimepointCoordinatesOmitsPiezoColumnWhenUnused(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := New(fs)
	dir := "/exp/0000"
	require.NoError(t, w.EnsureTimepointDir(dir))

	rows := []FOVCoordinateRow{
		{Region: "A1", FOV: 0, ZLevel: 0, XMm: 1, YMm: 2, ZUm: 3000, Time: time.Unix(0, 0).UTC()},
	}
	require.NoError(t, w.WriteTimepointCoordinates(dir, rows, false))

	data, err := fs.ReadFile(dir + "/coordinates.csv")
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "region,fov,z_level,x (mm),y (mm),z (um),time")
	assert.NotContains(t, content, "z_piezo")
}

func TestWriteTimepointCoordinatesIncludesPiezoColumnWhenUsed(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := New(fs)
	dir := "/exp/0001"
	require.NoError(t, w.EnsureTimepointDir(dir))

	rows := []FOVCoordinateRow{
		{Region: "A1", FOV: 0, ZLevel: 0, XMm: 1, YMm: 2, ZUm: 3000, Time: time.Unix(0, 0).UTC(), ZPiezoUm: 12.5},
	}
	require.NoError(t, w.WriteTimepointCoordinates(dir, rows, true))

	data, err := fs.ReadFile(dir + "/coordinates.csv")
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "z_piezo (um)")
	assert.Contains(t, content, "12.500")
}

func TestWriteAcquisitionParametersUsesExactKeyNames(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := New(fs)
	require.NoError(t, w.EnsureExperimentRoot("/exp"))

	params := acqmodel.AcquisitionParameters{
		NX: 2, NY: 3, NZ: 1, Nt: 1,
		DeltaXMm: 0.5, DeltaYMm: 0.6, DeltaZMm: 0.002, DeltaTSeconds: 60,
		DoAutofocus: true,
	}
	meta := Metadata{
		Objective:         ObjectiveInfo{Name: "20x", MagnificationX: 20},
		SensorPixelSizeUm: 2.4,
		TubeLensMm:        180,
	}
	require.NoError(t, w.WriteAcquisitionParameters("/exp", params, meta))

	data, err := fs.ReadFile("/exp/acquisition parameters.json")
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `"dx(mm)": 0.5`)
	assert.Contains(t, content, `"Nx": 2`)
	assert.Contains(t, content, `"dz(um)": 2`)
	assert.Contains(t, content, `"with AF": true`)
	assert.Contains(t, content, `"name": "20x"`)
}
