package diagnostics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squidcore/acquisition/internal/autofocus"
	"github.com/squidcore/acquisition/internal/laseraf"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestSweepCurvePNGReturnsPNGBytes(t *testing.T) {
	samples := []autofocus.SweepSample{
		{ZMm: 1.0, Grade: 10},
		{ZMm: 1.1, Grade: 25},
		{ZMm: 1.2, Grade: 15},
	}

	png, err := SweepCurvePNG(samples, 1.1)
	require.NoError(t, err)
	assert.Greater(t, len(png), 0)
	assert.True(t, bytes.HasPrefix(png, pngMagic))
}

func TestSweepCurvePNGRejectsEmptySamples(t *testing.T) {
	_, err := SweepCurvePNG(nil, 0)
	assert.Error(t, err)
}

func TestZSearchTracePNGReturnsPNGBytes(t *testing.T) {
	samples := []laseraf.ZSearchSample{
		{OffsetUm: -10, SpotFound: false},
		{OffsetUm: 0, DisplacementUm: 2.5, SpotFound: true},
		{OffsetUm: 10, DisplacementUm: 12.5, SpotFound: true},
	}

	png, err := ZSearchTracePNG(samples)
	require.NoError(t, err)
	assert.Greater(t, len(png), 0)
	assert.True(t, bytes.HasPrefix(png, pngMagic))
}

func TestZSearchTracePNGRejectsEmptySamples(t *testing.T) {
	_, err := ZSearchTracePNG(nil)
	assert.Error(t, err)
}
