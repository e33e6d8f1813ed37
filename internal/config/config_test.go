package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRigConfigRejectsNonJSONExtension(t *testing.T) {
	path := writeConfigFile(t, "rig.txt", `{}`)
	_, err := LoadRigConfig(path)
	assert.Error(t, err)
}

func TestLoadRigConfigRejectsOversizedFile(t *testing.T) {
	big := make([]byte, 2*1024*1024)
	for i := range big {
		big[i] = ' '
	}
	path := writeConfigFile(t, "rig.json", string(big))
	_, err := LoadRigConfig(path)
	assert.Error(t, err)
}

func TestLoadRigConfigParsesPartialOverrides(t *testing.T) {
	path := writeConfigFile(t, "rig.json", `{"sensor_pixel_size_um": 6.5, "number_of_fovs_per_af": 3}`)
	cfg, err := LoadRigConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 6.5, cfg.GetSensorPixelSizeUm())
	// Unset fields fall back to their documented defaults.
	assert.Equal(t, 180.0, cfg.GetTubeLensMm())
	assert.Equal(t, 3, cfg.GetMultipointConfig().NumberOfFOVsPerAF)
}

func TestLoadRigConfigRejectsInvalidDuration(t *testing.T) {
	path := writeConfigFile(t, "rig.json", `{"stage_settle_delay": "not-a-duration"}`)
	_, err := LoadRigConfig(path)
	assert.Error(t, err)
}

func TestLoadRigConfigRejectsNonPositiveObjectiveMagnification(t *testing.T) {
	path := writeConfigFile(t, "rig.json", `{"objectives": {"bogus": 0}}`)
	_, err := LoadRigConfig(path)
	assert.Error(t, err)
}

func TestMustLoadDefaultConfigFindsRepoDefaultsFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	assert.Greater(t, cfg.GetSensorPixelSizeUm(), 0.0)

	info, ok := cfg.Objective("20x")
	require.True(t, ok)
	assert.Equal(t, "20x", info.Name)
	assert.Equal(t, 20.0, info.MagnificationX)

	_, ok = cfg.Objective("does-not-exist")
	assert.False(t, ok)
}

func TestGetStageLimitsAppliesOnlyConfiguredOverrides(t *testing.T) {
	cfg := EmptyRigConfig()
	cfg.StageLimitXPosMm = ptr(50.0)

	limits := cfg.GetStageLimits()
	assert.Equal(t, 50.0, limits.XPosMm)
	// Unconfigured bounds keep scan's permissive default.
	assert.Equal(t, -100.0, limits.XNegMm)
	assert.True(t, limits.Contains(0, 0))
}

func TestGetMultipointConfigDefaultsMatchSensibleValues(t *testing.T) {
	cfg := EmptyRigConfig()
	mpCfg := cfg.GetMultipointConfig()

	assert.Equal(t, 1, mpCfg.NumberOfFOVsPerAF)
	assert.Equal(t, 100*time.Millisecond, mpCfg.StageSettleDelay)
	assert.Equal(t, 20*time.Millisecond, mpCfg.PiezoSettleDelay)
	assert.Equal(t, 10*time.Second, mpCfg.EndOfRunDrainTimeout)
}

func ptr(v float64) *float64 { return &v }
