package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/squidcore/acquisition/internal/dataset"
	"github.com/squidcore/acquisition/internal/multipoint"
	"github.com/squidcore/acquisition/internal/scan"
)

// DefaultConfigPath is the path to the canonical hardware/acquisition
// defaults file. This is the single source of truth for rig-specific
// constants that spec.md names but leaves implementation-defined
// (SOFTWARE_POS_LIMIT, sensor/objective constants, default settle delays).
const DefaultConfigPath = "config/acquisition.defaults.json"

// RigConfig is the root configuration for one microscope rig. The schema
// matches what an admin-dashboard settings form would round-trip, so the
// same JSON serves both startup configuration and runtime inspection.
type RigConfig struct {
	// Objectives maps an objective name (as selected via SetObjective) to
	// its magnification, for acquisition parameters.json (spec.md §6).
	Objectives map[string]float64 `json:"objectives,omitempty"`

	SensorPixelSizeUm *float64 `json:"sensor_pixel_size_um,omitempty"`
	TubeLensMm        *float64 `json:"tube_lens_mm,omitempty"`

	// Stage software position limits (spec.md §4.7 SOFTWARE_POS_LIMIT).
	StageLimitXNegMm *float64 `json:"stage_limit_x_neg_mm,omitempty"`
	StageLimitXPosMm *float64 `json:"stage_limit_x_pos_mm,omitempty"`
	StageLimitYNegMm *float64 `json:"stage_limit_y_neg_mm,omitempty"`
	StageLimitYPosMm *float64 `json:"stage_limit_y_pos_mm,omitempty"`

	NumberOfFOVsPerAF    *int    `json:"number_of_fovs_per_af,omitempty"`
	StageSettleDelay     *string `json:"stage_settle_delay,omitempty"` // duration string like "100ms"
	PiezoSettleDelay     *string `json:"piezo_settle_delay,omitempty"`
	EndOfRunDrainTimeout *string `json:"end_of_run_drain_timeout,omitempty"`
}

// EmptyRigConfig returns a RigConfig with all fields unset. Use LoadRigConfig
// to load actual values from a defaults file.
func EmptyRigConfig() *RigConfig {
	return &RigConfig{}
}

// LoadRigConfig loads a RigConfig from a JSON file. The file is validated to
// have a .json extension and to be under the max file size. Fields omitted
// from the JSON retain their zero value, so partial configs are safe; the
// Get* accessors fill in a sensible default for anything left unset.
func LoadRigConfig(path string) (*RigConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRigConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical rig defaults from
// DefaultConfigPath, searching from the current directory up through common
// parent directories. Panics if the file cannot be loaded; intended for
// test setup and early process startup, not request-time code.
func MustLoadDefaultConfig() *RigConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
		"../../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadRigConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from the repository root")
}

// Validate checks that any set configuration values are well-formed.
func (c *RigConfig) Validate() error {
	if c.SensorPixelSizeUm != nil && *c.SensorPixelSizeUm <= 0 {
		return fmt.Errorf("sensor_pixel_size_um must be positive, got %f", *c.SensorPixelSizeUm)
	}
	if c.TubeLensMm != nil && *c.TubeLensMm <= 0 {
		return fmt.Errorf("tube_lens_mm must be positive, got %f", *c.TubeLensMm)
	}
	for _, d := range []*string{c.StageSettleDelay, c.PiezoSettleDelay, c.EndOfRunDrainTimeout} {
		if d != nil && *d != "" {
			if _, err := time.ParseDuration(*d); err != nil {
				return fmt.Errorf("invalid duration %q: %w", *d, err)
			}
		}
	}
	if c.NumberOfFOVsPerAF != nil && *c.NumberOfFOVsPerAF < 0 {
		return fmt.Errorf("number_of_fovs_per_af must be non-negative, got %d", *c.NumberOfFOVsPerAF)
	}
	for name, mag := range c.Objectives {
		if mag <= 0 {
			return fmt.Errorf("objective %q has non-positive magnification %f", name, mag)
		}
	}
	return nil
}

// Objective looks up an objective's ObjectiveInfo by name, for populating
// dataset.Metadata ahead of a run. ok is false if name is not configured.
func (c *RigConfig) Objective(name string) (info dataset.ObjectiveInfo, ok bool) {
	mag, ok := c.Objectives[name]
	if !ok {
		return dataset.ObjectiveInfo{}, false
	}
	return dataset.ObjectiveInfo{Name: name, MagnificationX: mag}, true
}

// GetSensorPixelSizeUm returns the sensor pixel size or a permissive default.
func (c *RigConfig) GetSensorPixelSizeUm() float64 {
	if c.SensorPixelSizeUm == nil {
		return 3.45 // common CMOS sensor pixel pitch
	}
	return *c.SensorPixelSizeUm
}

// GetTubeLensMm returns the tube lens focal length or a permissive default.
func (c *RigConfig) GetTubeLensMm() float64 {
	if c.TubeLensMm == nil {
		return 180 // common infinity-corrected tube lens focal length
	}
	return *c.TubeLensMm
}

// GetStageLimits returns the configured software position limits, reusing
// scan.StageLimits rather than a parallel type (spec.md §4.7
// SOFTWARE_POS_LIMIT governs FOV generation in internal/scan and stage
// motion validation alike, so both consume the same value).
func (c *RigConfig) GetStageLimits() scan.StageLimits {
	limits := scan.DefaultStageLimits()
	if c.StageLimitXNegMm != nil {
		limits.XNegMm = *c.StageLimitXNegMm
	}
	if c.StageLimitXPosMm != nil {
		limits.XPosMm = *c.StageLimitXPosMm
	}
	if c.StageLimitYNegMm != nil {
		limits.YNegMm = *c.StageLimitYNegMm
	}
	if c.StageLimitYPosMm != nil {
		limits.YPosMm = *c.StageLimitYPosMm
	}
	return limits
}

// GetMultipointConfig returns the worker tunables (spec.md §4.9
// NUMBER_OF_FOVS_PER_AF, MULTIPOINT_PIEZO_DELAY_MS) as a multipoint.Config,
// falling back to multipoint's own defaults for anything unset.
func (c *RigConfig) GetMultipointConfig() multipoint.Config {
	cfg := multipoint.Config{
		NumberOfFOVsPerAF:    1,
		StageSettleDelay:     100 * time.Millisecond,
		PiezoSettleDelay:     20 * time.Millisecond,
		EndOfRunDrainTimeout: 10 * time.Second,
	}
	if c.NumberOfFOVsPerAF != nil {
		cfg.NumberOfFOVsPerAF = *c.NumberOfFOVsPerAF
	}
	if d, ok := parseDurationPtr(c.StageSettleDelay); ok {
		cfg.StageSettleDelay = d
	}
	if d, ok := parseDurationPtr(c.PiezoSettleDelay); ok {
		cfg.PiezoSettleDelay = d
	}
	if d, ok := parseDurationPtr(c.EndOfRunDrainTimeout); ok {
		cfg.EndOfRunDrainTimeout = d
	}
	return cfg
}

func parseDurationPtr(s *string) (time.Duration, bool) {
	if s == nil || *s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0, false
	}
	return d, true
}
