package laseraf

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/squidcore/acquisition/internal/acqmodel"
	"github.com/squidcore/acquisition/internal/fsutil"
)

// SettingsStore persists one LaserAFConfig per objective as JSON (spec.md
// §4.6 "persist to the per-objective settings store"), so a profile or
// objective switch can reload cached calibration/reference data without
// touching hardware.
type SettingsStore struct {
	fs  fsutil.FileSystem
	dir string
}

// NewSettingsStore builds a store rooted at dir (created on first Save).
func NewSettingsStore(fs fsutil.FileSystem, dir string) *SettingsStore {
	return &SettingsStore{fs: fs, dir: dir}
}

// Load reads the persisted config for objective, or (zero value, false) if
// none has been saved yet.
func (s *SettingsStore) Load(objective string) (acqmodel.LaserAFConfig, bool) {
	data, err := s.fs.ReadFile(s.path(objective))
	if err != nil {
		return acqmodel.LaserAFConfig{}, false
	}
	var cfg acqmodel.LaserAFConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return acqmodel.LaserAFConfig{}, false
	}
	return cfg, true
}

// Save persists cfg for its objective.
func (s *SettingsStore) Save(cfg acqmodel.LaserAFConfig) error {
	if cfg.Objective == "" {
		return fmt.Errorf("laseraf: cannot save config with empty objective")
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("laseraf: creating settings dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("laseraf: marshaling config for %q: %w", cfg.Objective, err)
	}
	if err := s.fs.WriteFile(s.path(cfg.Objective), data, 0o644); err != nil {
		return fmt.Errorf("laseraf: writing config for %q: %w", cfg.Objective, err)
	}
	return nil
}

func (s *SettingsStore) path(objective string) string {
	return filepath.Join(s.dir, objective+".json")
}
