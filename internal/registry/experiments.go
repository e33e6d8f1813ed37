package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicateExperiment is returned by RecordStart when experiment_id
// already has a row in the registry.
var ErrDuplicateExperiment = errors.New("registry: experiment_id already recorded")

// ErrNotFound is returned when an experiment_id has no row.
var ErrNotFound = errors.New("registry: experiment not found")

// RecordStart inserts a new in-flight experiment row. It fails with
// ErrDuplicateExperiment if experimentID has already been used.
// MultiPointController.StartAcquisition calls it once preparation succeeds;
// StartNewExperiment checks for a duplicate beforehand with Exists.
func (s *Store) RecordStart(experimentID, basePath string, startedAt time.Time) error {
	_, err := s.Exec(
		`INSERT INTO experiments (experiment_id, base_path, started_unix) VALUES (?, ?, ?)`,
		experimentID, basePath, startedAt.Unix(),
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateExperiment
	}
	return err
}

// RecordEnd marks experimentID as finished: success/failure, the final FOV
// count, and (on failure) the error text. Called from the same place the
// controller writes the done marker file.
func (s *Store) RecordEnd(experimentID string, success bool, failureReason string, finalFOVCount int, endedAt time.Time) error {
	res, err := s.Exec(
		`UPDATE experiments SET ended_unix = ?, success = ?, failure_reason = ?, final_fov_count = ? WHERE experiment_id = ?`,
		endedAt.Unix(), success, failureReason, finalFOVCount, experimentID,
	)
	if err != nil {
		return fmt.Errorf("registry: record end for %q: %w", experimentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: record end for %q: %w", experimentID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether experimentID already has a row, regardless of
// whether the run it names ever finished.
func (s *Store) Exists(experimentID string) (bool, error) {
	var n int
	err := s.QueryRow(`SELECT COUNT(*) FROM experiments WHERE experiment_id = ?`, experimentID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("registry: exists %q: %w", experimentID, err)
	}
	return n > 0, nil
}

// Get returns the registry row for experimentID.
func (s *Store) Get(experimentID string) (*Experiment, error) {
	row := s.QueryRow(
		`SELECT experiment_id, base_path, started_unix, ended_unix, success, failure_reason, final_fov_count
		 FROM experiments WHERE experiment_id = ?`, experimentID,
	)
	exp, err := scanExperiment(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get %q: %w", experimentID, err)
	}
	return exp, nil
}

// Recent returns the most recently started experiments, most recent first.
func (s *Store) Recent(limit int) ([]Experiment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Query(
		`SELECT experiment_id, base_path, started_unix, ended_unix, success, failure_reason, final_fov_count
		 FROM experiments ORDER BY started_unix DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("registry: recent: %w", err)
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("registry: recent: %w", err)
		}
		out = append(out, *exp)
	}
	return out, rows.Err()
}

func scanExperiment(scan func(dest ...any) error) (*Experiment, error) {
	var exp Experiment
	var startedUnix int64
	var endedUnix sql.NullInt64
	var success sql.NullBool
	var failureReason sql.NullString

	if err := scan(&exp.ExperimentID, &exp.BasePath, &startedUnix, &endedUnix, &success, &failureReason, &exp.FinalFOVCount); err != nil {
		return nil, err
	}
	exp.StartedAt = time.Unix(startedUnix, 0).UTC()
	if endedUnix.Valid {
		t := time.Unix(endedUnix.Int64, 0).UTC()
		exp.EndedAt = &t
	}
	if success.Valid {
		b := success.Bool
		exp.Success = &b
	}
	exp.FailureReason = failureReason.String
	return &exp, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE/PRIMARY KEY
// constraint failure. modernc.org/sqlite does not export a typed
// constraint-violation error, so this matches on the driver's message text
// the same way a caller would at a sqlite3 CLI prompt.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
