package registry

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	fname := t.Name() + ".db"
	os.Remove(fname)
	t.Cleanup(func() {
		os.Remove(fname)
		os.Remove(fname + "-shm")
		os.Remove(fname + "-wal")
	})

	s, err := Open(fname)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMigratesFreshDatabaseToLatestVersion(t *testing.T) {
	s := setupTestStore(t)
	version, dirty, err := s.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)
}

func TestRecordStartThenExists(t *testing.T) {
	s := setupTestStore(t)
	now := time.Unix(1700000000, 0)

	ok, err := s.Exists("exp1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordStart("exp1", "/data/exp1", now))

	ok, err = s.Exists("exp1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordStartRejectsDuplicateExperimentID(t *testing.T) {
	s := setupTestStore(t)
	now := time.Unix(1700000000, 0)
	require.NoError(t, s.RecordStart("exp1", "/data/exp1", now))

	err := s.RecordStart("exp1", "/data/exp1-again", now)
	assert.ErrorIs(t, err, ErrDuplicateExperiment)
}

func TestGetReturnsNotFoundForUnknownExperiment(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.Get("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordEndUpdatesTerminalFields(t *testing.T) {
	s := setupTestStore(t)
	started := time.Unix(1700000000, 0)
	ended := started.Add(5 * time.Minute)
	require.NoError(t, s.RecordStart("exp1", "/data/exp1", started))

	require.NoError(t, s.RecordEnd("exp1", true, "", 42, ended))

	exp, err := s.Get("exp1")
	require.NoError(t, err)
	assert.Equal(t, "exp1", exp.ExperimentID)
	assert.Equal(t, "/data/exp1", exp.BasePath)
	assert.Equal(t, started.Unix(), exp.StartedAt.Unix())
	require.NotNil(t, exp.EndedAt)
	assert.Equal(t, ended.Unix(), exp.EndedAt.Unix())
	require.NotNil(t, exp.Success)
	assert.True(t, *exp.Success)
	assert.Equal(t, 42, exp.FinalFOVCount)
}

func TestRecordEndCarriesFailureReasonOnFailure(t *testing.T) {
	s := setupTestStore(t)
	started := time.Unix(1700000000, 0)
	require.NoError(t, s.RecordStart("exp1", "/data/exp1", started))

	require.NoError(t, s.RecordEnd("exp1", false, "resource unavailable", 3, started.Add(time.Minute)))

	exp, err := s.Get("exp1")
	require.NoError(t, err)
	require.NotNil(t, exp.Success)
	assert.False(t, *exp.Success)
	assert.Equal(t, "resource unavailable", exp.FailureReason)
}

func TestRecordEndOnUnknownExperimentReturnsNotFound(t *testing.T) {
	s := setupTestStore(t)
	err := s.RecordEnd("never-started", true, "", 0, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentOrdersMostRecentFirst(t *testing.T) {
	s := setupTestStore(t)
	base := time.Unix(1700000000, 0)
	require.NoError(t, s.RecordStart("exp1", "/data/exp1", base))
	require.NoError(t, s.RecordStart("exp2", "/data/exp2", base.Add(time.Hour)))
	require.NoError(t, s.RecordStart("exp3", "/data/exp3", base.Add(2*time.Hour)))

	recent, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "exp3", recent[0].ExperimentID)
	assert.Equal(t, "exp2", recent[1].ExperimentID)
}

func TestRecentDefaultsLimitWhenNonPositive(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.RecordStart("exp1", "/data/exp1", time.Unix(1700000000, 0)))

	recent, err := s.Recent(0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestReopeningAnExistingRegistryIsIdempotent(t *testing.T) {
	fname := t.Name() + ".db"
	os.Remove(fname)
	t.Cleanup(func() {
		os.Remove(fname)
		os.Remove(fname + "-shm")
		os.Remove(fname + "-wal")
	})

	s1, err := Open(fname)
	require.NoError(t, err)
	require.NoError(t, s1.RecordStart("exp1", "/data/exp1", time.Unix(1700000000, 0)))
	require.NoError(t, s1.Close())

	s2, err := Open(fname)
	require.NoError(t, err)
	defer s2.Close()

	ok, err := s2.Exists("exp1")
	require.NoError(t, err)
	assert.True(t, ok)
}
