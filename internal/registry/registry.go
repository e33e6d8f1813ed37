// Package registry is a small SQLite-backed log of past and in-flight
// experiments. It exists so MultiPointController.StartNewExperiment can
// reject a duplicate experiment_ID and so the operator dashboard can list
// recent runs without re-scanning the dataset directory tree.
package registry

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the registry database. All methods are safe for concurrent use
// (database/sql's connection pool serializes writes against SQLite itself).
type Store struct {
	*sql.DB
}

// Open opens (creating if necessary) the registry database at path and
// migrates it to the latest schema version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db}
	if err := store.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("registry: apply %q: %w", p, err)
		}
	}
	return nil
}

func migrationsSourceFS() (fs.FS, error) {
	return fs.Sub(migrationsFS, "migrations")
}

func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("registry: migrate up: %w", err)
	}
	return nil
}

// newMigrate builds a migrate.Migrate bound to this Store's connection.
// The returned instance must not be closed with Close(): the sqlite driver's
// Close() would close the shared *sql.DB, which Store owns.
func (s *Store) newMigrate() (*migrate.Migrate, error) {
	sourceFS, err := migrationsSourceFS()
	if err != nil {
		return nil, fmt.Errorf("registry: migrations filesystem: %w", err)
	}
	sourceDriver, err := iofs.New(sourceFS, ".")
	if err != nil {
		return nil, fmt.Errorf("registry: iofs source driver: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("registry: sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("registry: migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) { log.Printf("[registry-migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                  { return false }

// Version reports the current migration version, or 0 if none have been
// applied (a brand-new, still-empty database).
func (s *Store) Version() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Experiment is one row of the registry.
type Experiment struct {
	ExperimentID  string
	BasePath      string
	StartedAt     time.Time
	EndedAt       *time.Time
	Success       *bool
	FailureReason string
	FinalFOVCount int
}
