// Package migration wraps golang-migrate against the Postgres schema
// backing the EventStore, DLQ, and credential cache.
package migration

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"

	"eventpipe/internal/infrastructure/database"
)

// Status reports the current state of the schema_migrations table.
type Status struct {
	CurrentVersion uint   `json:"current_version"`
	IsDirty        bool   `json:"is_dirty"`
	State          string `json:"state"`
	Error          string `json:"error,omitempty"`
}

// Manager wraps a single golang-migrate runner against Postgres.
type Manager struct {
	runner *migrate.Migrate
	logger *logrus.Logger
}

// New constructs a Manager bound to db's underlying *sql.DB and the given
// migrations directory.
func New(db *database.PostgresDB, migrationsPath string, logger *logrus.Logger) (*Manager, error) {
	driver, err := postgres.WithInstance(db.SqlDB, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return nil, fmt.Errorf("migration: create postgres driver: %w", err)
	}

	runner, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("migration: create runner: %w", err)
	}

	return &Manager{runner: runner, logger: logger}, nil
}

// Up applies all pending migrations.
func (m *Manager) Up() error {
	if err := m.runner.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration: up: %w", err)
	}
	m.logger.Info("migrations applied")
	return nil
}

// Down rolls back all migrations.
func (m *Manager) Down() error {
	if err := m.runner.Down(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration: down: %w", err)
	}
	return nil
}

// Steps applies n migrations (negative n rolls back).
func (m *Manager) Steps(n int) error {
	if err := m.runner.Steps(n); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration: steps(%d): %w", n, err)
	}
	return nil
}

// Force sets the migration version without running migrations, for
// recovering from a dirty state.
func (m *Manager) Force(version int) error {
	return m.runner.Force(version)
}

// GetStatus reports the current migration version and dirty flag.
func (m *Manager) GetStatus() Status {
	version, dirty, err := m.runner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return Status{State: "error", Error: err.Error()}
	}

	state := "healthy"
	if dirty {
		state = "dirty"
	}

	return Status{CurrentVersion: version, IsDirty: dirty, State: state}
}

// Close releases the migration runner's source and database handles.
func (m *Manager) Close() error {
	srcErr, dbErr := m.runner.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
