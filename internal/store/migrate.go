package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/roomsync/internal/store/migrations"
)

// MigrationsTable records the cache schema version inside cache.db.
const MigrationsTable = "cache_schema_migrations"

// ErrDirtySchema means a previous migration stopped halfway. The cache
// holds nothing that cannot be fetched again, so deleting cache.db fixes it.
var ErrDirtySchema = errors.New("cache schema is dirty")

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	From    uint
	Version uint
	Changed bool
}

// Migrate brings the cache schema up to the latest embedded version.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("cache migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return nil, fmt.Errorf("cache migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("cache migrator: %w", err)
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return nil, fmt.Errorf("read cache schema version: %w", err)
	case dirty:
		return nil, fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migrate cache schema from %d: %w", from, err)
	}
	version, _, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("read cache schema version: %w", err)
	}
	return &MigrateResult{From: from, Version: version, Changed: version != from}, nil
}
