package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations brings the schema at dbPath up to the latest embedded
// migration. Safe to call on every startup; an up-to-date schema is a
// no-op.
func RunMigrations(dbPath string) error {
	// Migrations run on their own connection, outside the repository's
	// pool.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database for migration: %w", err)
	}
	defer db.Close()

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("init sqlite migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer m.Close()

	switch err := m.Up(); {
	case err == nil:
		version, dirty, _ := m.Version()
		slog.Info("Schema migrated", "version", version, "dirty", dirty)
	case errors.Is(err, migrate.ErrNoChange):
	default:
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
