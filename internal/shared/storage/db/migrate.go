package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"sync"

	"github.com/pressly/goose/v3"

	"docpipe-backend/internal/shared/telemetry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

// goose keeps its FS and dialect in package state.
var gooseMu sync.Mutex

func withGoose(database *sql.DB, fn func() error) error {
	if database == nil {
		return errors.New("migrations need a database")
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationFiles)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return fn()
}

// RunMigrations applies every pending embedded migration and logs the
// resulting schema version.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	return withGoose(database, func() error {
		if err := goose.UpContext(ctx, database, migrationsDir); err != nil {
			return err
		}
		version, err := goose.GetDBVersionContext(ctx, database)
		if err != nil {
			return err
		}
		telemetry.Info("db.migrated", map[string]any{"version": version})
		return nil
	})
}

// MigrationStatus prints the applied state of each embedded migration.
func MigrationStatus(ctx context.Context, database *sql.DB) error {
	return withGoose(database, func() error {
		return goose.StatusContext(ctx, database, migrationsDir)
	})
}
