// Package database drives schema migrations for the standard (Postgres)
// profile via goose, independent of any particular connection-pool
// implementation: callers hand it a DSN and it opens its own database/sql
// handle for the duration of the migration run.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

func openForMigration(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open migration connection: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	return db, nil
}

// RunMigrations applies every pending migration under migrations/.
func RunMigrations(ctx context.Context, dsn string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("starting database migrations")

	db, err := openForMigration(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	dir := filepath.Clean(migrationsDir)
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")
	return nil
}

// RunMigrationsDown rolls migrations back by steps.
func RunMigrationsDown(ctx context.Context, dsn string, steps int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("rolling back database migrations", "steps", steps)

	db, err := openForMigration(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	dir := filepath.Clean(migrationsDir)
	current, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	if err := goose.DownToContext(ctx, db, dir, current-int64(steps)); err != nil {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	logger.Info("database migration rollback completed", "steps", steps)
	return nil
}

// GetMigrationStatus prints the applied/pending migration status via
// goose's own reporter.
func GetMigrationStatus(ctx context.Context, dsn string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openForMigration(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	dir := filepath.Clean(migrationsDir)
	if err := goose.StatusContext(ctx, db, dir); err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	return nil
}
