package database

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending schema migrations embedded in the binary.
// It is safe to call on every startup; goose tracks applied versions in
// the goose_db_version table.
func (db *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// MigrationVersion reports the currently applied migration version.
func (db *DB) MigrationVersion(ctx context.Context) (int64, error) {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("failed to set migration dialect: %w", err)
	}

	return goose.GetDBVersionContext(ctx, db.DB)
}
