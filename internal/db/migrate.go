package db

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/pressly/goose/v3"

	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// newProvider builds a goose provider over the embedded migrations.
func newProvider(db *sql.DB) (*goose.Provider, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "migrations fs", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "goose new provider", err)
	}
	return provider, nil
}

// Migrate applies all pending migrations and returns the versions applied.
func Migrate(ctx context.Context, db *sql.DB) ([]int64, error) {
	provider, err := newProvider(db)
	if err != nil {
		return nil, err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "goose up", err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

// MigrationState is one row of the migration status report.
type MigrationState struct {
	Version int64  `json:"version" yaml:"version"`
	Path    string `json:"path" yaml:"path"`
	Applied bool   `json:"applied" yaml:"applied"`
}

// MigrationStatus reports every known migration and whether it is applied.
func MigrationStatus(ctx context.Context, db *sql.DB) ([]MigrationState, error) {
	provider, err := newProvider(db)
	if err != nil {
		return nil, err
	}
	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "goose status", err)
	}
	out := make([]MigrationState, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationState{
			Version: s.Source.Version,
			Path:    s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}

// HasPendingMigrations reports whether the schema is behind the binary.
func HasPendingMigrations(ctx context.Context, db *sql.DB) (bool, error) {
	provider, err := newProvider(db)
	if err != nil {
		return false, err
	}
	pending, err := provider.HasPending(ctx)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrMigration, "goose pending", err)
	}
	return pending, nil
}
