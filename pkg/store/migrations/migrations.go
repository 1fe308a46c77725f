// Package migrations holds the schema of the event store as goose Go migrations.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// Up applies every pending migration for the given dialect.
func Up(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	if _, ok := createEventsDDL[dialect]; !ok {
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}
	provider, err := goose.NewProvider(dialect, db, nil,
		goose.WithDisableGlobalRegistry(true),
		goose.WithGoMigrations(createEvents(dialect)),
	)
	if err != nil {
		return fmt.Errorf("failed to build migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	for _, r := range results {
		slog.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}
