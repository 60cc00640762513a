package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/distill/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations brings the schema up to the latest embedded version.
// Already-applied versions are skipped.
func RunMigrations(db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(context.Background())
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	for _, r := range results {
		slog.Debug("migration applied",
			"version", r.Source.Version,
			"duration", r.Duration,
			"component", "store",
		)
	}
	return nil
}
