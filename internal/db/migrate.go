package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

//go:embed migrations/*.up.sql
var migrationFS embed.FS

// Migrate applies every embedded *.up.sql file that is not yet recorded in
// schema_migrations, in lexical order. It returns applied and skipped counts.
func Migrate(ctx context.Context, db *DB, logger *zap.Logger) (int, int, error) {
	return applyMigrations(ctx, db, migrationFS, logger)
}

func applyMigrations(ctx context.Context, db *DB, fsys fs.FS, logger *zap.Logger) (int, int, error) {
	if _, err := db.Pool().Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	names, err := fs.Glob(fsys, "migrations/*.up.sql")
	if err != nil {
		return 0, 0, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	applied := 0
	skipped := 0

	for _, path := range names {
		name := strings.TrimPrefix(path, "migrations/")

		var exists bool
		err := db.Pool().QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name,
		).Scan(&exists)
		if err != nil {
			return applied, skipped, fmt.Errorf("check applied %s: %w", name, err)
		}
		if exists {
			logger.Debug("migration already applied", zap.String("name", name))
			skipped++
			continue
		}

		contents, err := fs.ReadFile(fsys, path)
		if err != nil {
			return applied, skipped, fmt.Errorf("read %s: %w", name, err)
		}

		start := time.Now()
		logger.Info("applying migration", zap.String("name", name))

		// Simple protocol allows multi-statement files.
		if _, err := db.Pool().Exec(ctx, string(contents), pgx.QueryExecModeSimpleProtocol); err != nil {
			return applied, skipped, fmt.Errorf("execute %s: %w", name, err)
		}

		if _, err := db.Pool().Exec(ctx,
			`INSERT INTO schema_migrations(name) VALUES($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return applied, skipped, fmt.Errorf("mark applied %s: %w", name, err)
		}

		applied++
		logger.Info("migration applied",
			zap.String("name", name),
			zap.Duration("took", time.Since(start).Round(time.Millisecond)),
		)
	}

	return applied, skipped, nil
}
