package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"paydesk/pkg/logger"
)

// Migrator applies *.sql files from an fs.FS once each, in lexical order,
// recording them in schema_migrations.
type Migrator struct {
	pool  *Pool
	files fs.FS
}

// NewMigrator creates a migrator over files.
func NewMigrator(pool *Pool, files fs.FS) *Migrator {
	return &Migrator{pool: pool, files: files}
}

// Run applies pending migrations. Each file runs in its own transaction.
func (m *Migrator) Run(ctx context.Context) (int, error) {
	if _, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	names, err := pendingFiles(m.files, applied)
	if err != nil {
		return 0, err
	}

	for _, name := range names {
		content, err := fs.ReadFile(m.files, name)
		if err != nil {
			return 0, fmt.Errorf("read migration %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("apply migration %s: %w", name, err)
		}
		logger.Info(ctx, "migration applied", "file", name)
	}
	return len(names), nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.pool.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan applied migrations: %w", err)
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

// pendingFiles lists *.sql files not yet applied, sorted by name.
func pendingFiles(files fs.FS, applied map[string]bool) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") || applied[e.Name()] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
