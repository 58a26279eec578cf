package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"homeassist/migrations"
)

// ExecContexter is the subset of *sql.DB used by Apply.
type ExecContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Apply executes every embedded SQLite migration in file order.
// All statements are idempotent, so Apply runs on every open.
func Apply(ctx context.Context, db ExecContexter) error {
	return applyFS(ctx, db, migrations.SQLite())
}

func applyFS(ctx context.Context, db ExecContexter, migrationsFS fs.FS) error {
	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("sqlite: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, entry.Name())
		if err != nil {
			return fmt.Errorf("sqlite: read migration %s: %w", entry.Name(), err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("sqlite: execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}
