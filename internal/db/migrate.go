package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies every embedded schema file in name order. Files are
// written to be idempotent, so re-running is safe.
func (db *DB) Migrate(ctx context.Context) error {
	names, err := schemaFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		body, err := schemaFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if _, err := db.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
	}
	return nil
}

func schemaFiles() ([]string, error) {
	names, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list schema files: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
