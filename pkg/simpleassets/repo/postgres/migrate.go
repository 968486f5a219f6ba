package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the schema (when named) and every table used by the
// repository in a single round trip. It is safe to run repeatedly.
func Migrate(ctx context.Context, db DBTX, schema string) error {
	script := schemaSQL
	if schema != "" {
		ident := pgx.Identifier{schema}.Sanitize()
		script = fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;\nSET search_path TO %s;\n%s", ident, ident, schemaSQL)
	}
	if _, err := db.Exec(ctx, script); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
