package database

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaTemplate string

// SchemaStatements renders the schema for the active dialect.
func SchemaStatements() []string {
	var pk, ts, long string
	switch {
	case IsPostgreSQL():
		pk, ts, long = "BIGSERIAL PRIMARY KEY", "TIMESTAMP", "TEXT"
	case IsSQLite():
		pk, ts, long = "INTEGER PRIMARY KEY AUTOINCREMENT", "DATETIME", "TEXT"
	default:
		pk, ts, long = "BIGINT AUTO_INCREMENT PRIMARY KEY", "DATETIME", "LONGTEXT"
	}

	rendered := strings.NewReplacer(
		"{{PK}}", pk,
		"{{TIMESTAMP}}", ts,
		"{{LONGTEXT}}", long,
	).Replace(schemaTemplate)

	var stmts []string
	for _, raw := range strings.Split(rendered, ";") {
		stmt := strings.TrimSpace(stripComments(raw))
		if stmt == "" {
			continue
		}
		// MySQL has no CREATE INDEX IF NOT EXISTS.
		if IsMySQL() && strings.HasPrefix(stmt, "CREATE INDEX") {
			continue
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}

// Migrate creates missing tables. Statements are idempotent.
func Migrate(ctx context.Context, db DBTX) error {
	for _, stmt := range SchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed on %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func stripComments(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "--") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
