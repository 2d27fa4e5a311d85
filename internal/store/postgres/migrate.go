package postgres

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"text/template"

	errx "github.com/graphbot-platform/server/internal/core/error"
	logx "github.com/graphbot-platform/server/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the schema migrations in file name order. Every statement is idempotent.
// dimensions sizes the embedding column.
func Migrate(ctx context.Context, db DB, dimensions int) error {
	if dimensions <= 0 {
		return errx.Config("embedding dimensions must be positive, got %d", dimensions)
	}
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := migrationFS.ReadFile(name)
		if err != nil {
			return err
		}
		tpl, err := template.New(name).Parse(string(raw))
		if err != nil {
			return fmt.Errorf("parse migration %s: %w", name, err)
		}
		var sql bytes.Buffer
		if err := tpl.Execute(&sql, map[string]any{"Dimensions": dimensions}); err != nil {
			return fmt.Errorf("render migration %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, sql.String()); err != nil {
			logx.Error().Err(err).Str("migration", name).Msg("migration failed")
			return errx.WrapPostgres(err)
		}
		logx.Info().Str("migration", name).Msg("migration applied")
	}
	return nil
}
