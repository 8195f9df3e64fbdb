package journal

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/journalsync/internal/journal/migrations"
)

// OpenSQLite opens (or creates) a SQLite journal database at dsn and runs
// the goose migrations. The caller owns the returned handle.
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapErr("open", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, wrapErr("migrate", err)
	}
	return db, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}
