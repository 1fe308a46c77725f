package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

var createEventsDDL = map[goose.Dialect]string{
	goose.DialectPostgres: `
		CREATE TABLE IF NOT EXISTS events(
			id          BIGSERIAL PRIMARY KEY,
			title       VARCHAR(100) NOT NULL,
			description TEXT NOT NULL,
			start_date  TIMESTAMPTZ NOT NULL,
			end_date    TIMESTAMPTZ NOT NULL,
			location    VARCHAR(100) NOT NULL
		);
	`,
	goose.DialectSQLite3: `
		CREATE TABLE IF NOT EXISTS events(
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			title       VARCHAR(100) NOT NULL,
			description TEXT NOT NULL,
			start_date  DATETIME NOT NULL,
			end_date    DATETIME NOT NULL,
			location    VARCHAR(100) NOT NULL
		);
	`,
}

func createEvents(dialect goose.Dialect) *goose.Migration {
	up := func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, createEventsDDL[dialect])
		return err
	}
	down := func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DROP TABLE events;`)
		return err
	}
	return goose.NewGoMigration(1, &goose.GoFunc{RunTx: up}, &goose.GoFunc{RunTx: down})
}
