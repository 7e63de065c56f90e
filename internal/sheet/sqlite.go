package sheet

import (
	"context"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// OpenSQLite opens (creating if needed) a local database file and migrates it.
func OpenSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: can't open sqlite %s", err, path)
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
