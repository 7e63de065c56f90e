package sheet

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"

	"github.com/STTM-NSU/crypto-buyer/internal/logger"
)

const (
	_createSheetRows = `CREATE TABLE IF NOT EXISTS sheet_rows (
							tab      TEXT    NOT NULL,
							position INTEGER NOT NULL,
							cells    TEXT    NOT NULL,
							PRIMARY KEY (tab, position)
						)`
	_queryRows    = "SELECT position, cells FROM sheet_rows WHERE tab = ? ORDER BY position"
	_queryNextRow = "SELECT COALESCE(MAX(position) + 1, 0) FROM sheet_rows WHERE tab = ?"
	_insertRow    = "INSERT INTO sheet_rows (tab, position, cells) VALUES (?, ?, ?)"
	_updateRow    = "UPDATE sheet_rows SET cells = ? WHERE tab = ? AND position = ?"
)

type sheetRow struct {
	Position int    `db:"position"`
	Cells    string `db:"cells"`
}

// Migrate creates the rows table if it is missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, _createSheetRows); err != nil {
		return fmt.Errorf("%w: can't create sheet_rows", err)
	}
	return nil
}

// SQL is a Table kept in one shared table keyed by tab name.
type SQL struct {
	db  *sqlx.DB
	tab string

	logger logger.Logger
}

func NewSQL(db *sqlx.DB, tab string, logger logger.Logger) *SQL {
	return &SQL{
		db:     db,
		tab:    tab,
		logger: logger,
	}
}

func (s *SQL) ReadAll(ctx context.Context) ([][]string, error) {
	var rows []sheetRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(_queryRows), s.tab); err != nil {
		return nil, fmt.Errorf("%w: can't read tab %s", err, s.tab)
	}

	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		var cells []string
		if err := sonic.UnmarshalString(r.Cells, &cells); err != nil {
			s.logger.Warnf("%s: tab %s row %d is malformed, read as empty", err, s.tab, r.Position)
			cells = []string{}
		}
		// positions are dense, gaps would only come from manual edits
		for len(out) < r.Position {
			out = append(out, []string{})
		}
		out = append(out, cells)
	}
	return out, nil
}

func (s *SQL) UpdateRow(ctx context.Context, position int, row []string) error {
	cells, err := sonic.MarshalString(row)
	if err != nil {
		return fmt.Errorf("%w: can't encode row", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(_updateRow), cells, s.tab, position)
	if err != nil {
		return fmt.Errorf("%w: can't update tab %s row %d", err, s.tab, position)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: tab %s position %d", ErrNoRow, s.tab, position)
	}
	return nil
}

func (s *SQL) AppendRows(ctx context.Context, rows ...[]string) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: can't begin tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var next int
	if err := tx.GetContext(ctx, &next, tx.Rebind(_queryNextRow), s.tab); err != nil {
		return fmt.Errorf("%w: can't get next position of tab %s", err, s.tab)
	}

	for i, row := range rows {
		cells, err := sonic.MarshalString(row)
		if err != nil {
			return fmt.Errorf("%w: can't encode row", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(_insertRow), s.tab, next+i, cells); err != nil {
			return fmt.Errorf("%w: can't append to tab %s", err, s.tab)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: can't commit tab %s", err, s.tab)
	}
	return nil
}
