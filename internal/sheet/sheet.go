// Package sheet stores tabular tabs: row 0 is the header, data rows follow in append order.
package sheet

import (
	"context"
	"errors"
)

var ErrNoRow = errors.New("row does not exist")

type Table interface {
	// ReadAll returns every row including the header, empty for a fresh tab.
	ReadAll(ctx context.Context) ([][]string, error)
	// UpdateRow replaces the row at the given 0-based position.
	UpdateRow(ctx context.Context, position int, row []string) error
	AppendRows(ctx context.Context, rows ...[]string) error
}

func cloneRow(row []string) []string {
	return append([]string(nil), row...)
}
