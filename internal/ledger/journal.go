package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/STTM-NSU/crypto-buyer/internal/sheet"
	"github.com/STTM-NSU/crypto-buyer/internal/tools"
)

var LogHeader = []string{"Timestamp", "Action", "Product", "QuoteUSD", "BaseQty", "OrderID", "Status", "Note"}

// Journal is the append-only run log.
type Journal struct {
	table sheet.Table
	now   func() time.Time

	logger logger.Logger
}

func NewJournal(table sheet.Table, logger logger.Logger) *Journal {
	return &Journal{
		table:  table,
		now:    time.Now,
		logger: logger,
	}
}

func (j *Journal) EnsureHeader(ctx context.Context) error {
	return ensureHeader(ctx, j.table, LogHeader)
}

// Append writes one row and returns only after the store accepted it.
func (j *Journal) Append(ctx context.Context, e model.LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = j.now()
	}
	if err := j.table.AppendRows(ctx, logRow(e)); err != nil {
		return fmt.Errorf("%w: can't append %s row for %s", err, e.Action, e.ProductID)
	}
	j.logger.Debugf("log: %s %s %s %s", e.Action, e.ProductID, e.Status, e.Note)
	return nil
}

func logRow(e model.LogEntry) []string {
	row := []string{
		tools.FormatTimestamp(e.Timestamp),
		string(e.Action),
		e.ProductID,
		"",
		"",
		e.OrderID,
		e.Status,
		e.Note,
	}
	if !e.Quote.IsZero() {
		row[3] = e.Quote.StringFixed(_costPlaces)
	}
	if !e.BaseQty.IsZero() {
		row[4] = e.BaseQty.StringFixed(_qtyPlaces)
	}
	return row
}
