package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/STTM-NSU/crypto-buyer/internal/sheet"
	"github.com/STTM-NSU/crypto-buyer/internal/tools"
)

var (
	ErrNonPositive    = errors.New("fill quantity and cost must be positive")
	ErrAlreadyApplied = errors.New("order already applied to cost basis")
)

var CostHeader = []string{"Product", "Qty", "DollarCost", "AvgCostUSD", "UpdatedAt"}

const (
	_qtyPlaces  = 12
	_costPlaces = 2
	_avgPlaces  = 6
)

// CostBook keeps one weighted-average cost row per product.
type CostBook struct {
	table sheet.Table
	now   func() time.Time

	mu      sync.Mutex
	applied map[string]struct{}

	logger logger.Logger
}

func NewCostBook(table sheet.Table, logger logger.Logger) *CostBook {
	return &CostBook{
		table:   table,
		now:     time.Now,
		applied: make(map[string]struct{}),
		logger:  logger,
	}
}

func (b *CostBook) EnsureHeader(ctx context.Context) error {
	return ensureHeader(ctx, b.table, CostHeader)
}

// Upsert adds a confirmed fill aggregate to the product row, creating it when absent.
// An order id is applied at most once per CostBook.
func (b *CostBook) Upsert(ctx context.Context, orderID, productID string, addQty, addCost decimal.Decimal) (model.CostBasisRecord, error) {
	// checked at stored precision: a sub-cent cost would otherwise land as 0.00
	addQty, addCost = addQty.Round(_qtyPlaces), addCost.Round(_costPlaces)
	if !addQty.IsPositive() || !addCost.IsPositive() {
		return model.CostBasisRecord{}, fmt.Errorf("%w: qty %s cost %s", ErrNonPositive, addQty, addCost)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.applied[orderID]; ok && orderID != "" {
		return model.CostBasisRecord{}, fmt.Errorf("%w: %s", ErrAlreadyApplied, orderID)
	}

	rows, err := b.table.ReadAll(ctx)
	if err != nil {
		return model.CostBasisRecord{}, fmt.Errorf("%w: can't read cost tab", err)
	}
	if len(rows) == 0 {
		if err := b.table.AppendRows(ctx, CostHeader); err != nil {
			return model.CostBasisRecord{}, fmt.Errorf("%w: can't write cost header", err)
		}
		rows = [][]string{CostHeader}
	}

	productID = normalizeProduct(productID)
	rec := model.CostBasisRecord{
		ProductID: productID,
		UpdatedAt: b.now().UTC().Truncate(time.Second),
	}

	position := -1
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) == 0 || normalizeProduct(rows[i][0]) != productID {
			continue
		}
		position = i
		rec.Qty = b.cell(rows[i], 1, productID)
		rec.DollarCost = b.cell(rows[i], 2, productID)
		break
	}

	rec.Qty = rec.Qty.Add(addQty)
	rec.DollarCost = rec.DollarCost.Add(addCost)
	if rec.Qty.IsPositive() {
		rec.AvgCost = rec.DollarCost.DivRound(rec.Qty, _avgPlaces)
	}

	row := costRow(rec)
	if position > 0 {
		err = b.table.UpdateRow(ctx, position, row)
	} else {
		err = b.table.AppendRows(ctx, row)
	}
	if err != nil {
		return model.CostBasisRecord{}, fmt.Errorf("%w: can't write cost row for %s", err, productID)
	}

	if orderID != "" {
		b.applied[orderID] = struct{}{}
	}
	b.logger.Debugf("cost basis %s: qty %s cost %s avg %s", productID, rec.Qty, rec.DollarCost, rec.AvgCost)

	return rec, nil
}

func (b *CostBook) cell(row []string, i int, productID string) decimal.Decimal {
	if i >= len(row) || strings.TrimSpace(row[i]) == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(row[i]))
	if err != nil {
		b.logger.Warnf("%s: malformed %s cell for %s, read as zero", err, CostHeader[i], productID)
		return decimal.Zero
	}
	return d
}

func costRow(r model.CostBasisRecord) []string {
	return []string{
		r.ProductID,
		r.Qty.StringFixed(_qtyPlaces),
		r.DollarCost.StringFixed(_costPlaces),
		r.AvgCost.StringFixed(_avgPlaces),
		tools.FormatTimestamp(r.UpdatedAt),
	}
}

func normalizeProduct(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func ensureHeader(ctx context.Context, table sheet.Table, header []string) error {
	rows, err := table.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: can't read tab", err)
	}
	if len(rows) > 0 {
		return nil
	}
	if err := table.AppendRows(ctx, header); err != nil {
		return fmt.Errorf("%w: can't write header", err)
	}
	return nil
}
