package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/model"
	"github.com/STTM-NSU/crypto-buyer/internal/sheet"
	"github.com/STTM-NSU/crypto-buyer/internal/tools"
)

var _fixedNow = time.Date(2026, 3, 2, 10, 4, 5, 0, time.UTC)

func newBook(rows ...[]string) (*CostBook, *sheet.Memory) {
	table := sheet.NewMemory(rows...)
	b := NewCostBook(table, logger.NewNop())
	b.now = func() time.Time { return _fixedNow }
	return b, table
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestUpsertCreatesRowOnEmptyTab(t *testing.T) {
	ctx := context.Background()
	b, table := newBook()

	rec, err := b.Upsert(ctx, "o-1", "btc-usd", d("0.001"), d("50"))
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", rec.ProductID)
	assert.True(t, rec.AvgCost.Equal(d("50000")))

	rows, err := table.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, CostHeader, rows[0])
	assert.Equal(t, []string{"BTC-USD", "0.001000000000", "50.00", "50000.000000", "2026-03-02T10:04:05Z"}, rows[1])
}

func TestUpsertIsAdditiveAndKeepsAverage(t *testing.T) {
	ctx := context.Background()
	b, table := newBook(CostHeader, []string{"ETH-USD", "1", "2000", "2000", ""}, []string{"BTC-USD", "0.5", "30000", "60000", ""})

	rec, err := b.Upsert(ctx, "o-2", "BTC-USD", d("0.5"), d("20000"))
	require.NoError(t, err)

	assert.True(t, rec.Qty.Equal(d("1")))
	assert.True(t, rec.DollarCost.Equal(d("50000")))
	assert.True(t, rec.AvgCost.Equal(rec.DollarCost.Div(rec.Qty)))

	rows, err := table.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ETH-USD", rows[1][0])
	assert.Equal(t, []string{"BTC-USD", "1.000000000000", "50000.00", "50000.000000", "2026-03-02T10:04:05Z"}, rows[2])
}

func TestUpsertAverageMatchesCostOverQty(t *testing.T) {
	ctx := context.Background()
	b, _ := newBook(CostHeader)

	fills := []struct{ qty, cost string }{
		{"0.013", "47.5"},
		{"0.0021", "9.03"},
		{"0.7", "1234.56"},
	}
	var rec model.CostBasisRecord
	var err error
	for i, f := range fills {
		prevQty, prevCost := rec.Qty, rec.DollarCost
		rec, err = b.Upsert(ctx, string(rune('a'+i)), "SOL-USD", d(f.qty), d(f.cost))
		require.NoError(t, err)

		assert.True(t, rec.Qty.GreaterThan(prevQty))
		assert.True(t, rec.DollarCost.GreaterThan(prevCost))
		assert.True(t, rec.AvgCost.Equal(rec.DollarCost.DivRound(rec.Qty, 6)))
	}
}

func TestUpsertRejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	b, table := newBook(CostHeader)

	_, err := b.Upsert(ctx, "o-1", "BTC-USD", decimal.Zero, d("10"))
	assert.ErrorIs(t, err, ErrNonPositive)
	_, err = b.Upsert(ctx, "o-2", "BTC-USD", d("0.1"), decimal.Zero)
	assert.ErrorIs(t, err, ErrNonPositive)

	rows, err := table.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUpsertAppliesOrderOnce(t *testing.T) {
	ctx := context.Background()
	b, table := newBook(CostHeader)

	_, err := b.Upsert(ctx, "o-1", "BTC-USD", d("0.1"), d("10"))
	require.NoError(t, err)
	_, err = b.Upsert(ctx, "o-1", "BTC-USD", d("0.1"), d("10"))
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	rows, err := table.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "0.100000000000", rows[1][1])
	assert.Equal(t, "10.00", rows[1][2])
	assert.Equal(t, tools.FormatTimestamp(_fixedNow), rows[1][4])
}

func TestUpsertRejectsSubCentCost(t *testing.T) {
	ctx := context.Background()
	b, table := newBook(CostHeader)

	_, err := b.Upsert(ctx, "o-1", "BTC-USD", d("0.00000001"), d("0.004"))
	assert.ErrorIs(t, err, ErrNonPositive)
	_, err = b.Upsert(ctx, "o-2", "BTC-USD", d("0.0000000000001"), d("5"))
	assert.ErrorIs(t, err, ErrNonPositive)

	rows, err := table.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rec, err := b.Upsert(ctx, "o-3", "BTC-USD", d("0.00000001"), d("0.005"))
	require.NoError(t, err)
	assert.True(t, rec.DollarCost.Equal(d("0.01")))
	assert.True(t, rec.AvgCost.Equal(d("1000000")))
}

func TestUpsertTreatsMalformedCellsAsZero(t *testing.T) {
	ctx := context.Background()
	b, _ := newBook(CostHeader, []string{"BTC-USD", "n/a"})

	rec, err := b.Upsert(ctx, "o-1", "BTC-USD", d("0.2"), d("20"))
	require.NoError(t, err)
	assert.True(t, rec.Qty.Equal(d("0.2")))
	assert.True(t, rec.AvgCost.Equal(d("100")))
}

func TestJournalAppend(t *testing.T) {
	ctx := context.Background()
	table := sheet.NewMemory()
	j := NewJournal(table, logger.NewNop())

	require.NoError(t, j.EnsureHeader(ctx))
	require.NoError(t, j.EnsureHeader(ctx))

	require.NoError(t, j.Append(ctx, model.LogEntry{
		Timestamp: _fixedNow,
		Action:    model.ActionBuy,
		ProductID: "BTC-USD",
		Quote:     d("50"),
		BaseQty:   d("0.001"),
		OrderID:   "o-1",
		Status:    string(model.Confirmed),
	}))
	require.NoError(t, j.Append(ctx, model.LogEntry{
		Timestamp: _fixedNow,
		Action:    model.ActionSkip,
		ProductID: "ETH-USD",
		Quote:     d("0.5"),
		Status:    string(model.Skipped),
		Note:      "notional $0.50 < $1.00",
	}))

	rows, err := table.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		LogHeader,
		{"2026-03-02T10:04:05Z", "CRYPTO-BUY", "BTC-USD", "50.00", "0.001000000000", "o-1", "confirmed", ""},
		{"2026-03-02T10:04:05Z", "CRYPTO-BUY-SKIP", "ETH-USD", "0.50", "", "", "skipped", "notional $0.50 < $1.00"},
	}, rows)
}
