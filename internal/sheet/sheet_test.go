package sheet

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STTM-NSU/crypto-buyer/internal/logger"
)

func tables(t *testing.T) map[string]Table {
	t.Helper()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sheet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Table{
		"memory": NewMemory(),
		"sqlite": NewSQL(db, "crypto_log", logger.NewNop()),
	}
}

func TestTableAppendReadUpdate(t *testing.T) {
	ctx := context.Background()

	for name, table := range tables(t) {
		t.Run(name, func(t *testing.T) {
			rows, err := table.ReadAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, rows)

			require.NoError(t, table.AppendRows(ctx, []string{"Product", "Qty"}))
			require.NoError(t, table.AppendRows(ctx, []string{"BTC-USD", "0.1"}, []string{"ETH-USD", "2"}))

			rows, err = table.ReadAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, [][]string{{"Product", "Qty"}, {"BTC-USD", "0.1"}, {"ETH-USD", "2"}}, rows)

			require.NoError(t, table.UpdateRow(ctx, 2, []string{"ETH-USD", "3"}))
			rows, err = table.ReadAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"ETH-USD", "3"}, rows[2])

			assert.ErrorIs(t, table.UpdateRow(ctx, 7, []string{"x"}), ErrNoRow)
		})
	}
}

func TestSQLTabsAreIsolated(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "tabs.db"))
	require.NoError(t, err)
	defer db.Close()

	logTab := NewSQL(db, "crypto_log", logger.NewNop())
	costTab := NewSQL(db, "crypto_cost", logger.NewNop())

	require.NoError(t, logTab.AppendRows(ctx, []string{"a"}, []string{"b"}))
	require.NoError(t, costTab.AppendRows(ctx, []string{"c"}))

	rows, err := costTab.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"c"}}, rows)

	rows, err = logTab.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMemoryReadAllReturnsCopies(t *testing.T) {
	m := NewMemory([]string{"Product"})
	rows, err := m.ReadAll(context.Background())
	require.NoError(t, err)

	rows[0][0] = "changed"
	again, err := m.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Product", again[0][0])
}
