package screener

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STTM-NSU/crypto-buyer/internal/config"
	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/sheet"
)

func TestTableSource(t *testing.T) {
	testCases := []struct {
		name     string
		rows     [][]string
		limit    int
		expected []string
	}{
		{name: "empty", rows: nil},
		{name: "header only", rows: [][]string{{"Rank", "Product"}}},
		{
			name:     "product column",
			rows:     [][]string{{"Rank", " Product "}, {"1", " btc-usd"}, {"2", "ETH-USD"}, {"3", "BTC-USD"}, {"4", ""}, {"5"}},
			expected: []string{"BTC-USD", "ETH-USD"},
		},
		{
			name:     "first column fallback",
			rows:     [][]string{{"Symbol", "Score"}, {"sol-usd", "0.9"}, {"ada-usd", "0.8"}},
			expected: []string{"SOL-USD", "ADA-USD"},
		},
		{
			name:     "limit",
			rows:     [][]string{{"Product"}, {"A-USD"}, {"B-USD"}, {"C-USD"}},
			limit:    2,
			expected: []string{"A-USD", "B-USD"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewTableSource(sheet.NewMemory(tc.rows...), tc.limit, logger.NewNop())
			products, err := s.Products(context.Background())
			require.NoError(t, err)
			if len(tc.expected) == 0 {
				assert.Empty(t, products)
				return
			}
			assert.Equal(t, tc.expected, products)
		})
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/ranked" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"no such ranking"}`)
			return
		}
		_, _ = io.WriteString(w, `{"products":["btc-usd","eth-usd","BTC-USD"]}`)
	}))
	defer srv.Close()

	cfg := config.ScreenerConfig{Source: config.ScreenerHTTP, Address: srv.URL}
	require.NoError(t, cfg.Setup())

	s := NewHTTPSource(cfg, logger.NewNop())
	defer s.Close()

	products, err := s.Products(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, products)

	cfg.Path = "/missing"
	s2 := NewHTTPSource(cfg, logger.NewNop())
	defer s2.Close()
	_, err = s2.Products(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such ranking")
}
