package screener

import (
	"context"
	"fmt"
	"strings"

	"github.com/STTM-NSU/crypto-buyer/internal/logger"
	"github.com/STTM-NSU/crypto-buyer/internal/sheet"
)

const _productColumn = "Product"

// Source yields the ranked product ids to buy, best first.
type Source interface {
	Products(ctx context.Context) ([]string, error)
}

type TableSource struct {
	table sheet.Table
	limit int

	logger logger.Logger
}

func NewTableSource(table sheet.Table, limit int, logger logger.Logger) *TableSource {
	return &TableSource{
		table:  table,
		limit:  limit,
		logger: logger,
	}
}

// Products reads the Product column (column 0 when there is no such header) below the header row.
func (s *TableSource) Products(ctx context.Context) ([]string, error) {
	rows, err := s.table.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't read screener", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	col := 0
	for i, h := range rows[0] {
		if strings.TrimSpace(h) == _productColumn {
			col = i
			break
		}
	}

	raw := make([]string, 0, len(rows)-1)
	for _, r := range rows[1:] {
		if col < len(r) {
			raw = append(raw, r[col])
		}
	}

	products := Normalize(raw, s.limit)
	s.logger.Debugf("screener: %d products from %d rows", len(products), len(rows)-1)
	return products, nil
}

// Normalize trims and upper-cases ids, drops empties and repeats, keeps order and cuts to limit (0 = all).
func Normalize(raw []string, limit int) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		id := strings.ToUpper(strings.TrimSpace(r))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
