package sheet

import (
	"context"
	"fmt"
	"sync"
)

type Memory struct {
	mu   sync.RWMutex
	rows [][]string
}

func NewMemory(rows ...[]string) *Memory {
	m := &Memory{}
	for _, r := range rows {
		m.rows = append(m.rows, cloneRow(r))
	}
	return m
}

func (m *Memory) ReadAll(_ context.Context) ([][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([][]string, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, cloneRow(r))
	}
	return out, nil
}

func (m *Memory) UpdateRow(_ context.Context, position int, row []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if position < 0 || position >= len(m.rows) {
		return fmt.Errorf("%w: position %d", ErrNoRow, position)
	}
	m.rows[position] = cloneRow(row)
	return nil
}

func (m *Memory) AppendRows(_ context.Context, rows ...[]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rows {
		m.rows = append(m.rows, cloneRow(r))
	}
	return nil
}
