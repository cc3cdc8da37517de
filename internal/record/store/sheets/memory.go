package sheets

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// MemoryClient is an in-process Client. Reads and writes copy cells, and
// BeforeRead lets tests change the sheet between two reads.
type MemoryClient struct {
	mu     sync.Mutex
	sheets map[string][][]string

	BeforeRead func(rng string)
	Reads      int
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{sheets: make(map[string][][]string)}
}

func (m *MemoryClient) Read(_ context.Context, rng string) ([][]string, error) {
	if hook := m.hook(); hook != nil {
		hook(rng)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads++

	sheet, sub := splitRange(rng)
	rows, ok := m.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("read %s: no such worksheet", rng)
	}
	switch {
	case sub == "":
		return copyRows(rows), nil
	case sub == "1:1":
		if len(rows) == 0 {
			return nil, nil
		}
		return copyRows(rows[:1]), nil
	}
	return nil, fmt.Errorf("read %s: unsupported range", rng)
}

func (m *MemoryClient) Update(_ context.Context, rng string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sheet, sub := splitRange(rng)
	data, ok := m.sheets[sheet]
	if !ok {
		return fmt.Errorf("update %s: no such worksheet", rng)
	}
	start, err := rowOf(sub)
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	for i, row := range rows {
		idx := start - 1 + i
		for len(data) <= idx {
			data = append(data, nil)
		}
		data[idx] = slices.Clone(row)
	}
	m.sheets[sheet] = data
	return nil
}

func (m *MemoryClient) Append(_ context.Context, sheet string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sheets[sheet]
	if !ok {
		return fmt.Errorf("append to %s: no such worksheet", sheet)
	}
	m.sheets[sheet] = append(data, copyRows(rows)...)
	return nil
}

func (m *MemoryClient) EnsureSheet(_ context.Context, sheet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[sheet]; !ok {
		m.sheets[sheet] = [][]string{}
	}
	return nil
}

// Rows returns a copy of a worksheet, headers included.
func (m *MemoryClient) Rows(sheet string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRows(m.sheets[sheet])
}

// SetRows replaces a worksheet.
func (m *MemoryClient) SetRows(sheet string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheets[sheet] = copyRows(rows)
}

func (m *MemoryClient) hook() func(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.BeforeRead
}

func splitRange(rng string) (string, string) {
	sheet, sub, _ := strings.Cut(rng, "!")
	return sheet, sub
}

// rowOf parses "A<n>".
func rowOf(cell string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(cell, "A"))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("unsupported cell %q", cell)
	}
	return n, nil
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = slices.Clone(r)
	}
	return out
}
