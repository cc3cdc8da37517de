package sheets

import (
	"context"
	"fmt"
	"slices"
)

// Layout is the spreadsheet schema.Layout: header row 1 of the records
// worksheet. New headers go at the end so existing columns never move.
type Layout struct {
	store *Store
}

func (s *Store) Layout() *Layout {
	return &Layout{store: s}
}

func (l *Layout) Fields(ctx context.Context) ([]string, error) {
	headers, err := l.store.headers(ctx, RecordsSheet)
	if err != nil {
		return nil, fmt.Errorf("read record headers: %w", err)
	}
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if h != "" {
			out = append(out, nameOf(h))
		}
	}
	return out, nil
}

func (l *Layout) AddFields(ctx context.Context, names []string) ([]string, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	headers, err := s.headers(ctx, RecordsSheet)
	if err != nil {
		return nil, fmt.Errorf("read record headers: %w", err)
	}
	grown := slices.Clone(headers)
	for _, n := range names {
		if h := columnOf(n); !slices.Contains(grown, h) {
			grown = append(grown, h)
		}
	}
	if len(grown) > len(headers) {
		if err := s.client.Update(ctx, RecordsSheet+"!A1", [][]string{grown}); err != nil {
			return nil, fmt.Errorf("append record headers: %w", err)
		}
	}
	return l.Fields(ctx)
}
