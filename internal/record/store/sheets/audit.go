package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"kycvault/internal/record/models"
	audit "kycvault/pkg/platform/audit"
)

// Audit_Log and Search_History are append-only; rows are never rewritten.

func (s *Store) AppendMutation(ctx context.Context, m audit.Mutation) error {
	row := []string{
		m.ID,
		m.EntityID,
		string(m.Action),
		compact(m.ChangedFields),
		compact(m.OldValues),
		compact(m.NewValues),
		m.Timestamp.UTC().Format(models.TimeLayout),
	}
	if err := s.client.Append(ctx, AuditSheet, [][]string{row}); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *Store) AppendSearch(ctx context.Context, e audit.Search) error {
	row := []string{
		e.ID,
		e.Field,
		e.Query,
		strconv.Itoa(e.ResultCount),
		e.Timestamp.UTC().Format(models.TimeLayout),
	}
	if err := s.client.Append(ctx, SearchSheet, [][]string{row}); err != nil {
		return fmt.Errorf("append search entry: %w", err)
	}
	return nil
}

func (s *Store) ListMutations(ctx context.Context, entityID string) ([]audit.Mutation, error) {
	rows, err := s.client.Read(ctx, AuditSheet)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	var out []audit.Mutation
	for i, row := range body(rows) {
		if cell(row, 1) != entityID {
			continue
		}
		m := audit.Mutation{ID: cell(row, 0), EntityID: entityID, Action: audit.Action(cell(row, 2))}
		if err := uncompact(cell(row, 3), &m.ChangedFields); err != nil {
			return nil, fmt.Errorf("audit row %d: %w", i+2, err)
		}
		if err := uncompact(cell(row, 4), &m.OldValues); err != nil {
			return nil, fmt.Errorf("audit row %d: %w", i+2, err)
		}
		if err := uncompact(cell(row, 5), &m.NewValues); err != nil {
			return nil, fmt.Errorf("audit row %d: %w", i+2, err)
		}
		if m.Timestamp, err = parseTime(cell(row, 6)); err != nil {
			return nil, fmt.Errorf("audit row %d: %w", i+2, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) ListSearches(ctx context.Context, limit int) ([]audit.Search, error) {
	rows, err := s.client.Read(ctx, SearchSheet)
	if err != nil {
		return nil, fmt.Errorf("read search history: %w", err)
	}
	data := body(rows)
	out := make([]audit.Search, 0, len(data))
	for i, row := range slices.Backward(data) {
		if limit > 0 && len(out) == limit {
			break
		}
		e := audit.Search{ID: cell(row, 0), Field: cell(row, 1), Query: cell(row, 2)}
		if c := cell(row, 3); c != "" {
			if e.ResultCount, err = strconv.Atoi(c); err != nil {
				return nil, fmt.Errorf("search row %d: %w", i+2, err)
			}
		}
		if e.Timestamp, err = parseTime(cell(row, 4)); err != nil {
			return nil, fmt.Errorf("search row %d: %w", i+2, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func body(rows [][]string) [][]string {
	if len(rows) <= 1 {
		return nil
	}
	return rows[1:]
}

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func uncompact(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return models.ParseTime(s)
}
