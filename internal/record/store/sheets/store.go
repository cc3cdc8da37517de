package sheets

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"kycvault/internal/record/models"
	"kycvault/pkg/platform/sentinel"
)

// Worksheet names.
const (
	RecordsSheet = "KYC_Records"
	AuditSheet   = "Audit_Log"
	SearchSheet  = "Search_History"
)

// DefaultRetryDelay is how long Write waits before re-reading headers that
// do not cover the row.
const DefaultRetryDelay = 500 * time.Millisecond

var (
	auditHeaders  = []string{"ID", "Record_ID", "Action", "Changed_Fields", "Old_Values", "New_Values", "Timestamp"}
	searchHeaders = []string{"ID", "Search_Type", "Query", "Results_Count", "Timestamp"}
)

// Store keeps one record per row of the records worksheet. Lookups scan the
// whole sheet.
type Store struct {
	client     Client
	now        func() time.Time
	retryDelay time.Duration

	// mu serializes locate-then-write and header growth in this process.
	mu sync.Mutex
}

type Option func(*Store)

func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(client Client, opts ...Option) *Store {
	s := &Store{client: client, now: time.Now, retryDelay: DefaultRetryDelay}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the worksheets and writes the headers of empty ones.
func (s *Store) Init(ctx context.Context) error {
	for _, ws := range []struct {
		name    string
		headers []string
	}{
		{RecordsSheet, models.Columns()},
		{AuditSheet, auditHeaders},
		{SearchSheet, searchHeaders},
	} {
		if err := s.client.EnsureSheet(ctx, ws.name); err != nil {
			return err
		}
		headers, err := s.headers(ctx, ws.name)
		if err != nil {
			return err
		}
		if len(headers) == 0 {
			if err := s.client.Update(ctx, ws.name+"!A1", [][]string{ws.headers}); err != nil {
				return fmt.Errorf("write %s headers: %w", ws.name, err)
			}
		}
	}
	return nil
}

func (s *Store) headers(ctx context.Context, sheet string) ([]string, error) {
	rows, err := s.client.Read(ctx, sheet+"!1:1")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// table is one full read of the records worksheet.
type table struct {
	headers []string
	rows    [][]string
}

func (s *Store) load(ctx context.Context) (table, error) {
	rows, err := s.client.Read(ctx, RecordsSheet)
	if err != nil {
		return table{}, err
	}
	if len(rows) == 0 {
		return table{}, nil
	}
	return table{headers: rows[0], rows: rows[1:]}, nil
}

func (t table) column(header string) int {
	return slices.Index(t.headers, header)
}

// find returns the index in t.rows of the first row whose header column
// equals value.
func (t table) find(header, value string) int {
	col := t.column(header)
	if col < 0 || value == "" {
		return -1
	}
	for i, row := range t.rows {
		if cell(row, col) == value {
			return i
		}
	}
	return -1
}

func (s *Store) Find(ctx context.Context, field models.DocumentField, value string) (*models.Entity, bool, error) {
	value = models.NormalizeDocument(value)
	f, ok := models.FieldByName(string(field))
	if value == "" || !field.IsValid() || !ok {
		return nil, false, nil
	}
	t, err := s.load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("find record: %w", err)
	}
	i := t.find(f.Column, value)
	if i < 0 {
		return nil, false, nil
	}
	e, err := decodeRow(t.headers, t.rows[i])
	if err != nil {
		return nil, false, fmt.Errorf("find record: row %d: %w", i+2, err)
	}
	return e, true, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Entity, bool, error) {
	t, err := s.load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("get record: %w", err)
	}
	i := t.find("ID", id)
	if i < 0 {
		return nil, false, nil
	}
	e, err := decodeRow(t.headers, t.rows[i])
	if err != nil {
		return nil, false, fmt.Errorf("get record %s: %w", id, err)
	}
	return e, true, nil
}

// Write re-reads the sheet to locate the row by id, then updates it in place
// or appends a new row. A row that the headers cannot hold is retried once
// after the retry delay and then fails with sentinel.ErrAlignment.
func (s *Store) Write(ctx context.Context, e *models.Entity, isNew bool) (string, error) {
	if e == nil {
		return "", fmt.Errorf("write record: nil entity")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, row, err := s.aligned(ctx, e)
	if err != nil {
		return "", err
	}

	if pan := e.PANNumber; pan != "" {
		if i := t.find(columnOf(string(models.DocPAN)), pan); i >= 0 && cell(t.rows[i], t.column("ID")) != e.ID {
			return "", fmt.Errorf("write record %s: pan held by another record: %w", e.ID, sentinel.ErrConflict)
		}
	}

	i := t.find("ID", e.ID)
	switch {
	case isNew && i >= 0:
		return "", fmt.Errorf("write record %s: %w", e.ID, sentinel.ErrConflict)
	case !isNew && i < 0:
		return "", fmt.Errorf("write record %s: %w", e.ID, sentinel.ErrNotFound)
	case i >= 0:
		if err := s.client.Update(ctx, fmt.Sprintf("%s!A%d", RecordsSheet, i+2), [][]string{row}); err != nil {
			return "", fmt.Errorf("write record %s: %w", e.ID, err)
		}
	default:
		if err := s.client.Append(ctx, RecordsSheet, [][]string{row}); err != nil {
			return "", fmt.Errorf("write record %s: %w", e.ID, err)
		}
	}
	return e.ID, nil
}

func (s *Store) aligned(ctx context.Context, e *models.Entity) (table, []string, error) {
	t, err := s.load(ctx)
	if err != nil {
		return table{}, nil, fmt.Errorf("write record %s: %w", e.ID, err)
	}
	row, missing := encodeRow(t.headers, e)
	if len(missing) == 0 {
		return t, row, nil
	}

	timer := time.NewTimer(s.retryDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return table{}, nil, ctx.Err()
	case <-timer.C:
	}

	if t, err = s.load(ctx); err != nil {
		return table{}, nil, fmt.Errorf("write record %s: %w", e.ID, err)
	}
	if row, missing = encodeRow(t.headers, e); len(missing) > 0 {
		return table{}, nil, fmt.Errorf("write record %s: no header for %v: %w", e.ID, missing, sentinel.ErrAlignment)
	}
	return t, row, nil
}

func (s *Store) List(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Entity, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Entity, 0, len(all))
	for _, e := range all {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	models.SortNewestFirst(out)
	return page.Apply(out), nil
}

func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	all, err := s.all(ctx)
	if err != nil {
		return models.Stats{}, err
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	stats := models.Stats{Total: len(all)}
	for _, e := range all {
		if !e.CreatedAt.Before(today) {
			stats.CreatedToday++
		}
		if stats.MostRecent == nil || e.CreatedAt.After(*stats.MostRecent) {
			t := e.CreatedAt
			stats.MostRecent = &t
		}
	}
	return stats, nil
}

func (s *Store) all(ctx context.Context) ([]*models.Entity, error) {
	t, err := s.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	idCol := t.column("ID")
	out := make([]*models.Entity, 0, len(t.rows))
	for i, row := range t.rows {
		if cell(row, idCol) == "" {
			continue
		}
		e, err := decodeRow(t.headers, row)
		if err != nil {
			return nil, fmt.Errorf("list records: row %d: %w", i+2, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
