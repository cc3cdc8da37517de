// Package sqlstore keeps audit and search entries in kyc_audit_log and
// kyc_search_history on PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"kycvault/internal/platform/database"
	audit "kycvault/pkg/platform/audit"
	txcontext "kycvault/pkg/platform/tx"
)

const schema = `
CREATE TABLE IF NOT EXISTS kyc_audit_log (
    id             TEXT PRIMARY KEY,
    record_id      TEXT NOT NULL,
    action         TEXT NOT NULL,
    changed_fields TEXT NOT NULL,
    old_values     TEXT NOT NULL,
    new_values     TEXT NOT NULL,
    timestamp      %[1]s NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kyc_audit_log_record ON kyc_audit_log (record_id, timestamp);
CREATE TABLE IF NOT EXISTS kyc_search_history (
    id            TEXT PRIMARY KEY,
    search_type   TEXT NOT NULL,
    query         TEXT NOT NULL,
    results_count INTEGER NOT NULL,
    timestamp     %[1]s NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kyc_search_history_timestamp ON kyc_search_history (timestamp);
`

// Store implements audit.Store and audit.Reader.
type Store struct {
	db      *sql.DB
	dialect database.Dialect
}

func New(db *database.DB) *Store {
	return &Store{db: db.DB, dialect: db.Dialect}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Migrate creates both tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.dialect == database.Postgres {
		ts = "TIMESTAMPTZ"
	}
	for _, stmt := range strings.Split(fmt.Sprintf(schema, ts), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate audit log: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendMutation(ctx context.Context, m audit.Mutation) error {
	fields, err := json.Marshal(nonNil(m.ChangedFields))
	if err != nil {
		return fmt.Errorf("encode changed fields: %w", err)
	}
	oldValues, err := json.Marshal(nonNilMap(m.OldValues))
	if err != nil {
		return fmt.Errorf("encode old values: %w", err)
	}
	newValues, err := json.Marshal(nonNilMap(m.NewValues))
	if err != nil {
		return fmt.Errorf("encode new values: %w", err)
	}

	query := s.dialect.Rebind(`
		INSERT INTO kyc_audit_log (id, record_id, action, changed_fields, old_values, new_values, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	_, err = s.execer(ctx).ExecContext(ctx, query,
		m.ID, m.EntityID, string(m.Action), string(fields), string(oldValues), string(newValues), m.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) AppendSearch(ctx context.Context, e audit.Search) error {
	query := s.dialect.Rebind(`
		INSERT INTO kyc_search_history (id, search_type, query, results_count, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	_, err := s.execer(ctx).ExecContext(ctx, query, e.ID, e.Field, e.Query, e.ResultCount, e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert search entry: %w", err)
	}
	return nil
}

func (s *Store) ListMutations(ctx context.Context, entityID string) ([]audit.Mutation, error) {
	query := s.dialect.Rebind(`
		SELECT id, record_id, action, changed_fields, old_values, new_values, timestamp
		FROM kyc_audit_log
		WHERE record_id = ?
		ORDER BY timestamp, id`)
	rows, err := s.execer(ctx).QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Mutation
	for rows.Next() {
		var (
			m                          audit.Mutation
			action, fields, oldV, newV string
		)
		if err := rows.Scan(&m.ID, &m.EntityID, &action, &fields, &oldV, &newV, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		m.Action = audit.Action(action)
		if err := json.Unmarshal([]byte(fields), &m.ChangedFields); err != nil {
			return nil, fmt.Errorf("decode changed fields: %w", err)
		}
		if err := json.Unmarshal([]byte(oldV), &m.OldValues); err != nil {
			return nil, fmt.Errorf("decode old values: %w", err)
		}
		if err := json.Unmarshal([]byte(newV), &m.NewValues); err != nil {
			return nil, fmt.Errorf("decode new values: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

func (s *Store) ListSearches(ctx context.Context, limit int) ([]audit.Search, error) {
	query := `SELECT id, search_type, query, results_count, timestamp FROM kyc_search_history ORDER BY timestamp DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.execer(ctx).QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query search history: %w", err)
	}
	defer rows.Close()

	var out []audit.Search
	for rows.Next() {
		var e audit.Search
		if err := rows.Scan(&e.ID, &e.Field, &e.Query, &e.ResultCount, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan search entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search history: %w", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
