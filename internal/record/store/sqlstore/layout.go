package sqlstore

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"kycvault/internal/platform/database"
	txcontext "kycvault/pkg/platform/tx"
)

// Layout is the relational schema.Layout. Extension field names live in the
// append-only kyc_record_fields registry ordered by position.
type Layout struct {
	store *Store
}

// Layout returns the field registry backed by the same database.
func (s *Store) Layout() *Layout {
	return &Layout{store: s}
}

func (l *Layout) Fields(ctx context.Context) ([]string, error) {
	rows, err := l.store.execer(ctx).QueryContext(ctx, `SELECT name FROM kyc_record_fields ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("list record fields: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan record field: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list record fields: %w", err)
	}
	return names, nil
}

func (l *Layout) AddFields(ctx context.Context, names []string) ([]string, error) {
	s := l.store
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		var next int
		if err := s.execer(ctx).QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) FROM kyc_record_fields`).Scan(&next); err != nil {
			return fmt.Errorf("read field positions: %w", err)
		}
		now := s.now().UTC()

		if s.dialect == database.Postgres {
			_, err := s.execer(ctx).ExecContext(ctx, s.q(`
				INSERT INTO kyc_record_fields (name, position, added_at)
				SELECT t.name, ? + t.ord, ?
				FROM unnest(?::text[]) WITH ORDINALITY AS t(name, ord)
				ON CONFLICT (name) DO NOTHING`),
				next, now, pq.Array(names),
			)
			if err != nil {
				return fmt.Errorf("register record fields: %w", err)
			}
			return nil
		}

		for i, n := range names {
			_, err := s.execer(ctx).ExecContext(ctx,
				`INSERT INTO kyc_record_fields (name, position, added_at) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`,
				n, next+i+1, now,
			)
			if err != nil {
				return fmt.Errorf("register record field %s: %w", n, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l.Fields(ctx)
}
