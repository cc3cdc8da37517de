// Package sqlstore persists records in PostgreSQL or SQLite. Every canonical
// field has its own column; extension fields travel in the extra_data JSON
// column and are registered in kyc_record_fields.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kycvault/internal/platform/database"
	"kycvault/internal/record/models"
	"kycvault/pkg/platform/sentinel"
	txcontext "kycvault/pkg/platform/tx"
)

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// Store implements the record store on a relational database.
type Store struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time

	columns    []string
	selectCols string
}

// New creates a store on db. Call Migrate before first use.
func New(db *database.DB) *Store {
	cols := models.CanonicalNames()
	return &Store{
		db:         db.DB,
		dialect:    db.Dialect,
		now:        time.Now,
		columns:    cols,
		selectCols: strings.Join(cols, ", "),
	}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

// Migrate creates the record tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	script := sqliteSchema
	if s.dialect == database.Postgres {
		script = postgresSchema
	}
	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate records: %w", err)
		}
	}
	return nil
}

func (s *Store) Find(ctx context.Context, field models.DocumentField, value string) (*models.Entity, bool, error) {
	value = models.NormalizeDocument(value)
	if value == "" || !field.IsValid() {
		return nil, false, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM kyc_records WHERE %s = ? ORDER BY created_at, id LIMIT 1`, s.selectCols, field)
	return s.one(ctx, query, value)
}

func (s *Store) Get(ctx context.Context, id string) (*models.Entity, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM kyc_records WHERE id = ?`, s.selectCols)
	return s.one(ctx, query, id)
}

func (s *Store) one(ctx context.Context, query string, args ...any) (*models.Entity, bool, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, false, fmt.Errorf("find record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("find record: %w", err)
		}
		return nil, false, nil
	}
	e, err := s.scan(rows)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Write stores the full entity row. New rows are inserted; existing rows are
// replaced by id. A unique violation surfaces as sentinel.ErrConflict.
func (s *Store) Write(ctx context.Context, e *models.Entity, isNew bool) (string, error) {
	if e == nil || e.ID == "" {
		return "", fmt.Errorf("write record: missing id")
	}
	values, err := s.values(e)
	if err != nil {
		return "", err
	}

	err = txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		if isNew {
			return s.insert(ctx, values)
		}
		return s.update(ctx, e.ID, values)
	})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (s *Store) insert(ctx context.Context, values []any) error {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(s.columns)), ", ")
	query := fmt.Sprintf(`INSERT INTO kyc_records (%s) VALUES (%s)`, s.selectCols, marks)
	if _, err := s.execer(ctx).ExecContext(ctx, s.q(query), values...); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("insert record: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, id string, values []any) error {
	// id is column 0 and stays fixed.
	sets := make([]string, 0, len(s.columns)-1)
	for _, c := range s.columns[1:] {
		sets = append(sets, c+" = ?")
	}
	query := fmt.Sprintf(`UPDATE kyc_records SET %s WHERE id = ?`, strings.Join(sets, ", "))
	args := append(values[1:len(values):len(values)], id)

	res, err := s.execer(ctx).ExecContext(ctx, s.q(query), args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("update record %s: %w", id, sentinel.ErrConflict)
		}
		return fmt.Errorf("update record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update record %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Entity, error) {
	filter = filter.Normalized()
	where, args, ok := s.where(filter)
	if !ok {
		return []*models.Entity{}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT %s FROM kyc_records%s ORDER BY created_at DESC, id`, s.selectCols, where)
	switch {
	case page.Limit > 0:
		b.WriteString(` LIMIT ?`)
		args = append(args, page.Limit)
	case page.Offset > 0 && s.dialect == database.SQLite:
		b.WriteString(` LIMIT -1`)
	}
	if page.Offset > 0 {
		b.WriteString(` OFFSET ?`)
		args = append(args, page.Offset)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, s.q(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := []*models.Entity{}
	for rows.Next() {
		e, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// where renders filter as a WHERE clause. ok is false when the filter can
// match nothing.
func (s *Store) where(filter models.Filter) (string, []any, bool) {
	switch filter.Field {
	case "":
		return "", nil, true
	case models.SearchName:
		if filter.Query == "" {
			return "", nil, false
		}
		like := likePattern(filter.Query)
		return ` WHERE LOWER(full_name) LIKE ? ESCAPE '\' OR LOWER(first_name) LIKE ? ESCAPE '\' OR LOWER(last_name) LIKE ? ESCAPE '\'`,
			[]any{like, like, like}, true
	case models.SearchEmail:
		if filter.Query == "" {
			return "", nil, false
		}
		return ` WHERE LOWER(email) LIKE ? ESCAPE '\'`, []any{likePattern(filter.Query)}, true
	case models.SearchPhone:
		if filter.Query == "" {
			return "", nil, false
		}
		return ` WHERE phone_number = ?`, []any{filter.Query}, true
	}
	if d, ok := filter.Field.Document(); ok && filter.Query != "" {
		return fmt.Sprintf(` WHERE %s = ?`, d), []any{filter.Query}, true
	}
	return "", nil, false
}

func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	ex := s.execer(ctx)

	if err := ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM kyc_records`).Scan(&stats.Total); err != nil {
		return models.Stats{}, fmt.Errorf("count records: %w", err)
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	if err := ex.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM kyc_records WHERE created_at >= ?`), today).Scan(&stats.CreatedToday); err != nil {
		return models.Stats{}, fmt.Errorf("count records today: %w", err)
	}

	var latest sql.NullTime
	err := ex.QueryRowContext(ctx, `SELECT created_at FROM kyc_records ORDER BY created_at DESC LIMIT 1`).Scan(&latest)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return models.Stats{}, fmt.Errorf("latest record: %w", err)
	case latest.Valid:
		t := latest.Time.UTC()
		stats.MostRecent = &t
	}
	return stats, nil
}

// values encodes e in column order.
func (s *Store) values(e *models.Entity) ([]any, error) {
	out := make([]any, 0, len(s.columns))
	for _, name := range s.columns {
		f, _ := models.FieldByName(name)
		v, err := encode(f, f.Get(e))
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func encode(f models.Field, text string) (any, error) {
	if text == "" {
		if f.Kind == models.KindCount {
			return 0, nil
		}
		return nil, nil
	}
	switch f.Kind {
	case models.KindBool:
		return strconv.ParseBool(text)
	case models.KindNumber:
		return strconv.ParseFloat(text, 64)
	case models.KindCount:
		return strconv.Atoi(text)
	case models.KindTime:
		return models.ParseTime(text)
	default:
		return text, nil
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row scanner) (*models.Entity, error) {
	fields := make([]models.Field, len(s.columns))
	dest := make([]any, len(s.columns))
	for i, name := range s.columns {
		f, _ := models.FieldByName(name)
		fields[i] = f
		switch f.Kind {
		case models.KindBool:
			dest[i] = new(sql.NullBool)
		case models.KindNumber:
			dest[i] = new(sql.NullFloat64)
		case models.KindCount:
			dest[i] = new(sql.NullInt64)
		case models.KindTime:
			dest[i] = new(sql.NullTime)
		default:
			dest[i] = new(sql.NullString)
		}
	}
	if err := row.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	e := &models.Entity{}
	for i, f := range fields {
		if err := f.Set(e, decode(dest[i])); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
	}
	return e, nil
}

func decode(v any) string {
	switch t := v.(type) {
	case *sql.NullBool:
		if t.Valid {
			return strconv.FormatBool(t.Bool)
		}
	case *sql.NullFloat64:
		if t.Valid {
			return strconv.FormatFloat(t.Float64, 'f', -1, 64)
		}
	case *sql.NullInt64:
		if t.Valid {
			return strconv.FormatInt(t.Int64, 10)
		}
	case *sql.NullTime:
		if t.Valid {
			return t.Time.UTC().Format(models.TimeLayout)
		}
	case *sql.NullString:
		if t.Valid {
			return t.String
		}
	}
	return ""
}
