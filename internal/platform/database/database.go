// Package database opens the relational backends and hides the few places
// where PostgreSQL and SQLite disagree.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// Dialect is the SQL flavour a DB speaks.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const (
	pingAttempts = 5
	pingBackoff  = 2 * time.Second
)

// DB is a connection pool together with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to url using the driver for dialect and waits for the
// database to answer a ping.
func Open(ctx context.Context, dialect Dialect, url string, maxOpenConns int, logger *slog.Logger) (*DB, error) {
	var driver string
	switch dialect {
	case Postgres:
		driver = "pgx"
	case SQLite:
		driver = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == SQLite {
		// SQLite serializes writers; one connection also keeps :memory: databases intact.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	for attempt := 1; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		if attempt == pingAttempts || ctx.Err() != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping %s: %w", dialect, err)
		}
		if logger != nil {
			logger.WarnContext(ctx, "waiting for database", "attempt", attempt, "error", err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(pingBackoff):
		}
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

// Rebind rewrites ? placeholders to $n for PostgreSQL. Queries must not carry
// literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
