// Package store persists intents, clarifications and the append-only journal
// behind database/sql. The SQL sticks to the dialect intersection of Postgres
// and SQLite: $N placeholders, no RETURNING, identifiers and timestamps
// generated in Go.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Supported dialects.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a sql.DB with the service's persistence operations.
type Store struct {
	db      *sql.DB
	dialect string
}

// New builds a Store for the given dialect.
func New(db *sql.DB, dialect string) (*Store, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("store: unsupported dialect %q", dialect)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// DB exposes the underlying handle for lifecycle management.
func (s *Store) DB() *sql.DB { return s.db }

// Check verifies connectivity.
func (s *Store) Check(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// timeLayout is fixed-width so UTC timestamps stored as text compare and sort
// correctly in SQLite; Postgres parses it as a plain timestamptz literal.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// scanTime accepts whatever the driver hands back for a timestamp column:
// time.Time from lib/pq, text from SQLite.
type scanTime struct {
	t     time.Time
	valid bool
}

func (st *scanTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		st.valid = false
		return nil
	case time.Time:
		st.t, st.valid = x.UTC(), true
		return nil
	case string:
		return st.parse(x)
	case []byte:
		return st.parse(string(x))
	}
	return fmt.Errorf("store: cannot scan %T into time", v)
}

func (st *scanTime) parse(s string) error {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			st.t, st.valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("store: cannot parse timestamp %q", s)
}

func (st *scanTime) ptr() *time.Time {
	if !st.valid {
		return nil
	}
	t := st.t
	return &t
}

// nullString maps "" to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime maps nil to SQL NULL, otherwise the canonical text form.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// nullBytes maps empty JSON to SQL NULL.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func scanNullString(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}

func scanNullJSON(v sql.NullString) json.RawMessage {
	if v.Valid && v.String != "" {
		return json.RawMessage(v.String)
	}
	return nil
}
