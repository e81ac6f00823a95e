// Package embedded provides the file-backed SQLite side of the synchronization.
package embedded

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vrcshowcase/dualsync/internal/store"
)

// DefaultStatementTimeout bounds every statement issued against the store
const DefaultStatementTimeout = 30 * time.Second

// Store is a pooled SQLite handle implementing store.Store
type Store struct {
	db      *sql.DB
	path    string
	timeout time.Duration
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the SQLite database at path in WAL mode.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	logrus.WithField("path", path).Info("Opened embedded store")
	return &Store{db: db, path: path, timeout: DefaultStatementTimeout}, nil
}

// WithStatementTimeout changes the per-statement timeout; zero disables it
func (s *Store) WithStatementTimeout(d time.Duration) *Store {
	s.timeout = d
	return s
}

// DB returns the underlying pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the embedded SQL dialect
func (s *Store) Dialect() store.Dialect {
	return Dialect{}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Query runs query and collects every row with its column names
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]store.Row, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}
	var result []store.Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		result = append(result, store.NewRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return result, nil
}

// Exec runs a statement and returns the affected row count
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Introspect reads PRAGMA table_info. The primary key is ordered by its
// position in the declared key; a table without one falls back to its first column.
func (s *Store) Introspect(ctx context.Context, table string) (*store.TableSchema, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", store.QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("reading table info of %s: %w", table, err)
	}
	defer rows.Close()

	type keyPart struct {
		name string
		pos  int
	}
	schema := &store.TableSchema{Table: table}
	var keys []keyPart
	for rows.Next() {
		var (
			cid      int
			name     string
			declType string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scanning table info of %s: %w", table, err)
		}
		schema.Columns = append(schema.Columns, store.Column{Name: name, Type: declType})
		if pk > 0 {
			keys = append(keys, keyPart{name: name, pos: pk})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating table info of %s: %w", table, err)
	}
	if len(schema.Columns) == 0 {
		return nil, nil
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].pos < keys[j].pos })
	for _, k := range keys {
		schema.PrimaryKey = append(schema.PrimaryKey, k.name)
	}
	schema.EnsurePrimaryKey()
	return schema, nil
}

// RowLevel reports constraint, type mismatch, range and size errors
func (s *Store) RowLevel(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_RANGE, sqlite3.SQLITE_TOOBIG:
		return true
	}
	return false
}

// EnsureTracking creates db_sync_tracking if missing
func (s *Store) EnsureTracking(ctx context.Context) error {
	_, err := s.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS db_sync_tracking (
			table_name TEXT PRIMARY KEY,
			last_sqlite_sync TEXT,
			last_pg_sync TEXT
		)`)
	if err != nil {
		return fmt.Errorf("creating db_sync_tracking: %w", err)
	}
	return nil
}
