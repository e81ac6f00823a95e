// Package store defines the types shared by the embedded and networked store
// adapters and the synchronization engine.
package store

import (
	"context"
	"time"
)

// TimestampLayout is the UTC-naive layout both stores use for text timestamps.
// Fractional seconds are written only when non-zero, which keeps the text
// ordered the same way as the instants it encodes.
const TimestampLayout = "2006-01-02 15:04:05.999999"

// DateLayout is the text form of calendar dates
const DateLayout = "2006-01-02"

// Store is one side of the synchronization: a relational database reachable
// through a single SQL dialect.
type Store interface {
	// Dialect returns the SQL rendering rules of the store
	Dialect() Dialect
	// Query runs a statement and returns every resulting row
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	// Exec runs a statement and returns the number of affected rows
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	// Introspect reads the table's column list and primary key from the catalog.
	// It returns a nil schema and no error when the table does not exist.
	Introspect(ctx context.Context, table string) (*TableSchema, error)
	// RowLevel reports whether err is confined to the row being written
	// (constraint violation, type mismatch) rather than the connection.
	RowLevel(err error) bool
	// EnsureTracking creates the cursor table if it is missing
	EnsureTracking(ctx context.Context) error
}

// Now returns the current time truncated to the microsecond precision both
// stores keep.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Session is a store handle that must be closed after use
type Session interface {
	Store
	Close(ctx context.Context) error
}
