package db

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/vrcshowcase/dualsync/internal/store"
)

// Dialect renders PostgreSQL statements with $n markers and native ON CONFLICT upserts
type Dialect struct{}

var _ store.Dialect = Dialect{}

func (Dialect) Name() string { return "postgresql" }

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) NativeUpsert() bool { return true }

func (d Dialect) UpsertStatement(s *store.TableSchema) string { return store.BuildOnConflictUpsert(d, s) }

func (d Dialect) ExistsStatement(s *store.TableSchema) string { return store.BuildExists(d, s) }

func (d Dialect) InsertStatement(s *store.TableSchema) string { return store.BuildInsert(d, s) }

func (d Dialect) UpdateStatement(s *store.TableSchema) string { return store.BuildUpdate(d, s) }

// Timestamp passes the watermark as a UTC time.Time
func (Dialect) Timestamp(t time.Time) any {
	return t.UTC()
}

// Coerce converts SQLite values using the column's declared SQLite type.
// Text timestamps are passed through; the session runs in UTC so PostgreSQL
// parses them as naive UTC.
func (Dialect) Coerce(columnType string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if t, ok := value.(time.Time); ok {
		return t.UTC(), nil
	}
	decl := strings.ToUpper(columnType)
	switch {
	case strings.Contains(decl, "BOOL"):
		return cast.ToBoolE(value)
	case strings.Contains(decl, "INT"):
		return cast.ToInt64E(value)
	case strings.Contains(decl, "CHAR"), strings.Contains(decl, "CLOB"), strings.Contains(decl, "TEXT"):
		if b, ok := value.([]byte); ok {
			return string(b), nil
		}
		return cast.ToStringE(value)
	case strings.Contains(decl, "REAL"), strings.Contains(decl, "FLOA"), strings.Contains(decl, "DOUB"):
		return cast.ToFloat64E(value)
	}
	return value, nil
}
