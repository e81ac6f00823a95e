package embedded

import (
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/vrcshowcase/dualsync/internal/store"
)

// Dialect renders SQLite statements with positional ? markers. SQLite is
// driven through the exists-then-write path; the existence query returns the
// stored row so unchanged values can keep their stored text.
type Dialect struct{}

var _ store.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) NativeUpsert() bool { return false }

// UpsertStatement is not offered by this dialect
func (Dialect) UpsertStatement(*store.TableSchema) string { return "" }

func (d Dialect) ExistsStatement(s *store.TableSchema) string { return store.BuildLookup(d, s) }

func (d Dialect) InsertStatement(s *store.TableSchema) string { return store.BuildInsert(d, s) }

func (d Dialect) UpdateStatement(s *store.TableSchema) string { return store.BuildUpdate(d, s) }

// Timestamp renders t as a UTC-naive string so text comparison orders correctly
func (Dialect) Timestamp(t time.Time) any {
	return t.UTC().Format(store.TimestampLayout)
}

// Coerce maps a value onto the SQLite type affinity of the declared column type.
func (Dialect) Coerce(columnType string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	decl := strings.ToUpper(columnType)
	if t, ok := value.(time.Time); ok {
		if strings.Contains(decl, "DATE") && !strings.Contains(decl, "TIME") {
			return t.UTC().Format(store.DateLayout), nil
		}
		return t.UTC().Format(store.TimestampLayout), nil
	}
	switch {
	case strings.Contains(decl, "BOOL"):
		b, err := cast.ToBoolE(value)
		if err != nil {
			return nil, err
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
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
	if b, ok := value.(bool); ok {
		return cast.ToInt64(b), nil
	}
	return value, nil
}
