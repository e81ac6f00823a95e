package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Dialect captures the SQL differences between the two stores so the engine
// can stay dialect-agnostic.
type Dialect interface {
	// Name identifies the dialect in logs
	Name() string
	// Placeholder returns the bind marker of the n-th (1-based) argument
	Placeholder(n int) string
	// NativeUpsert reports whether UpsertStatement can replace the
	// exists-then-write sequence with a single atomic statement
	NativeUpsert() bool
	// UpsertStatement returns an atomic insert-or-update taking every column
	// in schema order and returning one boolean column, true when inserted.
	UpsertStatement(schema *TableSchema) string
	// ExistsStatement returns a query taking the key columns in key order. It
	// returns a row when the key is present, possibly carrying the stored columns.
	ExistsStatement(schema *TableSchema) string
	// InsertStatement takes every column in schema order
	InsertStatement(schema *TableSchema) string
	// UpdateStatement takes the non-key columns followed by the key columns
	UpdateStatement(schema *TableSchema) string
	// Timestamp renders a watermark the way the store compares it
	Timestamp(t time.Time) any
	// Coerce converts a value read from the other store into one this store
	// accepts for a column of the given declared type
	Coerce(columnType string, value any) (any, error)
}

// QuoteIdent quotes an identifier with double quotes, valid in both SQLite and PostgreSQL.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// placeholders renders count bind markers starting at position from
func placeholders(d Dialect, from, count int) []string {
	return lo.Times(count, func(i int) string { return d.Placeholder(from + i) })
}

func quoted(names []string) []string {
	return lo.Map(names, func(n string, _ int) string { return QuoteIdent(n) })
}

// WhereKey renders the conjunction over the key columns with bind markers
// starting at position from.
func WhereKey(d Dialect, keys []string, from int) string {
	conds := lo.Map(keys, func(k string, i int) string {
		return fmt.Sprintf("%s = %s", QuoteIdent(k), d.Placeholder(from+i))
	})
	return strings.Join(conds, " AND ")
}

// BuildExists renders an existence query keyed by the primary key.
func BuildExists(d Dialect, s *TableSchema) string {
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1",
		QuoteIdent(s.Table), WhereKey(d, s.PrimaryKey, 1))
}

// BuildLookup renders a select of every column of the row with the given key.
func BuildLookup(d Dialect, s *TableSchema) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1",
		strings.Join(quoted(s.ColumnNames()), ", "), QuoteIdent(s.Table), WhereKey(d, s.PrimaryKey, 1))
}

// BuildInsert renders an insert of every column in schema order.
func BuildInsert(d Dialect, s *TableSchema) string {
	cols := s.ColumnNames()
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdent(s.Table),
		strings.Join(quoted(cols), ", "),
		strings.Join(placeholders(d, 1, len(cols)), ", "))
}

// BuildUpdate renders an update of the non-key columns filtered by the key.
// It returns an empty string when every column is part of the key.
func BuildUpdate(d Dialect, s *TableSchema) string {
	nonKey := s.NonKeyColumns()
	if len(nonKey) == 0 {
		return ""
	}
	sets := lo.Map(nonKey, func(c string, i int) string {
		return fmt.Sprintf("%s = %s", QuoteIdent(c), d.Placeholder(i+1))
	})
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		QuoteIdent(s.Table),
		strings.Join(sets, ", "),
		WhereKey(d, s.PrimaryKey, len(nonKey)+1))
}

// BuildOnConflictUpsert renders INSERT ... ON CONFLICT (key) DO UPDATE with a
// RETURNING clause telling inserts apart from updates (PostgreSQL xmax trick).
func BuildOnConflictUpsert(d Dialect, s *TableSchema) string {
	insert := BuildInsert(d, s)
	conflict := strings.Join(quoted(s.PrimaryKey), ", ")
	nonKey := s.NonKeyColumns()
	if len(nonKey) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING RETURNING (xmax = 0) AS inserted", insert, conflict)
	}
	sets := lo.Map(nonKey, func(c string, _ int) string {
		return fmt.Sprintf("%s = EXCLUDED.%s", QuoteIdent(c), QuoteIdent(c))
	})
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0) AS inserted",
		insert, conflict, strings.Join(sets, ", "))
}

// BuildSelect renders a full-table select of the schema's columns, optionally
// filtered by column > bind marker 1.
func BuildSelect(d Dialect, s *TableSchema, changeColumn string) string {
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted(s.ColumnNames()), ", "), QuoteIdent(s.Table))
	if changeColumn != "" {
		q += fmt.Sprintf(" WHERE %s > %s", QuoteIdent(changeColumn), d.Placeholder(1))
	}
	return q
}
