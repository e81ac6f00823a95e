package store

import (
	"strings"

	"github.com/samber/lo"
)

// Column is one declared column of a table.
type Column struct {
	Name string
	// Type is the declared type as reported by the catalog, e.g. INTEGER, TEXT, BOOLEAN
	Type string
}

// TableSchema describes a table's ordered columns and its primary key.
type TableSchema struct {
	Table      string
	Columns    []Column
	PrimaryKey []string
}

// ColumnNames returns the column names in declaration order
func (s *TableSchema) ColumnNames() []string {
	return lo.Map(s.Columns, func(c Column, _ int) string { return c.Name })
}

// NonKeyColumns returns the columns not part of the primary key, in declaration order
func (s *TableSchema) NonKeyColumns() []string {
	return lo.Without(s.ColumnNames(), s.PrimaryKey...)
}

// HasColumn reports whether the table declares the given column
func (s *TableSchema) HasColumn(name string) bool {
	return lo.ContainsBy(s.Columns, func(c Column) bool { return strings.EqualFold(c.Name, name) })
}

// ColumnType returns the declared type of a column, or an empty string
func (s *TableSchema) ColumnType(name string) string {
	c, ok := lo.Find(s.Columns, func(c Column) bool { return c.Name == name })
	if !ok {
		return ""
	}
	return c.Type
}

// IsKey reports whether column is part of the primary key
func (s *TableSchema) IsKey(column string) bool {
	return lo.Contains(s.PrimaryKey, column)
}

// EnsurePrimaryKey falls back to the first declared column when the catalog
// reports no explicit key.
func (s *TableSchema) EnsurePrimaryKey() {
	if len(s.PrimaryKey) == 0 && len(s.Columns) > 0 {
		s.PrimaryKey = []string{s.Columns[0].Name}
	}
}

// SameShape reports whether other declares exactly the same set of column names.
func (s *TableSchema) SameShape(other *TableSchema) bool {
	left := lo.Map(s.ColumnNames(), func(n string, _ int) string { return strings.ToLower(n) })
	right := lo.Map(other.ColumnNames(), func(n string, _ int) string { return strings.ToLower(n) })
	missing, extra := lo.Difference(left, right)
	return len(missing) == 0 && len(extra) == 0
}
