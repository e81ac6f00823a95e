package store

import (
	"fmt"
	"strings"
)

// Row is an ordered mapping of column name to scalar value.
type Row struct {
	Columns []string
	Values  []any
}

// NewRow builds a row from parallel column and value slices.
func NewRow(columns []string, values []any) Row {
	return Row{Columns: columns, Values: values}
}

// Get returns the value stored under column and whether the column exists.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Len returns the number of columns in the row.
func (r Row) Len() int {
	return len(r.Columns)
}

// Key renders the values of the given columns as a stable string, used to
// identify a row by its primary key in logs and de-duplication.
func (r Row) Key(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		v, _ := r.Get(c)
		parts[i] = fmt.Sprintf("%s=%v", c, v)
	}
	return strings.Join(parts, ",")
}
