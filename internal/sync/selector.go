package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/vrcshowcase/dualsync/internal/store"
)

// DefaultChangeColumns are the column names recognized as last-modified timestamps
var DefaultChangeColumns = []string{"updated_at", "modified_at"}

// Selector picks the rows of a table that changed since a watermark
type Selector struct {
	changeColumns []string
	lookback      time.Duration
}

// NewSelector creates a selector. Rows are selected when their change column
// is later than the watermark minus lookback; a lookback of one second covers
// rows stamped within the second a pass started.
func NewSelector(changeColumns []string, lookback time.Duration) *Selector {
	if len(changeColumns) == 0 {
		changeColumns = DefaultChangeColumns
	}
	return &Selector{changeColumns: changeColumns, lookback: lookback}
}

// ChangeColumn returns the first change column declared by the table, or an
// empty string when the table has none
func (s *Selector) ChangeColumn(schema *store.TableSchema) string {
	names := schema.ColumnNames()
	for _, candidate := range s.changeColumns {
		if name, ok := lo.Find(names, func(n string) bool { return strings.EqualFold(n, candidate) }); ok {
			return name
		}
	}
	return ""
}

// SelectChanged returns the rows of src changed after since, or every row when
// the table has no change column. Rows sharing a primary key are reported once,
// first occurrence wins.
func (s *Selector) SelectChanged(ctx context.Context, src store.Store, schema *store.TableSchema, since time.Time) ([]store.Row, error) {
	d := src.Dialect()
	changeColumn := s.ChangeColumn(schema)
	query := store.BuildSelect(d, schema, changeColumn)

	var args []any
	if changeColumn != "" {
		if !since.IsZero() {
			since = since.Add(-s.lookback)
		}
		args = append(args, d.Timestamp(since))
	}
	rows, err := src.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select changes of %s from %s: %w", schema.Table, d.Name(), err)
	}
	return lo.UniqBy(rows, func(r store.Row) string { return r.Key(schema.PrimaryKey) }), nil
}
