package sync

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/vrcshowcase/dualsync/internal/store"
)

// Introspector reads table shapes from the embedded catalog, which is the
// authority for column lists and primary keys.
type Introspector struct {
	embedded store.Store
}

// NewIntrospector creates an introspector over the embedded store
func NewIntrospector(embedded store.Store) *Introspector {
	return &Introspector{embedded: embedded}
}

// Schema returns the table's columns and primary key. A table that is missing
// or declares no columns yields a *SchemaError. Without a declared key the
// first column is used.
func (i *Introspector) Schema(ctx context.Context, table string) (*store.TableSchema, error) {
	schema, err := i.embedded.Introspect(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s: %w", table, err)
	}
	if schema == nil {
		return nil, &SchemaError{Table: table, Reason: "table does not exist in the embedded store"}
	}
	if len(schema.Columns) == 0 {
		return nil, &SchemaError{Table: table, Reason: "table declares no columns"}
	}
	schema.EnsurePrimaryKey()
	return schema, nil
}

// Columns returns the column names in declaration order
func (i *Introspector) Columns(ctx context.Context, table string) ([]string, error) {
	schema, err := i.Schema(ctx, table)
	if err != nil {
		return nil, err
	}
	return schema.ColumnNames(), nil
}

// PrimaryKey returns the ordered key columns
func (i *Introspector) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	schema, err := i.Schema(ctx, table)
	if err != nil {
		return nil, err
	}
	return schema.PrimaryKey, nil
}

// Verify compares the column set of the table on the other store with the
// embedded schema. Missing tables and divergent column sets yield a *SchemaError.
func (i *Introspector) Verify(ctx context.Context, schema *store.TableSchema, other store.Store) error {
	remote, err := other.Introspect(ctx, schema.Table)
	if err != nil {
		return fmt.Errorf("failed to introspect %s on %s: %w", schema.Table, other.Dialect().Name(), err)
	}
	if remote == nil {
		return &SchemaError{Table: schema.Table, Reason: fmt.Sprintf("table does not exist in the %s store", other.Dialect().Name())}
	}
	if !schema.SameShape(remote) {
		missing, extra := lo.Difference(schema.ColumnNames(), remote.ColumnNames())
		return &SchemaError{
			Table:  schema.Table,
			Reason: fmt.Sprintf("column sets differ (only embedded: %v, only %s: %v)", missing, other.Dialect().Name(), extra),
		}
	}
	return nil
}
