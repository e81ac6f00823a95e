package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/vrcshowcase/dualsync/internal/store"
)

// Applied tells how an upsert landed
type Applied int

const (
	AppliedAsInsert Applied = iota + 1
	AppliedAsUpdate
)

func (a Applied) String() string {
	if a == AppliedAsInsert {
		return "insert"
	}
	return "update"
}

// Upserter writes rows keyed by primary key, inserting or updating as needed
type Upserter struct{}

// NewUpserter creates an upserter
func NewUpserter() *Upserter {
	return &Upserter{}
}

// Upsert writes row to dst so that afterwards exactly one row with the row's
// key exists there, with the row's values. Failures confined to the row are
// returned as *RowError.
func (u *Upserter) Upsert(ctx context.Context, dst store.Store, schema *store.TableSchema, row store.Row) (Applied, error) {
	key := row.Key(schema.PrimaryKey)
	values, err := coerceRow(dst.Dialect(), schema, row)
	if err != nil {
		return 0, &RowError{Table: schema.Table, Key: key, Err: err}
	}

	var applied Applied
	if dst.Dialect().NativeUpsert() {
		applied, err = u.native(ctx, dst, schema, values)
	} else {
		applied, err = u.readThenWrite(ctx, dst, schema, row, values)
	}
	if err != nil {
		if dst.RowLevel(err) {
			return 0, &RowError{Table: schema.Table, Key: key, Err: err}
		}
		return 0, fmt.Errorf("failed to upsert %s into %s: %w", key, schema.Table, err)
	}
	return applied, nil
}

func (u *Upserter) native(ctx context.Context, dst store.Store, schema *store.TableSchema, values map[string]any) (Applied, error) {
	cols := schema.ColumnNames()
	rows, err := dst.Query(ctx, dst.Dialect().UpsertStatement(schema), pick(values, cols)...)
	if err != nil {
		return 0, err
	}
	// DO NOTHING on conflict returns no row
	if len(rows) == 0 || len(rows[0].Values) == 0 {
		return AppliedAsUpdate, nil
	}
	if cast.ToBool(rows[0].Values[0]) {
		return AppliedAsInsert, nil
	}
	return AppliedAsUpdate, nil
}

func (u *Upserter) readThenWrite(ctx context.Context, dst store.Store, schema *store.TableSchema, row store.Row, values map[string]any) (Applied, error) {
	d := dst.Dialect()
	keyArgs := pick(values, schema.PrimaryKey)
	found, err := dst.Query(ctx, d.ExistsStatement(schema), keyArgs...)
	if err != nil {
		return 0, err
	}
	if len(found) == 0 {
		if _, err := dst.Exec(ctx, d.InsertStatement(schema), pick(values, schema.ColumnNames())...); err != nil {
			return 0, err
		}
		return AppliedAsInsert, nil
	}
	update := d.UpdateStatement(schema)
	if update == "" {
		return AppliedAsUpdate, nil
	}
	keepStoredTimes(schema, row, found[0], values)
	args := append(pick(values, schema.NonKeyColumns()), keyArgs...)
	if _, err := dst.Exec(ctx, update, args...); err != nil {
		return 0, err
	}
	return AppliedAsUpdate, nil
}

// coerceRow converts every schema column of row into the destination's representation
func coerceRow(d store.Dialect, schema *store.TableSchema, row store.Row) (map[string]any, error) {
	values := make(map[string]any, len(schema.Columns))
	for _, col := range schema.Columns {
		v, ok := row.Get(col.Name)
		if !ok {
			return nil, fmt.Errorf("column %s missing from row", col.Name)
		}
		coerced, err := d.Coerce(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		values[col.Name] = coerced
	}
	return values, nil
}

// keepStoredTimes leaves stored text in place where the incoming value is a
// time naming the same instant, so an update never rewrites a date or ISO
// timestamp into another layout.
func keepStoredTimes(schema *store.TableSchema, row, stored store.Row, values map[string]any) {
	for _, col := range schema.NonKeyColumns() {
		incoming, _ := row.Get(col)
		t, ok := incoming.(time.Time)
		if !ok {
			continue
		}
		current, _ := stored.Get(col)
		if text, ok := current.(string); ok && sameInstant(t, text) {
			values[col] = text
		}
	}
}

// sameInstant reports whether text parses to the instant t
func sameInstant(t time.Time, text string) bool {
	if text == "" {
		return false
	}
	parsed, err := cast.ToTimeE(text)
	return err == nil && parsed.Equal(t)
}

func pick(values map[string]any, cols []string) []any {
	return lo.Map(cols, func(c string, _ int) any { return values[c] })
}
