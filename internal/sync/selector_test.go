package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrcshowcase/dualsync/internal/store"
)

func TestChangeColumn(t *testing.T) {
	tests := []struct {
		name     string
		columns  []string
		expected string
	}{
		{name: "updated_at", columns: []string{"id", "updated_at"}, expected: "updated_at"},
		{name: "modified_at", columns: []string{"id", "modified_at"}, expected: "modified_at"},
		{name: "updated_at preferred", columns: []string{"modified_at", "updated_at"}, expected: "updated_at"},
		{name: "case preserved", columns: []string{"id", "Updated_At"}, expected: "Updated_At"},
		{name: "none", columns: []string{"server_id", "tag_name"}, expected: ""},
	}

	selector := NewSelector(nil, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema := &store.TableSchema{Table: "t"}
			for _, c := range tt.columns {
				schema.Columns = append(schema.Columns, store.Column{Name: c, Type: "TEXT"})
			}
			assert.Equal(t, tt.expected, selector.ChangeColumn(schema))
		})
	}
}

func TestSelectChangedSinceWatermark(t *testing.T) {
	local := openStore(t, "local")
	mustExec(t, local, worldPostsDDL)
	mustExec(t, local, `INSERT INTO world_posts (id, world_id, updated_at) VALUES
		(1, 'old', '2024-05-01 11:00:00'),
		(2, 'same second', '2024-05-01 12:00:00'),
		(3, 'new', '2024-05-01 12:30:00')`)
	ctx := context.Background()
	schema, err := NewIntrospector(local).Schema(ctx, "world_posts")
	require.NoError(t, err)

	strict, err := NewSelector(nil, 0).SelectChanged(ctx, local, schema, t0)
	require.NoError(t, err)
	require.Len(t, strict, 1)
	v, _ := strict[0].Get("world_id")
	assert.Equal(t, "new", v)

	overlapping, err := NewSelector(nil, time.Second).SelectChanged(ctx, local, schema, t0)
	require.NoError(t, err)
	assert.Len(t, overlapping, 2)

	all, err := NewSelector(nil, time.Second).SelectChanged(ctx, local, schema, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSelectChangedDeduplicatesByKey(t *testing.T) {
	local := openStore(t, "local")
	mustExec(t, local, `CREATE TABLE activity_stats (stat_date TEXT, commands INTEGER)`)
	mustExec(t, local, `INSERT INTO activity_stats (stat_date, commands) VALUES ('2024-05-01', 3), ('2024-05-01', 4), ('2024-05-02', 1)`)
	ctx := context.Background()
	schema, err := NewIntrospector(local).Schema(ctx, "activity_stats")
	require.NoError(t, err)
	require.Equal(t, []string{"stat_date"}, schema.PrimaryKey)

	rows, err := NewSelector(nil, 0).SelectChanged(ctx, local, schema, t0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []any{"2024-05-01", int64(3)}, rows[0].Values)
	assert.Equal(t, []any{"2024-05-02", int64(1)}, rows[1].Values)
}
