package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// testDialect renders numbered markers so argument positions are visible
type testDialect struct{}

func (testDialect) Name() string                              { return "test" }
func (testDialect) Placeholder(n int) string                  { return fmt.Sprintf(":%d", n) }
func (testDialect) NativeUpsert() bool                        { return false }
func (testDialect) UpsertStatement(*TableSchema) string       { return "" }
func (d testDialect) ExistsStatement(s *TableSchema) string { return BuildExists(d, s) }
func (d testDialect) InsertStatement(s *TableSchema) string { return BuildInsert(d, s) }
func (d testDialect) UpdateStatement(s *TableSchema) string { return BuildUpdate(d, s) }
func (testDialect) Timestamp(t time.Time) any                 { return t }
func (testDialect) Coerce(_ string, v any) (any, error)       { return v, nil }

func threadWorldLinks() *TableSchema {
	return &TableSchema{
		Table: "thread_world_links",
		Columns: []Column{
			{Name: "server_id", Type: "INTEGER"},
			{Name: "thread_id", Type: "INTEGER"},
			{Name: "world_id", Type: "TEXT"},
			{Name: "updated_at", Type: "TIMESTAMP"},
		},
		PrimaryKey: []string{"server_id", "thread_id"},
	}
}

func TestBuildStatements(t *testing.T) {
	d := testDialect{}
	s := threadWorldLinks()

	assert.Equal(t, `SELECT 1 FROM "thread_world_links" WHERE "server_id" = :1 AND "thread_id" = :2 LIMIT 1`, BuildExists(d, s))
	assert.Equal(t, `SELECT "server_id", "thread_id", "world_id", "updated_at" FROM "thread_world_links" WHERE "server_id" = :1 AND "thread_id" = :2 LIMIT 1`, BuildLookup(d, s))
	assert.Equal(t, `INSERT INTO "thread_world_links" ("server_id", "thread_id", "world_id", "updated_at") VALUES (:1, :2, :3, :4)`, BuildInsert(d, s))
	assert.Equal(t, `UPDATE "thread_world_links" SET "world_id" = :1, "updated_at" = :2 WHERE "server_id" = :3 AND "thread_id" = :4`, BuildUpdate(d, s))
	assert.Equal(t, `SELECT "server_id", "thread_id", "world_id", "updated_at" FROM "thread_world_links"`, BuildSelect(d, s, ""))
	assert.Equal(t, `SELECT "server_id", "thread_id", "world_id", "updated_at" FROM "thread_world_links" WHERE "updated_at" > :1`, BuildSelect(d, s, "updated_at"))
	assert.Equal(t,
		`INSERT INTO "thread_world_links" ("server_id", "thread_id", "world_id", "updated_at") VALUES (:1, :2, :3, :4) `+
			`ON CONFLICT ("server_id", "thread_id") DO UPDATE SET "world_id" = EXCLUDED."world_id", "updated_at" = EXCLUDED."updated_at" RETURNING (xmax = 0) AS inserted`,
		BuildOnConflictUpsert(d, s))
}

func TestBuildUpdateAllKeyColumns(t *testing.T) {
	s := &TableSchema{
		Table:      "server_tags",
		Columns:    []Column{{Name: "server_id"}, {Name: "tag_name"}},
		PrimaryKey: []string{"server_id", "tag_name"},
	}
	assert.Empty(t, BuildUpdate(testDialect{}, s))
	assert.Contains(t, BuildOnConflictUpsert(testDialect{}, s), "DO NOTHING")
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"world_posts"`, QuoteIdent("world_posts"))
	assert.Equal(t, `"odd""name"`, QuoteIdent(`odd"name`))
}

func TestTableSchema(t *testing.T) {
	s := threadWorldLinks()

	assert.Equal(t, []string{"server_id", "thread_id", "world_id", "updated_at"}, s.ColumnNames())
	assert.Equal(t, []string{"world_id", "updated_at"}, s.NonKeyColumns())
	assert.True(t, s.HasColumn("UPDATED_AT"))
	assert.False(t, s.HasColumn("modified_at"))
	assert.Equal(t, "TEXT", s.ColumnType("world_id"))
	assert.Empty(t, s.ColumnType("missing"))
	assert.True(t, s.IsKey("thread_id"))
	assert.False(t, s.IsKey("world_id"))
}

func TestEnsurePrimaryKey(t *testing.T) {
	s := &TableSchema{Table: "bot_stats", Columns: []Column{{Name: "stat_name"}, {Name: "stat_value"}}}
	s.EnsurePrimaryKey()
	assert.Equal(t, []string{"stat_name"}, s.PrimaryKey)

	keyed := threadWorldLinks()
	keyed.EnsurePrimaryKey()
	assert.Equal(t, []string{"server_id", "thread_id"}, keyed.PrimaryKey)
}

func TestSameShape(t *testing.T) {
	s := threadWorldLinks()

	reordered := &TableSchema{Columns: []Column{{Name: "World_ID"}, {Name: "server_id"}, {Name: "updated_at"}, {Name: "thread_id"}}}
	assert.True(t, s.SameShape(reordered))

	extra := threadWorldLinks()
	extra.Columns = append(extra.Columns, Column{Name: "archived"})
	assert.False(t, s.SameShape(extra))
	assert.False(t, extra.SameShape(s))
}

func TestRow(t *testing.T) {
	r := NewRow([]string{"server_id", "thread_id", "world_id"}, []any{int64(1), int64(2), "wrld_1"})

	v, ok := r.Get("world_id")
	assert.True(t, ok)
	assert.Equal(t, "wrld_1", v)
	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, "server_id=1,thread_id=2", r.Key([]string{"server_id", "thread_id"}))
}

func TestNow(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Microsecond))
}

func TestTimestampLayout(t *testing.T) {
	whole := time.Date(2024, 5, 1, 4, 4, 3, 0, time.UTC)
	fractional := whole.Add(433940 * time.Microsecond)

	assert.Equal(t, "2024-05-01 04:04:03", whole.Format(TimestampLayout))
	assert.Equal(t, "2024-05-01 04:04:03.43394", fractional.Format(TimestampLayout))
	assert.Less(t, whole.Format(TimestampLayout), fractional.Format(TimestampLayout))
	assert.Less(t, fractional.Format(TimestampLayout), whole.Add(time.Second).Format(TimestampLayout))
	assert.Equal(t, "2024-05-01", whole.Format(DateLayout))
}
