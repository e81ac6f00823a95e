package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/vrcshowcase/dualsync/internal/store"
)

const trackingTable = "db_sync_tracking"

// trackingSchema is the cursor table layout on both stores. last_sqlite_sync
// watermarks embedded->networked, last_pg_sync networked->embedded.
var trackingSchema = &store.TableSchema{
	Table: trackingTable,
	Columns: []store.Column{
		{Name: "table_name", Type: "TEXT"},
		{Name: "last_sqlite_sync", Type: "TIMESTAMP"},
		{Name: "last_pg_sync", Type: "TIMESTAMP"},
	},
	PrimaryKey: []string{"table_name"},
}

// Cursor holds the two watermarks of one table
type Cursor struct {
	Table         string
	ToNetworkedAt time.Time
	ToEmbeddedAt  time.Time
}

// Watermark returns the watermark of the given direction
func (c Cursor) Watermark(dir Direction) time.Time {
	if dir == ToNetworked {
		return c.ToNetworkedAt
	}
	return c.ToEmbeddedAt
}

func (c Cursor) row() store.Row {
	return store.NewRow(trackingSchema.ColumnNames(), []any{c.Table, c.ToNetworkedAt, c.ToEmbeddedAt})
}

// CursorStore persists watermarks in the embedded tracking table and mirrors
// every write to the networked copy when a session is given. The embedded
// copy is authoritative.
type CursorStore struct {
	embedded store.Store
	upserter *Upserter
}

// NewCursorStore creates a cursor store over the embedded store
func NewCursorStore(embedded store.Store) *CursorStore {
	return &CursorStore{embedded: embedded, upserter: NewUpserter()}
}

// Init creates missing cursors. A cursor found only on the networked copy is
// copied to the embedded one; cursors found nowhere start at now.
func (c *CursorStore) Init(ctx context.Context, tables []string, networked store.Store, now time.Time) error {
	for _, table := range tables {
		cursor, found, err := c.read(ctx, c.embedded, table)
		if err != nil {
			return err
		}
		if !found && networked != nil {
			cursor, found, err = c.read(ctx, networked, table)
			if err != nil {
				return err
			}
			if found {
				logrus.WithField("table", table).Info("Seeding cursor from the networked store")
			}
		}
		if !found {
			cursor = Cursor{Table: table, ToNetworkedAt: now, ToEmbeddedAt: now}
			logrus.WithFields(logrus.Fields{"table": table, "watermark": now}).Debug("Creating cursor")
		}
		if err := c.write(ctx, cursor, networked); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the cursor of table, creating it at now if it does not exist yet
func (c *CursorStore) Get(ctx context.Context, table string, now time.Time) (Cursor, error) {
	cursor, found, err := c.read(ctx, c.embedded, table)
	if err != nil {
		return Cursor{}, err
	}
	if found {
		return cursor, nil
	}
	cursor = Cursor{Table: table, ToNetworkedAt: now, ToEmbeddedAt: now}
	if err := c.write(ctx, cursor, nil); err != nil {
		return Cursor{}, err
	}
	return cursor, nil
}

// Advance moves the watermark of one direction to at
func (c *CursorStore) Advance(ctx context.Context, table string, dir Direction, at time.Time, networked store.Store) error {
	cursor, err := c.Get(ctx, table, at)
	if err != nil {
		return err
	}
	if dir == ToNetworked {
		cursor.ToNetworkedAt = at
	} else {
		cursor.ToEmbeddedAt = at
	}
	return c.write(ctx, cursor, networked)
}

// Reset sets both watermarks of table to the zero time
func (c *CursorStore) Reset(ctx context.Context, table string, networked store.Store) error {
	return c.write(ctx, Cursor{Table: table}, networked)
}

func (c *CursorStore) read(ctx context.Context, s store.Store, table string) (Cursor, bool, error) {
	d := s.Dialect()
	query := fmt.Sprintf("SELECT last_sqlite_sync, last_pg_sync FROM %s WHERE table_name = %s",
		trackingTable, d.Placeholder(1))
	rows, err := s.Query(ctx, query, table)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("failed to read cursor of %s from %s: %w", table, d.Name(), err)
	}
	if len(rows) == 0 {
		return Cursor{}, false, nil
	}
	cursor := Cursor{Table: table}
	if cursor.ToNetworkedAt, err = parseWatermark(rows[0].Values[0]); err != nil {
		return Cursor{}, false, fmt.Errorf("bad last_sqlite_sync of %s: %w", table, err)
	}
	if cursor.ToEmbeddedAt, err = parseWatermark(rows[0].Values[1]); err != nil {
		return Cursor{}, false, fmt.Errorf("bad last_pg_sync of %s: %w", table, err)
	}
	return cursor, true, nil
}

// write stores the cursor in the embedded store, then mirrors it. A failed
// mirror write is logged and does not fail the call.
func (c *CursorStore) write(ctx context.Context, cursor Cursor, networked store.Store) error {
	if _, err := c.upserter.Upsert(ctx, c.embedded, trackingSchema, cursor.row()); err != nil {
		return fmt.Errorf("failed to store cursor of %s: %w", cursor.Table, err)
	}
	if networked == nil {
		return nil
	}
	if _, err := c.upserter.Upsert(ctx, networked, trackingSchema, cursor.row()); err != nil {
		logrus.WithError(err).WithField("table", cursor.Table).Warn("Failed to mirror cursor to the networked store")
	}
	return nil
}

func parseWatermark(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case []byte:
		v = string(t)
	}
	if s, ok := v.(string); ok && s == "" {
		return time.Time{}, nil
	}
	parsed, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
