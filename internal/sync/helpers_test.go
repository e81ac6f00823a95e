package sync

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vrcshowcase/dualsync/internal/embedded"
	"github.com/vrcshowcase/dualsync/internal/store"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock shared by the engine under test
type testClock struct {
	mu  stdsync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: t0} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// present is a Configured with a fixed answer
type present bool

func (p present) Present() bool { return bool(p) }

// sqliteSession lets a second SQLite file stand in for the networked store
type sqliteSession struct {
	*embedded.Store
}

func (sqliteSession) Close(context.Context) error { return nil }

type testOpener struct {
	store  *embedded.Store
	err    error
	opened atomic.Int32
}

func (o *testOpener) Session(context.Context) (store.Session, error) {
	o.opened.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	return sqliteSession{o.store}, nil
}

var errRefused = errors.New("connection refused")

func openStore(t *testing.T, name string) *embedded.Store {
	t.Helper()
	s, err := embedded.Open(filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// setupStores opens the embedded store and its networked stand-in, running
// ddl on both
func setupStores(t *testing.T, ddl ...string) (*embedded.Store, *embedded.Store) {
	t.Helper()
	local, remote := openStore(t, "local"), openStore(t, "remote")
	for _, stmt := range ddl {
		mustExec(t, local, stmt)
		mustExec(t, remote, stmt)
	}
	return local, remote
}

func mustExec(t *testing.T, s store.Store, query string, args ...any) {
	t.Helper()
	_, err := s.Exec(context.Background(), query, args...)
	require.NoError(t, err)
}

func queryRows(t *testing.T, s store.Store, query string, args ...any) []store.Row {
	t.Helper()
	rows, err := s.Query(context.Background(), query, args...)
	require.NoError(t, err)
	return rows
}

func countRows(t *testing.T, s store.Store, table string) int64 {
	t.Helper()
	rows := queryRows(t, s, "SELECT COUNT(*) FROM "+store.QuoteIdent(table))
	return rows[0].Values[0].(int64)
}

// newTestEngine creates and initializes an engine over the two stores
func newTestEngine(t *testing.T, local, remote *embedded.Store, clock *testClock, tables ...string) (*Engine, *testOpener) {
	t.Helper()
	opener := &testOpener{store: remote}
	engine := NewEngine(local, opener, NewGuard(present(true), false), Options{
		Tables:   tables,
		Lookback: DefaultLookback,
		Now:      clock.Now,
	})
	require.NoError(t, engine.Init(context.Background()))
	return engine, opener
}

const worldPostsDDL = `CREATE TABLE world_posts (
	id INTEGER PRIMARY KEY,
	world_id TEXT NOT NULL,
	title TEXT,
	updated_at TEXT
)`

const serverTagsDDL = `CREATE TABLE server_tags (
	server_id INTEGER,
	tag_name TEXT,
	PRIMARY KEY (server_id, tag_name)
)`

// sessionOpener always hands out the same session
type sessionOpener struct {
	session store.Session
}

func (o sessionOpener) Session(context.Context) (store.Session, error) {
	return o.session, nil
}

var errConnReset = errors.New("connection reset by peer")

// droppingSession loses its connection on the failAt-th write to table;
// a zero failAt never fails
type droppingSession struct {
	sqliteSession
	table  string
	failAt int
	writes int
}

func (s *droppingSession) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if strings.Contains(query, store.QuoteIdent(s.table)) {
		s.writes++
		if s.writes == s.failAt {
			return 0, errConnReset
		}
	}
	return s.sqliteSession.Exec(ctx, query, args...)
}

// dateSession returns column values holding a date as time.Time, the way
// pgx scans a DATE column
type dateSession struct {
	sqliteSession
	column string
}

func (s dateSession) Query(ctx context.Context, query string, args ...any) ([]store.Row, error) {
	rows, err := s.sqliteSession.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for i, c := range row.Columns {
			text, ok := row.Values[i].(string)
			if c != s.column || !ok {
				continue
			}
			if day, err := time.Parse(store.DateLayout, text); err == nil {
				row.Values[i] = day
			}
		}
	}
	return rows, nil
}
