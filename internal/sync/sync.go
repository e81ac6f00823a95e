// Package sync replicates a fixed list of tables in both directions between
// the embedded and the networked store, driven by per-table watermarks.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/vrcshowcase/dualsync/internal/retry"
	"github.com/vrcshowcase/dualsync/internal/store"
)

// DefaultTables are the bot tables kept in sync
var DefaultTables = []string{
	"server_channels",
	"world_posts",
	"user_world_links",
	"thread_world_links",
	"server_tags",
	"vrchat_worlds",
	"tag_usage",
	"bot_activity_log",
	"activity_stats",
	"guild_tracking",
	"bot_stats",
}

// DefaultLookback is the overlap applied to watermarks when selecting changes
const DefaultLookback = time.Second

// Opener opens a networked session for the duration of one table pass
type Opener interface {
	Session(ctx context.Context) (store.Session, error)
}

// Options tune the engine
type Options struct {
	// Tables lists the tables to synchronize, in order. Empty means DefaultTables.
	Tables []string
	// ChangeColumns overrides DefaultChangeColumns
	ChangeColumns []string
	// Lookback is subtracted from watermarks when selecting changed rows
	Lookback time.Duration
	// Now returns the current time; store.Now when nil
	Now func() time.Time
	// ReconcileCounts resets the cursors of tables holding more rows in the
	// embedded store than in the networked one during Init, so the next pass
	// copies the whole table
	ReconcileCounts bool
}

// Engine is the sync orchestrator
type Engine struct {
	embedded     store.Store
	networked    Opener
	guard        *Guard
	introspector *Introspector
	selector     *Selector
	upserter     *Upserter
	cursors      *CursorStore
	tables       []string
	now          func() time.Time
	reconcile    bool

	mu       stdsync.Mutex
	locks    map[string]*stdsync.Mutex
	disabled map[string]error
}

// NewEngine creates an engine replicating between embedded and the store opened by networked
func NewEngine(embedded store.Store, networked Opener, guard *Guard, opts Options) *Engine {
	tables := opts.Tables
	if len(tables) == 0 {
		tables = DefaultTables
	}
	now := opts.Now
	if now == nil {
		now = store.Now
	}
	return &Engine{
		embedded:     embedded,
		networked:    networked,
		guard:        guard,
		introspector: NewIntrospector(embedded),
		selector:     NewSelector(opts.ChangeColumns, opts.Lookback),
		upserter:     NewUpserter(),
		cursors:      NewCursorStore(embedded),
		tables:       tables,
		now:          now,
		reconcile:    opts.ReconcileCounts,
		locks:        make(map[string]*stdsync.Mutex),
		disabled:     make(map[string]error),
	}
}

// Tables returns the configured table list
func (e *Engine) Tables() []string {
	return e.tables
}

// Guard returns the availability guard
func (e *Engine) Guard() *Guard {
	return e.guard
}

// Disabled returns the tables disabled for the rest of the run and the reason
func (e *Engine) Disabled() map[string]error {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]error, len(e.disabled))
	for k, v := range e.disabled {
		out[k] = v
	}
	return out
}

// Init prepares both tracking tables and the cursors of every configured
// table. A networked store that cannot be reached yields a
// *ConnectivityError worth retrying; tables missing from the embedded store
// yield an error wrapping retry.ErrPermanent.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.embedded.EnsureTracking(ctx); err != nil {
		return fmt.Errorf("failed to prepare embedded tracking table: %w", err)
	}

	var missing []string
	for _, table := range e.tables {
		_, err := e.introspector.Schema(ctx, table)
		var schemaErr *SchemaError
		switch {
		case errors.As(err, &schemaErr):
			missing = append(missing, table)
		case err != nil:
			return err
		}
	}

	var networked store.Store
	if e.guard.Available() {
		session, err := e.networked.Session(ctx)
		if err != nil {
			e.guard.MarkUnreachable(err)
			return &ConnectivityError{Err: err}
		}
		e.guard.MarkReachable()
		defer e.closeSession(ctx, session)
		if err := session.EnsureTracking(ctx); err != nil {
			return fmt.Errorf("failed to prepare networked tracking table: %w", err)
		}
		networked = session
	}

	if err := e.cursors.Init(ctx, e.tables, networked, e.now()); err != nil {
		return err
	}
	if networked != nil && e.reconcile {
		if err := e.reconcileCounts(ctx, lo.Without(e.tables, missing...), networked); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: tables missing from the embedded store: %s", retry.ErrPermanent, strings.Join(missing, ", "))
	}
	logrus.WithField("tables", len(e.tables)).Info("Sync engine initialized")
	return nil
}

// SyncTable runs both directions for one table: embedded to networked first,
// then networked to embedded. Each direction advances its own watermark only
// when it completes without failures.
func (e *Engine) SyncTable(ctx context.Context, table string) (TableResult, error) {
	lock := e.lockFor(table)
	lock.Lock()
	defer lock.Unlock()

	result := TableResult{Table: table}
	if err := e.disabledErr(table); err != nil {
		result.Skipped, result.Err = SkipDisabled+": "+reason(err), err
		return result, err
	}
	if !e.guard.Available() {
		result.Skipped = SkipUnavailable
		return result, ErrNetworkedUnavailable
	}

	schema, err := e.introspector.Schema(ctx, table)
	if err != nil {
		return e.fail(result, err)
	}

	session, err := e.networked.Session(ctx)
	if err != nil {
		e.guard.MarkUnreachable(err)
		result.Skipped, result.Err = SkipUnreachable, &ConnectivityError{Err: err}
		return result, result.Err
	}
	e.guard.MarkReachable()
	defer e.closeSession(ctx, session)

	if err := e.introspector.Verify(ctx, schema, session); err != nil {
		return e.fail(result, err)
	}

	cursor, err := e.cursors.Get(ctx, table, e.now())
	if err != nil {
		result.Err = err
		return result, err
	}

	pushed := make(map[string]store.Row)
	result.ToNetworked = e.syncDirection(ctx, pass{
		dir: ToNetworked, schema: schema, src: e.embedded, dst: session,
		since: cursor.ToNetworkedAt, networked: session, applied: pushed,
	})
	result.ToEmbedded = e.syncDirection(ctx, pass{
		dir: ToEmbedded, schema: schema, src: session, dst: e.embedded,
		since: cursor.ToEmbeddedAt, networked: session, echoes: pushed,
	})
	result.Err = errors.Join(result.ToNetworked.Err, result.ToEmbedded.Err)
	return result, result.Err
}

// pass is one direction of one table pass
type pass struct {
	dir       Direction
	schema    *store.TableSchema
	src, dst  store.Store
	since     time.Time
	networked store.Store
	// applied receives the rows written to dst, keyed by primary key
	applied map[string]store.Row
	// echoes holds the rows the opposite direction wrote to src in this pass
	echoes map[string]store.Row
}

func (e *Engine) syncDirection(ctx context.Context, p pass) DirectionResult {
	var res DirectionResult
	dir, schema := p.dir, p.schema
	logger := logrus.WithFields(logrus.Fields{"table": schema.Table, "direction": dir.String()})
	transition := func(phase Phase) {
		res.Phase = phase
		logger.WithField("phase", phase.String()).Debug("Sync phase changed")
	}
	abort := func(err error) DirectionResult {
		transition(PhaseFailed)
		res.Err = &PartialSyncError{Table: schema.Table, Direction: dir, Attempted: res.Attempted, Err: err}
		logger.WithError(err).WithField("count", res.Attempted).Error("Sync aborted, watermark not advanced")
		return res
	}

	// rows written while the pass runs must be picked up by the next one
	started := e.now()

	transition(PhaseSelecting)
	rows, err := e.selector.SelectChanged(ctx, p.src, schema, p.since)
	if err != nil {
		return abort(err)
	}

	transition(PhaseApplying)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		key := row.Key(schema.PrimaryKey)
		if written, ok := p.echoes[key]; ok && e.sameRow(schema, row, written) {
			res.Echoed++
			continue
		}
		res.Attempted++
		_, err := e.upserter.Upsert(ctx, p.dst, schema, row)
		if err == nil {
			if p.applied != nil {
				p.applied[key] = row
			}
			continue
		}
		var rowErr *RowError
		if !errors.As(err, &rowErr) {
			return abort(err)
		}
		res.Failed++
		logger.WithError(rowErr.Err).WithField("key", rowErr.Key).Warn("Failed to apply row")
	}

	if res.Failed > 0 {
		transition(PhaseFailed)
		logger.WithFields(logrus.Fields{"count": res.Attempted, "errors": res.Failed}).
			Warn("Rows failed, watermark held so they are retried next pass")
		return res
	}
	if err := e.cursors.Advance(ctx, schema.Table, dir, started, p.networked); err != nil {
		return abort(err)
	}
	transition(PhaseCommitted)
	if res.Attempted > 0 {
		logger.WithField("count", res.Attempted).Info("Synced rows")
	}
	if res.Echoed > 0 {
		logger.WithField("count", res.Echoed).Debug("Skipped rows written by the opposite direction")
	}
	return res
}

// sameRow reports whether a and b hold the same values once both are
// rendered the way the embedded store keeps them. A time and a text naming
// the same instant are equal.
func (e *Engine) sameRow(schema *store.TableSchema, a, b store.Row) bool {
	d := e.embedded.Dialect()
	left, err := coerceRow(d, schema, a)
	if err != nil {
		return false
	}
	right, err := coerceRow(d, schema, b)
	if err != nil {
		return false
	}
	return lo.EveryBy(schema.ColumnNames(), func(c string) bool {
		l, r := left[c], right[c]
		if l == nil || r == nil {
			return l == nil && r == nil
		}
		if cast.ToString(l) == cast.ToString(r) {
			return true
		}
		rawA, _ := a.Get(c)
		rawB, _ := b.Get(c)
		if t, ok := rawA.(time.Time); ok {
			text, isText := rawB.(string)
			return isText && sameInstant(t, text)
		}
		if t, ok := rawB.(time.Time); ok {
			text, isText := rawA.(string)
			return isText && sameInstant(t, text)
		}
		return false
	})
}

// reconcileCounts resets the cursors of tables the networked store holds
// fewer rows of, typically after it was provisioned empty
func (e *Engine) reconcileCounts(ctx context.Context, tables []string, networked store.Store) error {
	for _, table := range tables {
		logger := logrus.WithField("table", table)
		local, err := rowCount(ctx, e.embedded, table)
		if err != nil {
			return err
		}
		remote, err := rowCount(ctx, networked, table)
		if err != nil {
			logger.WithError(err).Warn("Cannot count networked rows, skipping reconciliation")
			continue
		}
		if local <= remote {
			continue
		}
		logger.WithFields(logrus.Fields{"embedded": local, "networked": remote}).
			Info("Networked store is behind, resetting cursors for a full pass")
		if err := e.cursors.Reset(ctx, table, networked); err != nil {
			return err
		}
	}
	return nil
}

func rowCount(ctx context.Context, s store.Store, table string) (int64, error) {
	rows, err := s.Query(ctx, "SELECT COUNT(*) FROM "+store.QuoteIdent(table))
	if err != nil {
		return 0, fmt.Errorf("failed to count rows of %s in %s: %w", table, s.Dialect().Name(), err)
	}
	if len(rows) == 0 || len(rows[0].Values) == 0 {
		return 0, nil
	}
	return cast.ToInt64E(rows[0].Values[0])
}

// SyncAll runs SyncTable over every configured table in order. A failing
// table never stops the others; once the networked store proves unreachable
// the remaining tables are skipped for this cycle.
func (e *Engine) SyncAll(ctx context.Context) Results {
	logger := logrus.WithField("run_id", uuid.NewString())
	results := make(Results, len(e.tables))
	started := time.Now()

	if why := e.guard.Reason(); why != "" {
		logger.WithField("reason", why).Info("Networked store unavailable, skipping sync")
		for _, table := range e.tables {
			results[table] = TableResult{Table: table, Skipped: SkipUnavailable}
		}
		return results
	}

	unreachable := false
	for _, table := range e.tables {
		switch {
		case ctx.Err() != nil:
			results[table] = TableResult{Table: table, Skipped: SkipCancelled, Err: ctx.Err()}
			continue
		case unreachable:
			results[table] = TableResult{Table: table, Skipped: SkipUnreachable}
			continue
		}
		result := e.syncTableSafe(ctx, table, logger)
		if result.Skipped == SkipUnreachable {
			logger.WithError(result.Err).Warn("Networked store unreachable, skipping remaining tables")
			unreachable = true
		}
		results[table] = result
	}

	toNetworked, toEmbedded, errs := results.Totals()
	logger.WithFields(logrus.Fields{
		"to_networked": toNetworked,
		"to_embedded":  toEmbedded,
		"errors":       errs,
		"elapsed":      time.Since(started).Round(time.Millisecond).String(),
	}).Info("Sync pass completed")
	return results
}

// SyncNow runs an out-of-schedule pass over every table
func (e *Engine) SyncNow(ctx context.Context) Results {
	logrus.Info("On-demand sync requested")
	return e.SyncAll(ctx)
}

// ResetCursors resets both watermarks of the given tables, or of every
// configured table when none are given, so the next pass reconciles fully.
func (e *Engine) ResetCursors(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		tables = e.tables
	}
	if err := e.embedded.EnsureTracking(ctx); err != nil {
		return fmt.Errorf("failed to prepare embedded tracking table: %w", err)
	}
	var networked store.Store
	if e.guard.Available() {
		session, err := e.networked.Session(ctx)
		if err != nil {
			e.guard.MarkUnreachable(err)
			logrus.WithError(err).Warn("Networked store unreachable, resetting embedded cursors only")
		} else {
			e.guard.MarkReachable()
			defer e.closeSession(ctx, session)
			networked = session
		}
	}
	for _, table := range tables {
		if err := e.resetCursor(ctx, table, networked); err != nil {
			return err
		}
		logrus.WithField("table", table).Info("Cursor reset")
	}
	return nil
}

func (e *Engine) resetCursor(ctx context.Context, table string, networked store.Store) error {
	lock := e.lockFor(table)
	lock.Lock()
	defer lock.Unlock()
	return e.cursors.Reset(ctx, table, networked)
}

func (e *Engine) syncTableSafe(ctx context.Context, table string, logger *logrus.Entry) (result TableResult) {
	logger = logger.WithField("table", table)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while syncing %s: %v", table, r)
			logger.WithError(err).Error("Table sync panicked")
			result = TableResult{Table: table, Err: err}
		}
	}()

	result, err := e.SyncTable(ctx, table)
	switch {
	case err == nil:
	case result.Skipped != "":
		logger.WithError(err).WithField("reason", result.Skipped).Warn("Table skipped")
	default:
		logger.WithError(err).Error("Table sync failed")
	}
	return result
}

func (e *Engine) fail(result TableResult, err error) (TableResult, error) {
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		e.disable(result.Table, err)
		result.Skipped = SkipDisabled + ": " + schemaErr.Reason
	}
	result.Err = err
	return result, err
}

func (e *Engine) disable(table string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.disabled[table]; ok {
		return
	}
	e.disabled[table] = err
	logrus.WithError(err).WithField("table", table).Error("Table disabled until restart")
}

func (e *Engine) disabledErr(table string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disabled[table]
}

func (e *Engine) lockFor(table string) *stdsync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[table]
	if !ok {
		lock = &stdsync.Mutex{}
		e.locks[table] = lock
	}
	return lock
}

func (e *Engine) closeSession(ctx context.Context, session store.Session) {
	if err := session.Close(context.WithoutCancel(ctx)); err != nil {
		logrus.WithError(err).Debug("Failed to close networked session")
	}
}

func reason(err error) string {
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return schemaErr.Reason
	}
	return err.Error()
}
