// Package db provides the networked PostgreSQL side of the synchronization.
package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"

	"github.com/vrcshowcase/dualsync/internal/migrations"
	"github.com/vrcshowcase/dualsync/internal/store"
)

// PgxIface is common interface for every pgx class
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// PgxConnIface is interface representing pgx connection
type PgxConnIface interface {
	PgxIface
	Close(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Conn is one short-lived networked connection implementing store.Session
type Conn struct {
	conn PgxConnIface
}

var _ store.Session = (*Conn)(nil)

// NewConn wraps an open pgx connection
func NewConn(conn PgxConnIface) *Conn {
	return &Conn{conn: conn}
}

// Dialect returns the networked SQL dialect
func (c *Conn) Dialect() store.Dialect {
	return Dialect{}
}

// Close closes the connection
func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// Query runs query and collects every row. Values implementing
// driver.Valuer (numeric, intervals) are reduced to their driver value and
// DATE values are returned as date text, never as midnight timestamps.
func (c *Conn) Query(ctx context.Context, query string, args ...any) ([]store.Row, error) {
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var result []store.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		for i, v := range values {
			if t, ok := v.(time.Time); ok && fields[i].DataTypeOID == pgtype.DateOID {
				values[i] = t.Format(store.DateLayout)
				continue
			}
			if valuer, ok := v.(driver.Valuer); ok {
				if values[i], err = valuer.Value(); err != nil {
					return nil, fmt.Errorf("error converting column %s: %w", columns[i], err)
				}
			}
		}
		result = append(result, store.NewRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

// Exec runs a statement and returns the affected row count
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const columnsQuery = `SELECT column_name, data_type
	FROM information_schema.columns
	WHERE table_schema = current_schema() AND table_name = $1
	ORDER BY ordinal_position`

const primaryKeyQuery = `SELECT a.attname
	FROM pg_index i
	JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
	WHERE i.indrelid = to_regclass(quote_ident($1)) AND i.indisprimary
	ORDER BY array_position(i.indkey::int2[], a.attnum)`

// Introspect reads information_schema and pg_index. It is used to detect
// schema divergence from the embedded store, which stays the source of truth.
func (c *Conn) Introspect(ctx context.Context, table string) (*store.TableSchema, error) {
	rows, err := c.conn.Query(ctx, columnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s: %w", table, err)
	}
	schema := &store.TableSchema{Table: table}
	for rows.Next() {
		var col store.Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning column of %s: %w", table, err)
		}
		schema.Columns = append(schema.Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", table, err)
	}
	if len(schema.Columns) == 0 {
		return nil, nil
	}

	rows, err = c.conn.Query(ctx, primaryKeyQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary key of %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("error scanning primary key of %s: %w", table, err)
		}
		schema.PrimaryKey = append(schema.PrimaryKey, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating primary key of %s: %w", table, err)
	}
	schema.EnsurePrimaryKey()
	return schema, nil
}

// RowLevel reports server errors tied to the statement's data. Connection
// exceptions (08), insufficient resources (53), operator intervention (57),
// system (58) and internal (XX) classes affect the whole connection.
func (c *Conn) RowLevel(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "08", "53", "57", "58", "XX":
		return false
	}
	return true
}

// EnsureTracking checks that the migration creating db_sync_tracking ran
func (c *Conn) EnsureTracking(ctx context.Context) error {
	var exists bool
	if err := c.conn.QueryRow(ctx, `SELECT to_regclass('db_sync_tracking') IS NOT NULL`).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check db_sync_tracking: %w", err)
	}
	if !exists {
		return errors.New("db_sync_tracking is missing, migrations have not been applied")
	}
	return nil
}

// Connector opens one connection per operation. Migrations are applied on
// the first successful connection of the process.
type Connector struct {
	config   *Config
	mu       sync.Mutex
	migrated bool
}

// NewConnector creates a connector for the given configuration
func NewConnector(config *Config) *Connector {
	return &Connector{config: config}
}

// Config returns the connection configuration
func (c *Connector) Config() *Config {
	return c.config
}

// Open connects to PostgreSQL, applying migrations if this is the first connection
func (c *Connector) Open(ctx context.Context) (*Conn, error) {
	connConfig, err := c.config.ConnConfig()
	if err != nil {
		return nil, err
	}
	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.migrated {
		if err := ApplyMigrations(ctx, conn); err != nil {
			conn.Close(ctx)
			return nil, err
		}
		c.migrated = true
	}
	return NewConn(conn), nil
}

// Session implements the engine's opener contract
func (c *Connector) Session(ctx context.Context) (store.Session, error) {
	conn, err := c.Open(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ApplyMigrations checks and applies database migrations if needed
func ApplyMigrations(ctx context.Context, conn *pgx.Conn) error {
	needsMigration, err := migrations.NeedsUpgrade(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	if needsMigration {
		logrus.Info("Applying database migrations...")
		err = migrations.Apply(ctx, conn)
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		logrus.Info("Database migrations completed successfully")
	} else {
		logrus.Debug("Database schema is up to date")
	}

	return nil
}
