package db

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultConnectTimeout keeps an unreachable host from stalling the scheduler
	DefaultConnectTimeout = 10 * time.Second
	// DefaultStatementTimeout bounds each statement server side
	DefaultStatementTimeout = 30 * time.Second
	defaultPort             = 5432
	applicationName         = "dualsync"
)

// Config holds the networked store connection parameters. URL is optional;
// every non-empty individual field overrides the matching part of it.
type Config struct {
	URL              string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
}

// resolved merges URL and the individual parameters
func (c *Config) resolved() (*url.URL, error) {
	u := &url.URL{Scheme: "postgres"}
	if c.URL != "" {
		parsed, err := url.Parse(c.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse database URL: %w", err)
		}
		u = parsed
	}

	host, port := u.Hostname(), u.Port()
	if c.Host != "" {
		host = c.Host
	}
	if c.Port != 0 {
		port = strconv.Itoa(c.Port)
	}
	if host != "" {
		if port == "" {
			port = strconv.Itoa(defaultPort)
		}
		u.Host = net.JoinHostPort(host, port)
	}

	user := u.User.Username()
	password, hasPassword := u.User.Password()
	if c.User != "" {
		user = c.User
	}
	if c.Password != "" {
		password, hasPassword = c.Password, true
	}
	switch {
	case user != "" && hasPassword:
		u.User = url.UserPassword(user, password)
	case user != "":
		u.User = url.User(user)
	}

	if c.Database != "" {
		u.Path = "/" + c.Database
	}
	return u, nil
}

// Present reports whether host, user, password and database are all
// configured. It says nothing about whether the server is reachable.
func (c *Config) Present() bool {
	u, err := c.resolved()
	if err != nil {
		return false
	}
	password, _ := u.User.Password()
	return u.Hostname() != "" && u.User.Username() != "" && password != "" && len(u.Path) > 1
}

// ConnString returns the derived connection URL
func (c *Config) ConnString() (string, error) {
	u, err := c.resolved()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Redacted returns the connection URL with the password masked, for logs
func (c *Config) Redacted() string {
	u, err := c.resolved()
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}

// ConnConfig builds the pgx configuration with timeouts and session settings applied
func (c *Config) ConnConfig() (*pgx.ConnConfig, error) {
	connStr, err := c.ConnString()
	if err != nil {
		return nil, err
	}
	connConfig, err := pgx.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	connectTimeout := c.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = DefaultConnectTimeout
	}
	statementTimeout := c.StatementTimeout
	if statementTimeout == 0 {
		statementTimeout = DefaultStatementTimeout
	}
	connConfig.ConnectTimeout = connectTimeout
	connConfig.RuntimeParams["application_name"] = applicationName
	connConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(statementTimeout.Milliseconds(), 10)
	connConfig.RuntimeParams["timezone"] = "UTC"

	logger := logrus.WithField("component", "postgresql")
	connConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		logger.WithField("severity", n.Severity).WithField("notice", n.Message).Info("Notice received")
	}
	return connConfig, nil
}
