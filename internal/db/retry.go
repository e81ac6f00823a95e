package db

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/vrcshowcase/dualsync/internal/retry"
)

// Ping opens a connection with retry logic and closes it again. It is used
// at startup to report reachability early; sync passes never retry connects.
func (c *Connector) Ping(ctx context.Context) error {
	config := retry.PostgreSQLDefaults()

	err := retry.WithOperation(ctx, config, func() error {
		conn, err := c.Open(ctx)
		if err != nil {
			return err
		}
		defer conn.Close(ctx)
		return conn.conn.Ping(ctx)
	}, "Postgres connect")

	if err != nil {
		logrus.WithError(err).WithField("url", c.config.Redacted()).Error("Failed to establish PostgreSQL connection after all retries")
		return err
	}

	return nil
}
