// Package retry provides common retry logic with exponential backoff for dualsync.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Config holds configuration for retry logic
type Config struct {
	MaxAttempts   uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// BootstrapDefaults returns the backoff used while waiting for the stores
// and their tables to become ready before the first sync pass
func BootstrapDefaults() *Config {
	return &Config{
		MaxAttempts:   5,
		BaseDelay:     3 * time.Second,
		MaxDelay:      1 * time.Minute,
		JitterPercent: 10,
	}
}

// PostgreSQLDefaults returns sensible defaults for PostgreSQL connection attempts
func PostgreSQLDefaults() *Config {
	return &Config{
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		JitterPercent: 10,
	}
}

// ErrPermanent marks an error that must not be retried; wrap it with %w
var ErrPermanent = errors.New("permanent failure")

// WithOperation performs a general operation with retry logic. Errors
// wrapping ErrPermanent stop the retry loop immediately.
func WithOperation(ctx context.Context, config *Config, operation func() error, operationName string) error {
	backoff := config.CreateBackoff()
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := operation()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			return err
		}
		logrus.WithError(err).
			WithField("operation", operationName).
			Warn("Operation failed, retrying...")
		return retry.RetryableError(err)
	})
}

// CreateBackoff creates a reusable backoff strategy from config
func (c *Config) CreateBackoff() retry.Backoff {
	backoff := retry.NewExponential(c.BaseDelay)
	backoff = retry.WithMaxRetries(c.MaxAttempts, backoff)
	backoff = retry.WithCappedDuration(c.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(c.JitterPercent, backoff)
	return backoff
}
