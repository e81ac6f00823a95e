package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vrcshowcase/dualsync/internal/retry"
)

const (
	DefaultInterval     = 300 * time.Second
	DefaultStartupDelay = 10 * time.Second
)

// Scheduler runs SyncAll on a fixed interval after bootstrapping the engine
type Scheduler struct {
	engine       *Engine
	interval     time.Duration
	startupDelay time.Duration
	bootstrap    *retry.Config
}

// NewScheduler creates a scheduler. A non-positive interval or a negative
// startup delay falls back to the defaults, a nil bootstrap config to
// retry.BootstrapDefaults.
func NewScheduler(engine *Engine, interval, startupDelay time.Duration, bootstrap *retry.Config) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if startupDelay < 0 {
		startupDelay = DefaultStartupDelay
	}
	if bootstrap == nil {
		bootstrap = retry.BootstrapDefaults()
	}
	return &Scheduler{engine: engine, interval: interval, startupDelay: startupDelay, bootstrap: bootstrap}
}

// Run bootstraps the engine, waits for the startup delay and then syncs every
// interval until ctx is cancelled. A bootstrap that keeps failing is logged
// and the loop starts anyway; tables still missing are disabled by their
// first pass.
func (s *Scheduler) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"interval":      s.interval.String(),
		"startup_delay": s.startupDelay.String(),
		"tables":        len(s.engine.Tables()),
	}).Info("Starting dualsync scheduler")

	if err := s.Bootstrap(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logrus.WithError(err).Warn("Bootstrap incomplete, starting scheduled passes anyway")
	}

	if s.startupDelay > 0 {
		timer := time.NewTimer(s.startupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logrus.Info("Scheduler stopped due to context cancellation")
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.engine.SyncAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Scheduler stopped due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			s.engine.SyncAll(ctx)
		}
	}
}

// Bootstrap runs Engine.Init with bounded exponential backoff
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	return retry.WithOperation(ctx, s.bootstrap, func() error {
		return s.engine.Init(ctx)
	}, "sync bootstrap")
}
