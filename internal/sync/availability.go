package sync

import (
	stdsync "sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Configured is satisfied by connection settings that can tell whether they
// are complete, e.g. *db.Config
type Configured interface {
	Present() bool
}

// Reachability is the last observed state of the networked store
type Reachability int

const (
	ReachabilityUnknown Reachability = iota
	Reachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// Guard tells whether the networked store should be used at all. The decision
// is made from configuration only; reachability is tracked on the side and
// never consulted by Available.
type Guard struct {
	config   Configured
	localDev bool

	mu        stdsync.Mutex
	lastKnown Reachability
	lastErr   error
	checkedAt time.Time
}

// NewGuard creates a guard. A nil config means the networked store is not configured.
func NewGuard(config Configured, localDev bool) *Guard {
	return &Guard{config: config, localDev: localDev}
}

// Available reports whether the networked store is configured and the
// deployment is not flagged as local development.
func (g *Guard) Available() bool {
	return g.Reason() == ""
}

// Reason explains why the networked store is unavailable, or returns an
// empty string when it is available.
func (g *Guard) Reason() string {
	if g.localDev {
		return "local development mode"
	}
	if g.config == nil || !g.config.Present() {
		return "connection settings incomplete"
	}
	return ""
}

// MarkReachable records a successful connection
func (g *Guard) MarkReachable() {
	g.mark(Reachable, nil)
}

// MarkUnreachable records a failed connection attempt
func (g *Guard) MarkUnreachable(err error) {
	g.mark(Unreachable, err)
}

func (g *Guard) mark(state Reachability, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if state != g.lastKnown {
		entry := logrus.WithField("state", state.String())
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Info("Networked store reachability changed")
	}
	g.lastKnown, g.lastErr, g.checkedAt = state, err, time.Now()
}

// LastKnown returns the last observed reachability, when it was observed and
// the error that caused it
func (g *Guard) LastKnown() (Reachability, time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastKnown, g.checkedAt, g.lastErr
}
