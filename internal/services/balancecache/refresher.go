package balancecache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Refresher forces a refresh of the active account at the refresh interval of
// its current plan. The timer is re-armed on every session change and disarmed
// while nobody is logged in.
type Refresher struct {
	m *Manager
	l *zap.Logger
}

// NewRefresher creates a refresher for the manager.
func NewRefresher(l *zap.Logger, m *Manager) *Refresher {
	if l == nil {
		l = zap.NewNop()
	}
	return &Refresher{m: m, l: l}
}

// Run blocks until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	for {
		var (
			ticker *time.Ticker
			tick   <-chan time.Time
		)

		acc, ok := r.m.Account()
		if ok {
			interval := r.m.Policies().Resolve(acc.PlanTier).RefreshInterval
			ticker = time.NewTicker(interval)
			tick = ticker.C
			r.l.Info("balance refresh armed",
				zap.String("account", acc.ID),
				zap.String("plan", acc.PlanTier.String()),
				zap.Duration("interval", interval))
		} else {
			r.l.Debug("balance refresh disarmed, no active account")
		}

		rearm := false
		for !rearm {
			select {
			case <-ctx.Done():
				if ticker != nil {
					ticker.Stop()
				}
				return ctx.Err()
			case <-r.m.SessionChanged():
				rearm = true
			case <-tick:
				s := r.m.Fetch(ctx, acc, true)
				r.l.Debug("background refresh done",
					zap.String("account", acc.ID),
					zap.String("tier", s.SourceTier.String()))
			}
		}

		if ticker != nil {
			ticker.Stop()
		}
	}
}
