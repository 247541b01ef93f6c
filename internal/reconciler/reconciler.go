package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/daap14/teamsync/internal/clock"
)

// Syncer is the part of the team service the reconciler drives.
type Syncer interface {
	Refresh(ctx context.Context, force bool) (bool, error)
	SweepInvites(ctx context.Context) (int, error)
}

// Reconciler periodically purges expired invites and reloads the full
// snapshot, healing caches that missed or never received an event.
type Reconciler struct {
	svc      Syncer
	interval time.Duration
	clock    clock.Clock
}

// New creates a new Reconciler.
func New(svc Syncer, interval time.Duration, c clock.Clock) *Reconciler {
	if c == nil {
		c = clock.Real()
	}
	return &Reconciler{
		svc:      svc,
		interval: interval,
		clock:    c,
	}
}

// Start begins the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	slog.Info("reconciler started", "interval", r.interval.String())
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile runs one pass.
func (r *Reconciler) Reconcile(ctx context.Context) {
	purged, err := r.svc.SweepInvites(ctx)
	if err != nil {
		slog.Error("reconciler: failed to sweep invites", "error", err)
	} else if purged > 0 {
		slog.Info("reconciler: purged expired invites", "count", purged)
	}

	if ctx.Err() != nil {
		return
	}

	swapped, err := r.svc.Refresh(ctx, true)
	if err != nil {
		slog.Warn("reconciler: snapshot refresh failed", "error", err)
		return
	}
	if !swapped {
		// A local mutation raced the load; the next tick catches up.
		slog.Debug("reconciler: snapshot discarded")
	}
}
