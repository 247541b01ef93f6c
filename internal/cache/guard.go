package cache

import (
	"sync"
	"time"

	"github.com/daap14/teamsync/internal/clock"
)

// RefreshGuard throttles read-triggered snapshot refreshes to at most one
// per TTL and never runs two at once. Writes never go through it.
type RefreshGuard struct {
	clock clock.Clock
	ttl   time.Duration

	mu      sync.Mutex
	last    time.Time
	running bool
}

// NewRefreshGuard creates a guard with the given minimum interval.
func NewRefreshGuard(ttl time.Duration, c clock.Clock) *RefreshGuard {
	if c == nil {
		c = clock.Real()
	}
	return &RefreshGuard{clock: c, ttl: ttl}
}

// TryBegin reports whether a refresh may start now. A true result must be
// paired with End.
func (g *RefreshGuard) TryBegin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if g.running {
		return false
	}
	if !g.last.IsZero() && now.Sub(g.last) < g.ttl {
		return false
	}
	g.running = true
	g.last = now
	return true
}

// Force begins a refresh regardless of the TTL. It still refuses to
// overlap a running refresh.
func (g *RefreshGuard) Force() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return false
	}
	g.running = true
	g.last = g.clock.Now()
	return true
}

// End marks the running refresh as finished.
func (g *RefreshGuard) End() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

// Last returns when the most recent refresh started.
func (g *RefreshGuard) Last() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
