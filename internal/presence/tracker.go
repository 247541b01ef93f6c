// Package presence tracks which process currently owns each online player.
//
// Ownership lives in a TTL-bounded broker key per player. ONLINE is
// published only when a claim creates the key; OFFLINE is published only
// after a delay and only if no other process has claimed the player in
// the meantime, so moving between processes does not flicker.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/broker"
	"github.com/daap14/teamsync/internal/clock"
	"github.com/daap14/teamsync/internal/protocol"
)

// Publisher sends packets to the rest of the fleet.
type Publisher interface {
	Publish(p protocol.Packet) bool
}

// Options configures a Tracker.
type Options struct {
	ServerID     string
	KeyPrefix    string
	TTL          time.Duration
	OfflineDelay time.Duration
	Heartbeat    time.Duration
	OpTimeout    time.Duration
	Clock        clock.Clock
}

// Tracker maintains presence keys for the players connected to this process.
type Tracker struct {
	broker broker.Broker
	pub    Publisher
	opts   Options

	mu    sync.Mutex
	local map[uuid.UUID]string
}

// NewTracker creates a Tracker for the process identified by opts.ServerID.
func NewTracker(b broker.Broker, pub Publisher, opts Options) *Tracker {
	if opts.TTL <= 0 {
		opts.TTL = 25 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Second
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 3 * time.Second
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "presence:"
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Tracker{
		broker: b,
		pub:    pub,
		opts:   opts,
		local:  make(map[uuid.UUID]string),
	}
}

func (t *Tracker) key(player uuid.UUID) string {
	return t.opts.KeyPrefix + player.String()
}

// MarkOnline records player as connected here and claims its presence
// key. It reports whether the claim created the key, which is the only
// case that publishes ONLINE.
func (t *Tracker) MarkOnline(ctx context.Context, player uuid.UUID, name string) (bool, error) {
	t.mu.Lock()
	t.local[player] = name
	t.mu.Unlock()

	return t.claim(ctx, player, name)
}

func (t *Tracker) claim(ctx context.Context, player uuid.UUID, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.OpTimeout)
	defer cancel()

	created, err := t.broker.SetNX(ctx, t.key(player), t.opts.ServerID, t.opts.TTL)
	if err != nil {
		return false, fmt.Errorf("claiming presence: %w", err)
	}
	if created {
		t.publish(protocol.PresenceOnline, player, name)
		return true, nil
	}

	// Already present somewhere: take ownership and refresh the TTL.
	if err := t.broker.Set(ctx, t.key(player), t.opts.ServerID, t.opts.TTL); err != nil {
		return false, fmt.Errorf("refreshing presence: %w", err)
	}
	return false, nil
}

// MarkOffline forgets player locally, waits the offline delay, then
// releases the presence key and publishes OFFLINE unless the player has
// reconnected here or another process owns the key by then. It blocks for
// the delay; callers run it off the main loop.
func (t *Tracker) MarkOffline(ctx context.Context, player uuid.UUID, name string) (bool, error) {
	t.mu.Lock()
	delete(t.local, player)
	t.mu.Unlock()

	if t.opts.OfflineDelay > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.opts.Clock.After(t.opts.OfflineDelay):
		}
	}

	if t.IsLocal(player) {
		return false, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, t.opts.OpTimeout)
	defer cancel()

	owner, found, err := t.broker.Get(opCtx, t.key(player))
	if err != nil {
		return false, fmt.Errorf("reading presence owner: %w", err)
	}
	if found {
		if owner != t.opts.ServerID {
			slog.Debug("presence: player moved; skipping offline", "player", player, "owner", owner)
			return false, nil
		}
		deleted, err := t.broker.CompareAndDelete(opCtx, t.key(player), t.opts.ServerID)
		if err != nil {
			return false, fmt.Errorf("releasing presence: %w", err)
		}
		if !deleted {
			return false, nil
		}
	}

	t.publish(protocol.PresenceOffline, player, name)
	return true, nil
}

// IsOnlineNetwork reports whether any process owns player. Broker errors
// read as offline.
func (t *Tracker) IsOnlineNetwork(ctx context.Context, player uuid.UUID) bool {
	_, ok := t.OwnerOf(ctx, player)
	return ok
}

// OwnerOf returns the process that owns player, if known.
func (t *Tracker) OwnerOf(ctx context.Context, player uuid.UUID) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.OpTimeout)
	defer cancel()

	owner, found, err := t.broker.Get(ctx, t.key(player))
	if err != nil {
		slog.Debug("presence: owner lookup failed", "player", player, "error", err)
		return "", false
	}
	return owner, found
}

// IsLocal reports whether player is connected to this process.
func (t *Tracker) IsLocal(player uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.local[player]
	return ok
}

// LocalPlayers returns the ids of players connected here, sorted.
func (t *Tracker) LocalPlayers() []uuid.UUID {
	t.mu.Lock()
	ids := make([]uuid.UUID, 0, len(t.local))
	for id := range t.local {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Heartbeat re-asserts the presence key of every local player once.
func (t *Tracker) Heartbeat(ctx context.Context) {
	t.mu.Lock()
	players := make(map[uuid.UUID]string, len(t.local))
	for id, name := range t.local {
		players[id] = name
	}
	t.mu.Unlock()

	for id, name := range players {
		if ctx.Err() != nil {
			return
		}
		if _, err := t.claim(ctx, id, name); err != nil {
			slog.Warn("presence: heartbeat failed", "player", id, "error", err)
		}
	}
}

// Run heartbeats on the configured period until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := t.opts.Clock.NewTicker(t.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Heartbeat(ctx)
		}
	}
}

func (t *Tracker) publish(typ protocol.PresenceType, player uuid.UUID, name string) {
	t.pub.Publish(protocol.PresencePacket{
		Origin:     t.opts.ServerID,
		Type:       typ,
		PlayerID:   player,
		PlayerName: name,
		ServerID:   t.opts.ServerID,
		AtMs:       protocol.Millis(t.opts.Clock.Now()),
	})
}
