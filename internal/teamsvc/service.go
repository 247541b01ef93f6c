// Package teamsvc is the team state machine of one process. It mutates the
// local cache on the single mutator loop, writes every change through to
// the authoritative store before reporting success and then announces it
// on the bus. Inbound packets and store reads are applied back onto the
// loop; nothing here touches the cache from another goroutine.
package teamsvc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/cache"
	"github.com/daap14/teamsync/internal/clock"
	"github.com/daap14/teamsync/internal/host"
	"github.com/daap14/teamsync/internal/protocol"
	"github.com/daap14/teamsync/internal/team"
)

// WriteMode selects how mutations are saved.
type WriteMode string

const (
	// WriteScoped rewrites only the teams and invitees an action touched.
	WriteScoped WriteMode = "scoped"
	// WriteFull deletes the whole table-set and rewrites it from the cache.
	WriteFull WriteMode = "full"
)

const maxNameLength = 32

// Config holds the service's tunables.
type Config struct {
	ServerID           string
	InviteExpiry       time.Duration
	MaxMembers         int
	MaxHomes           int
	RefreshTTL         time.Duration
	TeleportRequestTTL time.Duration
	StoreTimeout       time.Duration
	WriteMode          WriteMode
}

func (c *Config) defaults() {
	if c.InviteExpiry <= 0 {
		c.InviteExpiry = 300 * time.Second
	}
	if c.MaxMembers <= 0 {
		c.MaxMembers = 10
	}
	if c.MaxHomes <= 0 {
		c.MaxHomes = 5
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 10 * time.Second
	}
	if c.TeleportRequestTTL <= 0 {
		c.TeleportRequestTTL = 30 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.WriteMode == "" {
		c.WriteMode = WriteScoped
	}
}

// Publisher sends packets to other processes without blocking.
type Publisher interface {
	Publish(p protocol.Packet) bool
}

// Presence is the subset of the presence tracker the service uses.
type Presence interface {
	MarkOnline(ctx context.Context, player uuid.UUID, name string) (bool, error)
	MarkOffline(ctx context.Context, player uuid.UUID, name string) (bool, error)
	IsLocal(player uuid.UUID) bool
	IsOnlineNetwork(ctx context.Context, player uuid.UUID) bool
	LocalPlayers() []uuid.UUID
}

// Service implements every team operation for one process.
type Service struct {
	cfg      Config
	repo     team.Repository
	cache    *cache.Cache
	loop     *cache.Loop
	pub      Publisher
	presence Presence
	host     *host.Capabilities
	clock    clock.Clock
	guard    *cache.RefreshGuard

	// saveMu orders mutate-then-persist so store writes commit in the
	// order the cache saw them. Store reloads hold the read side from
	// reading the generation until the result is applied, so they never
	// load rows a pending write has not committed yet.
	saveMu sync.RWMutex

	// Owned by the loop.
	pending map[uuid.UUID]teleportRequest
}

// Deps are the collaborators of a Service.
type Deps struct {
	Repo     team.Repository
	Cache    *cache.Cache
	Loop     *cache.Loop
	Bus      Publisher
	Presence Presence
	Host     *host.Capabilities
	Clock    clock.Clock
}

// New creates a Service. The caller runs deps.Loop.
func New(cfg Config, deps Deps) *Service {
	cfg.defaults()
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	return &Service{
		cfg:      cfg,
		repo:     deps.Repo,
		cache:    deps.Cache,
		loop:     deps.Loop,
		pub:      deps.Bus,
		presence: deps.Presence,
		host:     deps.Host,
		clock:    deps.Clock,
		guard:    cache.NewRefreshGuard(cfg.RefreshTTL, deps.Clock),
		pending:  make(map[uuid.UUID]teleportRequest),
	}
}

// ServerID returns the local process id.
func (s *Service) ServerID() string {
	return s.cfg.ServerID
}

// Stats is a point-in-time view of what this process holds.
type Stats struct {
	Teams            int
	LocalPlayers     int
	PendingTeleports int
	LastRefresh      time.Time
}

// Stats reads the cache and presence counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		LocalPlayers: len(s.presence.LocalPlayers()),
		LastRefresh:  s.guard.Last(),
	}
	err := s.loop.Do(ctx, func() {
		st.Teams = s.cache.Len()
		st.PendingTeleports = len(s.pending)
	})
	return st, err
}

// notice is a host notification queued by a mutation.
type notice struct {
	player uuid.UUID
	n      host.Notice
}

// change is what a mutation produced: the rows to persist, the packets to
// announce and the local players to notify.
type change struct {
	scope   team.Scope
	packets []protocol.Packet
	notices []notice
}

// mutate runs fn on the loop, persists the rows it touched and, only if
// that succeeded, publishes packets and delivers notices.
func (s *Service) mutate(ctx context.Context, fn func(now time.Time) (change, error)) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	var (
		ch    change
		opErr error
		snap  *team.Snapshot
	)
	err := s.loop.Do(ctx, func() {
		now := s.clock.Now()
		ch, opErr = fn(now)
		if opErr != nil || ch.scope.Empty() {
			return
		}
		if s.cfg.WriteMode == WriteFull {
			snap = s.cache.Snapshot(now)
		} else {
			snap = s.cache.Partial(ch.scope, now)
		}
	})
	if err != nil {
		return fmt.Errorf("running mutation: %w", err)
	}
	if opErr != nil {
		return opErr
	}

	if snap != nil {
		if err := s.persist(ctx, snap, ch.scope); err != nil {
			return err
		}
	}

	for _, p := range ch.packets {
		s.pub.Publish(p)
	}
	for _, n := range ch.notices {
		s.host.Notify(n.player, n.n)
	}
	return nil
}

func (s *Service) persist(ctx context.Context, snap *team.Snapshot, scope team.Scope) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	var err error
	if s.cfg.WriteMode == WriteFull {
		err = s.repo.SaveSnapshot(ctx, snap)
	} else {
		err = s.repo.SaveScoped(ctx, snap, scope)
	}
	if err != nil {
		slog.Error("store write failed; cache holds unpersisted change", "mode", s.cfg.WriteMode, "error", err)
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}

// localNotices addresses n to every member of t connected here, skipping
// except.
func (s *Service) localNotices(t *team.Team, n host.Notice, except ...uuid.UUID) []notice {
	skip := make(map[uuid.UUID]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}
	var out []notice
	for _, m := range t.MemberIDs() {
		if _, ok := skip[m]; ok {
			continue
		}
		if s.presence.IsLocal(m) {
			out = append(out, notice{player: m, n: n})
		}
	}
	return out
}

func (s *Service) notifyLocalMembers(t *team.Team, n host.Notice, except ...uuid.UUID) {
	for _, ln := range s.localNotices(t, n, except...) {
		s.host.Notify(ln.player, ln.n)
	}
}

func (s *Service) membershipPacket(typ protocol.MembershipType, t *team.Team, actor team.Player, target uuid.UUID, now time.Time) protocol.MembershipPacket {
	p := protocol.MembershipPacket{
		Origin:    s.cfg.ServerID,
		Type:      typ,
		TeamID:    t.ID,
		TeamName:  t.Name,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		TargetID:  target,
		AtMs:      protocol.Millis(now),
	}
	if target != uuid.Nil {
		p.TargetName = s.host.PlayerName(target)
	}
	return p
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > maxNameLength {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(name, "\r\n") {
		return "", ErrInvalidName
	}
	return name, nil
}

// ownedTeam returns the team player owns, on the loop.
func (s *Service) ownedTeam(player uuid.UUID) (*team.Team, error) {
	t, ok := s.cache.TeamOf(player)
	if !ok {
		return nil, ErrNotInTeam
	}
	if t.Owner != player {
		return nil, ErrNotOwner
	}
	return t, nil
}

func args(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}
