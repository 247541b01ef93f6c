package teamsvc_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/daap14/teamsync/internal/cache"
	"github.com/daap14/teamsync/internal/clock"
	"github.com/daap14/teamsync/internal/host"
	"github.com/daap14/teamsync/internal/invite"
	"github.com/daap14/teamsync/internal/protocol"
	"github.com/daap14/teamsync/internal/team"
	"github.com/daap14/teamsync/internal/teamsvc"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- publisher ---

type recordingPublisher struct {
	mu      sync.Mutex
	packets []protocol.Packet
}

func (r *recordingPublisher) Publish(p protocol.Packet) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, p)
	return true
}

// take returns and clears everything published so far.
func (r *recordingPublisher) take() []protocol.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.packets
	r.packets = nil
	return out
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

// --- presence ---

// network is the presence state shared by every process of a fleet.
type network struct {
	mu    sync.Mutex
	owner map[uuid.UUID]string
}

type fakePresence struct {
	net      *network
	serverID string

	mu    sync.Mutex
	local map[uuid.UUID]bool
}

func (p *fakePresence) MarkOnline(_ context.Context, player uuid.UUID, _ string) (bool, error) {
	p.mu.Lock()
	p.local[player] = true
	p.mu.Unlock()

	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	_, existed := p.net.owner[player]
	p.net.owner[player] = p.serverID
	return !existed, nil
}

func (p *fakePresence) MarkOffline(_ context.Context, player uuid.UUID, _ string) (bool, error) {
	p.mu.Lock()
	delete(p.local, player)
	p.mu.Unlock()

	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	if p.net.owner[player] != p.serverID {
		return false, nil
	}
	delete(p.net.owner, player)
	return true, nil
}

func (p *fakePresence) IsLocal(player uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local[player]
}

func (p *fakePresence) LocalPlayers() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uuid.UUID, 0, len(p.local))
	for id := range p.local {
		out = append(out, id)
	}
	return out
}

func (p *fakePresence) IsOnlineNetwork(_ context.Context, player uuid.UUID) bool {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	_, ok := p.net.owner[player]
	return ok
}

// --- host ---

type teleport struct {
	player uuid.UUID
	loc    host.Location
}

type recordingHost struct {
	mu        sync.Mutex
	notices   map[uuid.UUID][]host.Notice
	teleports []teleport
	transfers map[uuid.UUID]string
	names     map[uuid.UUID]string
	refreshed map[uuid.UUID]int
}

func newRecordingHost() *recordingHost {
	return &recordingHost{
		notices:   make(map[uuid.UUID][]host.Notice),
		transfers: make(map[uuid.UUID]string),
		names:     make(map[uuid.UUID]string),
		refreshed: make(map[uuid.UUID]int),
	}
}

func (h *recordingHost) Notify(player uuid.UUID, n host.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notices[player] = append(h.notices[player], n)
}

func (h *recordingHost) Teleport(_ context.Context, player uuid.UUID, loc host.Location) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teleports = append(h.teleports, teleport{player: player, loc: loc})
	return nil
}

func (h *recordingHost) Transfer(_ context.Context, player uuid.UUID, serverID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transfers[player] = serverID
	return nil
}

func (h *recordingHost) PlayerName(player uuid.UUID) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	name, ok := h.names[player]
	return name, ok
}

func (h *recordingHost) RefreshView(player uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshed[player]++
}

func (h *recordingHost) codes(player uuid.UUID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, n := range h.notices[player] {
		out = append(out, n.Code)
	}
	return out
}

func (h *recordingHost) lastNotice(player uuid.UUID) (host.Notice, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ns := h.notices[player]
	if len(ns) == 0 {
		return host.Notice{}, false
	}
	return ns[len(ns)-1], true
}

func (h *recordingHost) teleportsOf(player uuid.UUID) []host.Location {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []host.Location
	for _, tp := range h.teleports {
		if tp.player == player {
			out = append(out, tp.loc)
		}
	}
	return out
}

// --- fleet ---

// fleet is a set of processes sharing one SQLite store, one presence
// network and one fake clock.
type fleet struct {
	t     *testing.T
	path  string
	net   *network
	clock *clock.FakeClock
}

func newFleet(t *testing.T) *fleet {
	t.Helper()
	return &fleet{
		t:     t,
		path:  filepath.Join(t.TempDir(), "teams.db"),
		net:   &network{owner: make(map[uuid.UUID]string)},
		clock: clock.Fake(epoch),
	}
}

type process struct {
	svc      *teamsvc.Service
	repo     *team.SQLiteRepository
	pub      *recordingPublisher
	host     *recordingHost
	presence *fakePresence
}

type processSettings struct {
	cfg        teamsvc.Config
	inviteCap  int
	wrapRepo   func(team.Repository) team.Repository
	noTransfer bool
}

type processOption func(s *processSettings)

func withConfig(fn func(cfg *teamsvc.Config)) processOption {
	return func(s *processSettings) { fn(&s.cfg) }
}

func withInviteCap(n int) processOption {
	return func(s *processSettings) { s.inviteCap = n }
}

// withoutTransfer hides the host's Transfer capability.
func withoutTransfer() processOption {
	return func(s *processSettings) { s.noTransfer = true }
}

// withRepo puts wrap between the service and the shared store.
func withRepo(wrap func(team.Repository) team.Repository) processOption {
	return func(s *processSettings) { s.wrapRepo = wrap }
}

func (f *fleet) process(serverID string, opts ...processOption) *process {
	t := f.t
	t.Helper()

	repo, err := team.OpenSQLite(f.path)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.EnsureSchema(context.Background()))

	settings := processSettings{
		cfg:       teamsvc.Config{ServerID: serverID},
		inviteCap: invite.DefaultCapPerInvitee,
	}
	for _, opt := range opts {
		opt(&settings)
	}
	var svcRepo team.Repository = repo
	if settings.wrapRepo != nil {
		svcRepo = settings.wrapRepo(repo)
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := cache.NewLoop(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	p := &process{
		repo:     repo,
		pub:      &recordingPublisher{},
		host:     newRecordingHost(),
		presence: &fakePresence{net: f.net, serverID: serverID, local: make(map[uuid.UUID]bool)},
	}
	var h host.Host = p.host
	if settings.noTransfer {
		h = struct{ host.Host }{p.host}
	}
	p.svc = teamsvc.New(settings.cfg, teamsvc.Deps{
		Repo:     svcRepo,
		Cache:    cache.New(invite.NewLedger(settings.inviteCap)),
		Loop:     loop,
		Bus:      p.pub,
		Presence: p.presence,
		Host:     host.Negotiate(h),
		Clock:    f.clock,
	})
	require.NoError(t, p.svc.Load(context.Background()))
	return p
}

// player registers a named player with the process host and connects it.
func (p *process) player(t *testing.T, name string) team.Player {
	t.Helper()
	pl := team.Player{ID: uuid.New(), Name: name}
	p.connect(t, pl)
	return pl
}

func (p *process) connect(t *testing.T, pl team.Player) {
	t.Helper()
	p.host.mu.Lock()
	p.host.names[pl.ID] = pl.Name
	p.host.mu.Unlock()
	require.NoError(t, p.svc.PlayerJoined(context.Background(), pl))
}

// deliver hands every packet published by from to the other processes.
func deliver(from *process, to ...*process) {
	for _, pkt := range from.pub.take() {
		for _, p := range to {
			p.svc.HandlePacket(context.Background(), pkt)
		}
	}
}

func packetTypes(packets []protocol.Packet) []string {
	var out []string
	for _, p := range packets {
		switch p := p.(type) {
		case protocol.InvitePacket:
			out = append(out, "invite:"+string(p.Type))
		case protocol.MembershipPacket:
			out = append(out, "membership:"+string(p.Type))
		case protocol.ChatPacket:
			out = append(out, "chat")
		case protocol.PresencePacket:
			out = append(out, "presence:"+string(p.Type))
		case protocol.HomeTeleportPacket:
			out = append(out, "home-teleport")
		}
	}
	return out
}
