package teamsvc_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/teamsync/internal/team"
	"github.com/daap14/teamsync/internal/teamsvc"
)

// gatedRepo holds the next scoped save until release is closed.
type gatedRepo struct {
	team.Repository

	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedRepo() *gatedRepo {
	return &gatedRepo{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (g *gatedRepo) wrap(inner team.Repository) team.Repository {
	g.Repository = inner
	return g
}

func (g *gatedRepo) SaveScoped(ctx context.Context, snap *team.Snapshot, scope team.Scope) error {
	if g.armed.CompareAndSwap(true, false) {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Repository.SaveScoped(ctx, snap, scope)
}

func teamsWithMember(snap *team.Snapshot, player team.Player) int {
	n := 0
	for _, t := range snap.Teams {
		if t.HasMember(player.ID) {
			n++
		}
	}
	return n
}

func TestRefresh_WaitsForPendingWrite(t *testing.T) {
	ctx := context.Background()
	gate := newGatedRepo()
	a := newFleet(t).process("a", withRepo(gate.wrap))
	alice := a.player(t, "alice")

	gate.armed.Store(true)
	created := make(chan error, 1)
	go func() {
		_, err := a.svc.CreateTeam(ctx, alice, "wolves")
		created <- err
	}()
	<-gate.entered

	refreshed := make(chan error, 1)
	go func() {
		_, err := a.svc.Refresh(ctx, true)
		refreshed <- err
	}()
	assert.Never(t, func() bool { return len(refreshed) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(gate.release)
	require.NoError(t, <-created)
	require.NoError(t, <-refreshed)

	view, err := a.svc.TeamOf(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "wolves", view.Team.Name)

	_, err = a.svc.CreateTeam(ctx, alice, "bears")
	require.ErrorIs(t, err, teamsvc.ErrAlreadyInTeam)

	snap, err := a.repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, teamsWithMember(snap, alice))
}

func TestBrowseTeams_DuringPendingWriteKeepsLocalChange(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	gate := newGatedRepo()
	a := f.process("a", withRepo(gate.wrap))
	alice := a.player(t, "alice")
	f.clock.Advance(time.Minute)

	gate.armed.Store(true)
	created := make(chan error, 1)
	go func() {
		_, err := a.svc.CreateTeam(ctx, alice, "wolves")
		created <- err
	}()
	<-gate.entered

	browsed := make(chan []*team.Team, 1)
	go func() {
		teams, err := a.svc.BrowseTeams(ctx)
		assert.NoError(t, err)
		browsed <- teams
	}()

	close(gate.release)
	require.NoError(t, <-created)
	<-browsed

	view, err := a.svc.TeamOf(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "wolves", view.Team.Name)
}

func TestInvite_KeepsRowsFromAnnouncementNeverReceived(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	a, b := f.process("a"), f.process("b")
	alice := a.player(t, "alice")
	bob := b.player(t, "bob")
	xavier := a.player(t, "xavier")
	teamWith(t, a, alice, "alpha")
	teamWith(t, b, bob, "beta")

	_, err := b.svc.Invite(ctx, bob, xavier.ID)
	require.NoError(t, err)
	// a never hears about b's invite.
	b.pub.take()

	_, err = a.svc.Invite(ctx, alice, xavier.ID)
	require.NoError(t, err)

	stored, err := a.repo.LoadInvitesFor(ctx, xavier.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	sum, err := a.svc.InvitesFor(ctx, xavier.ID)
	require.NoError(t, err)
	assert.Len(t, sum.Invites, 2)

	n, ok := a.host.lastNotice(xavier.ID)
	require.True(t, ok)
	assert.Equal(t, "true", n.Args["competing"])
}

func TestAcceptInvite_StaleTeamKeepsCommittedMembers(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	a, b := f.process("a"), f.process("b")
	alice, carol, dave := a.player(t, "alice"), a.player(t, "carol"), a.player(t, "dave")
	tm := teamWith(t, a, alice, "alpha")

	_, err := b.svc.Refresh(ctx, true)
	require.NoError(t, err)

	// carol joins on a; b's copy of the team misses it.
	_, err = a.svc.Invite(ctx, alice, carol.ID)
	require.NoError(t, err)
	_, err = a.svc.AcceptInvite(ctx, carol, tm.ID)
	require.NoError(t, err)
	a.pub.take()

	_, err = a.svc.Invite(ctx, alice, dave.ID)
	require.NoError(t, err)
	deliver(a, b)

	joined, err := b.svc.AcceptInvite(ctx, dave, tm.ID)
	require.NoError(t, err)
	assert.Len(t, joined.Members, 3)

	stored, _, err := a.repo.LoadTeam(ctx, tm.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasMember(alice.ID))
	assert.True(t, stored.HasMember(carol.ID))
	assert.True(t, stored.HasMember(dave.ID))
}

func TestDisband_KeepsInviteesOtherInvites(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	a, b := f.process("a"), f.process("b")
	alice := a.player(t, "alice")
	bob := b.player(t, "bob")
	xavier := a.player(t, "xavier")
	teamWith(t, a, alice, "alpha")
	beta := teamWith(t, b, bob, "beta")

	_, err := b.svc.Invite(ctx, bob, xavier.ID)
	require.NoError(t, err)
	b.pub.take()
	_, err = a.svc.Invite(ctx, alice, xavier.ID)
	require.NoError(t, err)

	require.NoError(t, a.svc.Disband(ctx, alice))

	stored, err := a.repo.LoadInvitesFor(ctx, xavier.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, beta.ID, stored[0].TeamID)
}

func TestSweepInvites_KeepsLiveRowsFromOtherProcesses(t *testing.T) {
	ctx := context.Background()
	f := newFleet(t)
	a, b := f.process("a"), f.process("b")
	alice := a.player(t, "alice")
	bob := b.player(t, "bob")
	xavier := a.player(t, "xavier")
	teamWith(t, a, alice, "alpha")
	beta := teamWith(t, b, bob, "beta")

	_, err := a.svc.Invite(ctx, alice, xavier.ID)
	require.NoError(t, err)
	f.clock.Advance(200 * time.Second)
	_, err = b.svc.Invite(ctx, bob, xavier.ID)
	require.NoError(t, err)
	b.pub.take()

	f.clock.Advance(100 * time.Second)
	n, err := a.svc.SweepInvites(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := a.repo.LoadInvitesFor(ctx, xavier.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, beta.ID, stored[0].TeamID)
}
