package cache_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/teamsync/internal/cache"
	"github.com/daap14/teamsync/internal/invite"
	"github.com/daap14/teamsync/internal/team"
)

var now = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func newCache() *cache.Cache {
	return cache.New(invite.NewLedger(invite.DefaultCapPerInvitee))
}

func TestPutTeam_IndexesMembers(t *testing.T) {
	c := newCache()
	owner, member := uuid.New(), uuid.New()
	tm := team.New(uuid.New(), "alpha", owner, now)
	tm.Members[member] = struct{}{}

	c.PutTeam(tm)

	id, ok := c.TeamIDOf(member)
	require.True(t, ok)
	assert.Equal(t, tm.ID, id)
	got, ok := c.TeamOf(owner)
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Name)

	byName, ok := c.TeamByName("ALPHA")
	require.True(t, ok)
	assert.Equal(t, tm.ID, byName.ID)
}

func TestPutTeam_StoresCopy(t *testing.T) {
	c := newCache()
	tm := team.New(uuid.New(), "alpha", uuid.New(), now)
	c.PutTeam(tm)

	tm.Name = "mutated"
	got, _ := c.Team(tm.ID)
	assert.Equal(t, "alpha", got.Name)

	got.Members[uuid.New()] = struct{}{}
	again, _ := c.Team(tm.ID)
	assert.Len(t, again.Members, 1)
}

func TestPutTeam_DropsRemovedMembersFromIndex(t *testing.T) {
	c := newCache()
	member := uuid.New()
	tm := team.New(uuid.New(), "alpha", uuid.New(), now)
	tm.Members[member] = struct{}{}
	c.PutTeam(tm)

	delete(tm.Members, member)
	c.PutTeam(tm)

	_, ok := c.TeamIDOf(member)
	assert.False(t, ok)
}

func TestPutTeam_MovesMemberOutOfStaleTeam(t *testing.T) {
	c := newCache()
	player := uuid.New()
	stale := team.New(uuid.New(), "stale", uuid.New(), now)
	stale.Members[player] = struct{}{}
	c.PutTeam(stale)

	fresh := team.New(uuid.New(), "fresh", uuid.New(), now)
	fresh.Members[player] = struct{}{}
	c.PutTeam(fresh)

	id, _ := c.TeamIDOf(player)
	assert.Equal(t, fresh.ID, id)
	old, _ := c.Team(stale.ID)
	assert.False(t, old.HasMember(player))
}

func TestRemoveTeam_ClearsIndexHomesAndInvites(t *testing.T) {
	c := newCache()
	owner := uuid.New()
	tm := team.New(uuid.New(), "alpha", owner, now)
	c.PutTeam(tm)
	c.PutHome(team.Home{TeamID: tm.ID, Key: "base"})
	invitee := uuid.New()
	_, err := c.Invites().Create(invite.Invite{InviteeID: invitee, TeamID: tm.ID, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}, now)
	require.NoError(t, err)

	removed, invites, ok := c.RemoveTeam(tm.ID)
	require.True(t, ok)
	assert.Equal(t, tm.ID, removed.ID)
	assert.Len(t, invites, 1)

	_, ok = c.TeamIDOf(owner)
	assert.False(t, ok)
	assert.Empty(t, c.Homes(tm.ID))
	assert.Equal(t, 0, c.Invites().PendingForTarget(invitee, now))

	_, _, ok = c.RemoveTeam(tm.ID)
	assert.False(t, ok)
}

func TestForgetMember_KeepsOwner(t *testing.T) {
	c := newCache()
	owner, member := uuid.New(), uuid.New()
	tm := team.New(uuid.New(), "alpha", owner, now)
	tm.Members[member] = struct{}{}
	c.PutTeam(tm)

	c.ForgetMember(member)
	c.ForgetMember(owner)

	_, ok := c.TeamIDOf(member)
	assert.False(t, ok)
	_, ok = c.TeamIDOf(owner)
	assert.True(t, ok)
	got, _ := c.Team(tm.ID)
	assert.Equal(t, []uuid.UUID{owner}, got.MemberIDs())
}

func TestHomes(t *testing.T) {
	c := newCache()
	id := uuid.New()
	c.PutHome(team.Home{TeamID: id, Key: "mine"})
	c.PutHome(team.Home{TeamID: id, Key: "base"})

	homes := c.Homes(id)
	require.Len(t, homes, 2)
	assert.Equal(t, "base", homes[0].Key)
	assert.Equal(t, 2, c.HomeCount(id))

	assert.True(t, c.RemoveHome(id, "base"))
	assert.False(t, c.RemoveHome(id, "base"))
	_, ok := c.Home(id, "mine")
	assert.True(t, ok)
}

func TestReplace_SwapsWholeState(t *testing.T) {
	c := newCache()
	gone := team.New(uuid.New(), "gone", uuid.New(), now)
	c.PutTeam(gone)

	kept := team.New(uuid.New(), "kept", uuid.New(), now)
	invitee := uuid.New()
	snap := &team.Snapshot{
		Teams:   []*team.Team{kept},
		Homes:   []team.Home{{TeamID: kept.ID, Key: "base"}, {TeamID: uuid.New(), Key: "orphan"}},
		Invites: []invite.Invite{{InviteeID: invitee, TeamID: kept.ID, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}},
	}

	assert.True(t, c.Replace(snap, c.Generation()))

	_, ok := c.Team(gone.ID)
	assert.False(t, ok)
	_, ok = c.TeamIDOf(gone.Owner)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
	assert.Len(t, c.Homes(kept.ID), 1)
	assert.Equal(t, 1, c.Invites().PendingForTarget(invitee, now))
}

func TestReplace_RejectsStaleGeneration(t *testing.T) {
	c := newCache()
	gen := c.Generation()

	local := team.New(uuid.New(), "local", uuid.New(), now)
	c.PutTeam(local)

	assert.False(t, c.Replace(&team.Snapshot{}, gen))
	_, ok := c.Team(local.ID)
	assert.True(t, ok)
}

func TestApplyTeamAndDropTeam(t *testing.T) {
	c := newCache()
	tm := team.New(uuid.New(), "alpha", uuid.New(), now)

	assert.True(t, c.ApplyTeam(tm, []team.Home{{TeamID: tm.ID, Key: "base"}}, c.Generation()))
	assert.Equal(t, 1, c.HomeCount(tm.ID))

	stale := c.Generation()
	c.TouchInvites()
	assert.False(t, c.DropTeam(tm.ID, stale))
	assert.True(t, c.DropTeam(tm.ID, c.Generation()))
	assert.Equal(t, 0, c.Len())
}

func TestApplyInvites(t *testing.T) {
	c := newCache()
	invitee := uuid.New()
	inv := invite.Invite{InviteeID: invitee, TeamID: uuid.New(), CreatedAt: now, ExpiresAt: now.Add(time.Minute)}

	assert.True(t, c.ApplyInvites(invitee, []invite.Invite{inv}, c.Generation()))
	assert.Equal(t, 1, c.Invites().PendingForTarget(invitee, now))
}

func TestSnapshotAndPartial(t *testing.T) {
	c := newCache()
	a := team.New(uuid.New(), "a", uuid.New(), now)
	b := team.New(uuid.New(), "b", uuid.New(), now)
	c.PutTeam(a)
	c.PutTeam(b)
	c.PutHome(team.Home{TeamID: a.ID, Key: "base"})
	invitee := uuid.New()
	_, _ = c.Invites().Create(invite.Invite{InviteeID: invitee, TeamID: b.ID, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}, now)
	_, _ = c.Invites().Create(invite.Invite{InviteeID: uuid.New(), TeamID: b.ID, CreatedAt: now, ExpiresAt: now.Add(time.Second)}, now)

	full := c.Snapshot(now.Add(2 * time.Second))
	assert.Len(t, full.Teams, 2)
	assert.Len(t, full.Homes, 1)
	assert.Len(t, full.Invites, 1)

	part := c.Partial(team.Scope{Teams: []uuid.UUID{a.ID, uuid.New()}, Invitees: []uuid.UUID{invitee}}, now)
	require.Len(t, part.Teams, 1)
	assert.Equal(t, a.ID, part.Teams[0].ID)
	assert.Len(t, part.Homes, 1)
	assert.Len(t, part.Invites, 1)
}

func TestTeams_SortedByName(t *testing.T) {
	c := newCache()
	c.PutTeam(team.New(uuid.New(), "zeta", uuid.New(), now))
	c.PutTeam(team.New(uuid.New(), "Alpha", uuid.New(), now))

	teams := c.Teams()
	require.Len(t, teams, 2)
	assert.Equal(t, "Alpha", teams[0].Name)
}
