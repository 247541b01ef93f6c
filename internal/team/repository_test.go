package team_test

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/teamsync/internal/invite"
	"github.com/daap14/teamsync/internal/team"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func setupSQLiteRepo(t *testing.T) team.Repository {
	t.Helper()

	repo, err := team.OpenSQLite(filepath.Join(t.TempDir(), "teams.sqlite"))
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func newTeam(name string, members ...uuid.UUID) *team.Team {
	owner := uuid.New()
	tm := team.New(uuid.New(), name, owner, epoch)
	for _, m := range members {
		tm.Members[m] = struct{}{}
	}
	return tm
}

func newHome(teamID uuid.UUID, name string) team.Home {
	return team.Home{
		TeamID:      teamID,
		Key:         team.NormalizeHomeKey(name),
		DisplayName: name,
		World:       "overworld",
		X:           10.5,
		Y:           64,
		Z:           -3.25,
		Yaw:         90,
		Pitch:       -10,
		ServerID:    "proc-1",
		CreatedAt:   epoch,
		CreatedBy:   uuid.New(),
	}
}

func newInvite(invitee uuid.UUID, tm *team.Team) invite.Invite {
	return invite.Invite{
		InviteeID: invitee,
		TeamID:    tm.ID,
		TeamName:  tm.Name,
		InviterID: tm.Owner,
		CreatedAt: epoch,
		ExpiresAt: epoch.Add(5 * time.Minute),
	}
}

func assertSameSnapshot(t *testing.T, want, got *team.Snapshot) {
	t.Helper()

	require.Len(t, got.Teams, len(want.Teams))
	wantTeams := map[uuid.UUID]*team.Team{}
	for _, tm := range want.Teams {
		wantTeams[tm.ID] = tm
	}
	for _, g := range got.Teams {
		w, ok := wantTeams[g.ID]
		require.True(t, ok, "unexpected team %s", g.ID)
		assert.Equal(t, w.Name, g.Name)
		assert.Equal(t, w.Owner, g.Owner)
		assert.Equal(t, w.FriendlyFire, g.FriendlyFire)
		assert.Equal(t, w.MemberIDs(), g.MemberIDs())
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt))
	}

	require.Len(t, got.Homes, len(want.Homes))
	key := func(h team.Home) string { return h.TeamID.String() + "/" + h.Key }
	sort.Slice(want.Homes, func(i, j int) bool { return key(want.Homes[i]) < key(want.Homes[j]) })
	sort.Slice(got.Homes, func(i, j int) bool { return key(got.Homes[i]) < key(got.Homes[j]) })
	for i := range want.Homes {
		w, g := want.Homes[i], got.Homes[i]
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt))
		w.CreatedAt, g.CreatedAt = time.Time{}, time.Time{}
		assert.Equal(t, w, g)
	}

	require.Len(t, got.Invites, len(want.Invites))
	ikey := func(i invite.Invite) string { return i.InviteeID.String() + "/" + i.TeamID.String() }
	sort.Slice(want.Invites, func(i, j int) bool { return ikey(want.Invites[i]) < ikey(want.Invites[j]) })
	sort.Slice(got.Invites, func(i, j int) bool { return ikey(got.Invites[i]) < ikey(got.Invites[j]) })
	for i := range want.Invites {
		w, g := want.Invites[i], got.Invites[i]
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt))
		assert.True(t, w.ExpiresAt.Equal(g.ExpiresAt))
		w.CreatedAt, g.CreatedAt, w.ExpiresAt, g.ExpiresAt = time.Time{}, time.Time{}, time.Time{}, time.Time{}
		assert.Equal(t, w, g)
	}
}

// runRepositoryTests exercises the behaviour every Repository must share.
func runRepositoryTests(t *testing.T, setup func(t *testing.T) team.Repository) {
	t.Run("SaveThenLoad", func(t *testing.T) {
		repo := setup(t)
		ctx := context.Background()

		a := newTeam("alpha", uuid.New(), uuid.New())
		a.FriendlyFire = true
		b := newTeam("beta")
		snap := &team.Snapshot{
			Teams:   []*team.Team{a, b},
			Homes:   []team.Home{newHome(a.ID, "Base"), newHome(a.ID, "Mine")},
			Invites: []invite.Invite{newInvite(uuid.New(), a), newInvite(uuid.New(), b)},
		}
		require.NoError(t, repo.SaveSnapshot(ctx, snap))

		got, err := repo.LoadSnapshot(ctx)
		require.NoError(t, err)
		assertSameSnapshot(t, snap, got)
	})

	t.Run("SaveSnapshotReplacesEverything", func(t *testing.T) {
		repo := setup(t)
		ctx := context.Background()

		old := newTeam("old")
		require.NoError(t, repo.SaveSnapshot(ctx, &team.Snapshot{Teams: []*team.Team{old}}))

		fresh := newTeam("fresh")
		next := &team.Snapshot{Teams: []*team.Team{fresh}}
		require.NoError(t, repo.SaveSnapshot(ctx, next))

		got, err := repo.LoadSnapshot(ctx)
		require.NoError(t, err)
		assertSameSnapshot(t, next, got)
	})

	t.Run("FailedSaveRollsBack", func(t *testing.T) {
		repo := setup(t)
		ctx := context.Background()

		a := newTeam("alpha", uuid.New())
		before := &team.Snapshot{
			Teams:   []*team.Team{a},
			Homes:   []team.Home{newHome(a.ID, "base")},
			Invites: []invite.Invite{newInvite(uuid.New(), a)},
		}
		require.NoError(t, repo.SaveSnapshot(ctx, before))

		// The second team violates the non-empty name constraint after the
		// deletes and the first insert have already run.
		broken := &team.Snapshot{Teams: []*team.Team{newTeam("gamma", uuid.New()), newTeam("")}}
		require.Error(t, repo.SaveSnapshot(ctx, broken))

		got, err := repo.LoadSnapshot(ctx)
		require.NoError(t, err)
		assertSameSnapshot(t, before, got)
	})

	t.Run("ScopedSaveLeavesOtherTeamsAlone", func(t *testing.T) {
		repo := setup(t)
		ctx := context.Background()

		mine := newTeam("mine")
		theirs := newTeam("theirs", uuid.New())
		require.NoError(t, repo.SaveSnapshot(ctx, &team.Snapshot{
			Teams: []*team.Team{mine, theirs},
			Homes: []team.Home{newHome(theirs.ID, "base")},
		}))

		// This process never saw "theirs"; a scoped write must not erase it.
		joiner := uuid.New()
		updated := mine.Clone()
		updated.Members[joiner] = struct{}{}
		updated.Name = "mine-renamed"
		err := repo.SaveScoped(ctx, &team.Snapshot{Teams: []*team.Team{updated}}, team.Scope{Teams: []uuid.UUID{mine.ID}})
		require.NoError(t, err)

		got, err := repo.LoadSnapshot(ctx)
		require.NoError(t, err)
		assertSameSnapshot(t, &team.Snapshot{
			Teams: []*team.Team{updated, theirs},
			Homes: []team.Home{newHome(theirs.ID, "base")},
		}, got)
	})

	t.Run("ScopedSaveDeletesRemovedTeamAndItsInvites", func(t *testing.T) {
		repo := setup(t)
		ctx := context.Background()

		doomed := newTeam("doomed", uuid.New())
		other := newTeam("other")
		invitee := uuid.New()
		keep := newInvite(invitee, other)
		require.NoError(t, repo.SaveSnapshot(ctx, &team.Snapshot{
			Teams:   []*team.Team{doomed, other},
			Homes:   []team.Home{newHome(doomed.ID, "base")},
			Invites: []invite.Invite{newInvite(invitee, doomed), newInvite(uuid.New(), doomed), keep},
		}))

		require.NoError(t, repo.SaveScoped(ctx, &team.Snapshot{}, team.Scope{Teams: []uuid.UUID{doomed.ID}}))

		got, err := repo.LoadSnapshot(ctx)
		require.NoError(t, err)
		assertSameSnapshot(t, &team.Snapshot{Teams: []*team.Team{other}, Invites: []invite.Invite{keep}}, got)

		_, err = repo.FindTeamIDByMember(ctx, doomed.Owner)
		assert.ErrorIs(t, err, team.ErrTeamNotFound)
	})

	t.Run("ScopedSaveRewritesInviteesOnly", func(t *testing.T) {
		repo := setup(t)
		ctx := context.Background()

		tm := newTeam("t")
		a, b := uuid.New(), uuid.New()
		invB := newInvite(b, tm)
		require.NoError(t, repo.SaveSnapshot(ctx, &team.Snapshot{
			Teams:   []*team.Team{tm},
			Invites: []invite.Invite{newInvite(a, tm), invB},
		}))

		require.NoError(t, repo.SaveScoped(ctx, &team.Snapshot{Teams: []*team.Team{tm}}, team.Scope{Invitees: []uuid.UUID{a}}))

		invites, err := repo.LoadInvitesFor(ctx, a)
		require.NoError(t, err)
		assert.Empty(t, invites)
		invites, err = repo.LoadInvitesFor(ctx, b)
		require.NoError(t, err)
		require.Len(t, invites, 1)
		assert.Equal(t, tm.ID, invites[0].TeamID)
		assert.Equal(t, "t", invites[0].TeamName)
	})

	t.Run("EmptyScopeIsNoop", func(t *testing.T) {
		repo := setup(t)
		ctx := context.Background()

		tm := newTeam("t")
		require.NoError(t, repo.SaveSnapshot(ctx, &team.Snapshot{Teams: []*team.Team{tm}}))
		require.NoError(t, repo.SaveScoped(ctx, &team.Snapshot{}, team.Scope{}))

		got, err := repo.LoadSnapshot(ctx)
		require.NoError(t, err)
		assert.Len(t, got.Teams, 1)
	})

	t.Run("TargetedBackfill", func(t *testing.T) {
		repo := setup(t)
		ctx := context.Background()

		member := uuid.New()
		tm := newTeam("alpha", member)
		require.NoError(t, repo.SaveSnapshot(ctx, &team.Snapshot{
			Teams: []*team.Team{tm, newTeam("beta")},
			Homes: []team.Home{newHome(tm.ID, "base")},
		}))

		id, err := repo.FindTeamIDByMember(ctx, member)
		require.NoError(t, err)
		assert.Equal(t, tm.ID, id)

		loaded, homes, err := repo.LoadTeam(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, tm.MemberIDs(), loaded.MemberIDs())
		assert.Equal(t, tm.Owner, loaded.Owner)
		require.Len(t, homes, 1)
		assert.Equal(t, "base", homes[0].Key)

		_, err = repo.FindTeamIDByMember(ctx, uuid.New())
		assert.ErrorIs(t, err, team.ErrTeamNotFound)
		_, _, err = repo.LoadTeam(ctx, uuid.New())
		assert.ErrorIs(t, err, team.ErrTeamNotFound)
	})

	t.Run("Ping", func(t *testing.T) {
		repo := setup(t)
		assert.NoError(t, repo.Ping(context.Background()))
	})
}

func TestSQLiteRepository(t *testing.T) {
	runRepositoryTests(t, setupSQLiteRepo)
}

func TestSQLiteRepository_EnsureSchemaIsIdempotent(t *testing.T) {
	repo := setupSQLiteRepo(t)
	assert.NoError(t, repo.EnsureSchema(context.Background()))
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := team.OpenSQLite("")
	assert.Error(t, err)
}
