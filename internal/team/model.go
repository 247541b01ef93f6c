package team

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/invite"
)

// Team is a group of players with one owner. The owner is always a member.
type Team struct {
	ID           uuid.UUID
	Name         string
	Owner        uuid.UUID
	Members      map[uuid.UUID]struct{}
	FriendlyFire bool
	CreatedAt    time.Time
}

// New creates a team owned by owner with owner as its only member.
func New(id uuid.UUID, name string, owner uuid.UUID, createdAt time.Time) *Team {
	return &Team{
		ID:        id,
		Name:      name,
		Owner:     owner,
		Members:   map[uuid.UUID]struct{}{owner: {}},
		CreatedAt: createdAt,
	}
}

// HasMember reports whether player belongs to the team.
func (t *Team) HasMember(player uuid.UUID) bool {
	_, ok := t.Members[player]
	return ok
}

// MemberIDs returns the member ids sorted by their string form.
func (t *Team) MemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(t.Members))
	for id := range t.Members {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Clone returns a deep copy of t.
func (t *Team) Clone() *Team {
	c := *t
	c.Members = make(map[uuid.UUID]struct{}, len(t.Members))
	for id := range t.Members {
		c.Members[id] = struct{}{}
	}
	return &c
}

// Home is a named location saved by a team.
type Home struct {
	TeamID      uuid.UUID
	Key         string
	DisplayName string
	World       string
	X           float64
	Y           float64
	Z           float64
	Yaw         float64
	Pitch       float64
	ServerID    string
	CreatedAt   time.Time
	CreatedBy   uuid.UUID
}

// NormalizeHomeKey maps a home name to the key that identifies it within
// a team.
func NormalizeHomeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Player identifies a connected player.
type Player struct {
	ID   uuid.UUID
	Name string
}

// Snapshot is a point-in-time copy of the store's table-set.
type Snapshot struct {
	Teams   []*Team
	Homes   []Home
	Invites []invite.Invite
}

// Scope names the rows a scoped save rewrites. Teams in scope but missing
// from the snapshot are deleted along with their members, homes and
// invites.
type Scope struct {
	Teams    []uuid.UUID
	Invitees []uuid.UUID
}

// Empty reports whether the scope touches nothing.
func (s Scope) Empty() bool {
	return len(s.Teams) == 0 && len(s.Invitees) == 0
}

// Merge returns the union of s and o.
func (s Scope) Merge(o Scope) Scope {
	return Scope{
		Teams:    union(s.Teams, o.Teams),
		Invitees: union(s.Invitees, o.Invitees),
	}
}

func union(a, b []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(a)+len(b))
	var out []uuid.UUID
	for _, ids := range [][]uuid.UUID{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

func idSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// scoped returns the parts of snap that fall within scope.
func scoped(snap *Snapshot, scope Scope) *Snapshot {
	teams := idSet(scope.Teams)
	invitees := idSet(scope.Invitees)

	out := &Snapshot{}
	for _, t := range snap.Teams {
		if _, ok := teams[t.ID]; ok {
			out.Teams = append(out.Teams, t)
		}
	}
	for _, h := range snap.Homes {
		if _, ok := teams[h.TeamID]; ok {
			out.Homes = append(out.Homes, h)
		}
	}
	for _, inv := range snap.Invites {
		if _, ok := invitees[inv.InviteeID]; ok {
			out.Invites = append(out.Invites, inv)
		}
	}
	return out
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
