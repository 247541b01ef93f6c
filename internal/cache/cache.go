// Package cache is the per-process mirror of the authoritative store.
//
// A Cache is owned by a single mutator (see Loop) and is not safe for
// concurrent use. Entities reference each other by id only; read methods
// return copies so callers cannot mutate cached state behind the owner's
// back.
package cache

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/invite"
	"github.com/daap14/teamsync/internal/team"
)

// Cache holds teams, the player to team index, homes and pending invites.
type Cache struct {
	teams    map[uuid.UUID]*team.Team
	memberOf map[uuid.UUID]uuid.UUID
	homes    map[uuid.UUID]map[string]team.Home
	invites  *invite.Ledger

	generation uint64
}

// New creates an empty Cache whose invites live in ledger.
func New(ledger *invite.Ledger) *Cache {
	return &Cache{
		teams:    make(map[uuid.UUID]*team.Team),
		memberOf: make(map[uuid.UUID]uuid.UUID),
		homes:    make(map[uuid.UUID]map[string]team.Home),
		invites:  ledger,
	}
}

// Generation increases on every mutation. Background loads record it before
// reading the store and hand it back to Replace or ApplyTeam so results
// that raced a local write are discarded.
func (c *Cache) Generation() uint64 {
	return c.generation
}

func (c *Cache) bump() {
	c.generation++
}

// Invites returns the invite ledger.
func (c *Cache) Invites() *invite.Ledger {
	return c.invites
}

// Team returns a copy of the team with id.
func (c *Cache) Team(id uuid.UUID) (*team.Team, bool) {
	t, ok := c.teams[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// TeamIDOf returns the id of the team player belongs to.
func (c *Cache) TeamIDOf(player uuid.UUID) (uuid.UUID, bool) {
	id, ok := c.memberOf[player]
	return id, ok
}

// TeamOf returns a copy of player's team.
func (c *Cache) TeamOf(player uuid.UUID) (*team.Team, bool) {
	id, ok := c.memberOf[player]
	if !ok {
		return nil, false
	}
	return c.Team(id)
}

// TeamByName finds a team by case-insensitive name.
func (c *Cache) TeamByName(name string) (*team.Team, bool) {
	for _, t := range c.teams {
		if strings.EqualFold(t.Name, name) {
			return t.Clone(), true
		}
	}
	return nil, false
}

// Teams returns copies of every team ordered by name, then id.
func (c *Cache) Teams() []*team.Team {
	out := make([]*team.Team, 0, len(c.teams))
	for _, t := range c.teams {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Len returns the number of cached teams.
func (c *Cache) Len() int {
	return len(c.teams)
}

// PutTeam inserts or replaces t and reindexes its members. A member indexed
// under a different team is moved out of it.
func (c *Cache) PutTeam(t *team.Team) {
	c.putTeam(t.Clone())
	c.bump()
}

func (c *Cache) putTeam(t *team.Team) {
	if prev, ok := c.teams[t.ID]; ok {
		for m := range prev.Members {
			if !t.HasMember(m) && c.memberOf[m] == t.ID {
				delete(c.memberOf, m)
			}
		}
	}
	for m := range t.Members {
		if other, ok := c.memberOf[m]; ok && other != t.ID {
			if o, ok := c.teams[other]; ok && o.Owner != m {
				delete(o.Members, m)
			}
		}
		c.memberOf[m] = t.ID
	}
	c.teams[t.ID] = t
}

// RemoveTeam deletes a team with its member index entries, homes and
// invites. It returns the removed team and the invites that went with it.
func (c *Cache) RemoveTeam(id uuid.UUID) (*team.Team, []invite.Invite, bool) {
	t, ok := c.teams[id]
	if !ok {
		return nil, nil, false
	}
	c.removeTeam(t)
	removed := c.invites.RemoveTeam(id)
	c.bump()
	return t, removed, true
}

func (c *Cache) removeTeam(t *team.Team) {
	for m := range t.Members {
		if c.memberOf[m] == t.ID {
			delete(c.memberOf, m)
		}
	}
	delete(c.teams, t.ID)
	delete(c.homes, t.ID)
}

// ForgetMember drops player from the member index and from the team it
// was indexed under, unless player owns that team.
func (c *Cache) ForgetMember(player uuid.UUID) {
	id, ok := c.memberOf[player]
	if !ok {
		return
	}
	if t, ok := c.teams[id]; ok {
		if t.Owner == player {
			return
		}
		delete(t.Members, player)
	}
	delete(c.memberOf, player)
	c.bump()
}

// Homes returns a team's homes ordered by key.
func (c *Cache) Homes(teamID uuid.UUID) []team.Home {
	inner := c.homes[teamID]
	out := make([]team.Home, 0, len(inner))
	for _, h := range inner {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Home returns one home by normalized key.
func (c *Cache) Home(teamID uuid.UUID, key string) (team.Home, bool) {
	h, ok := c.homes[teamID][key]
	return h, ok
}

// HomeCount returns how many homes a team has.
func (c *Cache) HomeCount(teamID uuid.UUID) int {
	return len(c.homes[teamID])
}

// PutHome inserts or replaces h.
func (c *Cache) PutHome(h team.Home) {
	inner := c.homes[h.TeamID]
	if inner == nil {
		inner = make(map[string]team.Home)
		c.homes[h.TeamID] = inner
	}
	inner[h.Key] = h
	c.bump()
}

// RemoveHome deletes a home and reports whether it existed.
func (c *Cache) RemoveHome(teamID uuid.UUID, key string) bool {
	inner := c.homes[teamID]
	if _, ok := inner[key]; !ok {
		return false
	}
	delete(inner, key)
	if len(inner) == 0 {
		delete(c.homes, teamID)
	}
	c.bump()
	return true
}

// Replace swaps the whole cache for snap unless a mutation happened after
// generation was read. It reports whether the swap happened.
func (c *Cache) Replace(snap *team.Snapshot, generation uint64) bool {
	if generation != c.generation {
		return false
	}

	c.teams = make(map[uuid.UUID]*team.Team, len(snap.Teams))
	c.memberOf = make(map[uuid.UUID]uuid.UUID)
	c.homes = make(map[uuid.UUID]map[string]team.Home)
	for _, t := range snap.Teams {
		c.putTeam(t.Clone())
	}
	for _, h := range snap.Homes {
		if _, ok := c.teams[h.TeamID]; !ok {
			continue
		}
		inner := c.homes[h.TeamID]
		if inner == nil {
			inner = make(map[string]team.Home)
			c.homes[h.TeamID] = inner
		}
		inner[h.Key] = h
	}
	c.invites.Replace(snap.Invites)
	c.bump()
	return true
}

// ApplyTeam installs a team loaded by a targeted backfill, replacing its
// homes. It is discarded if the cache changed after generation was read.
func (c *Cache) ApplyTeam(t *team.Team, homes []team.Home, generation uint64) bool {
	if generation != c.generation {
		return false
	}
	c.putTeam(t.Clone())
	inner := make(map[string]team.Home, len(homes))
	for _, h := range homes {
		inner[h.Key] = h
	}
	c.homes[t.ID] = inner
	c.bump()
	return true
}

// DropTeam removes a team the store no longer has. It is discarded if the
// cache changed after generation was read.
func (c *Cache) DropTeam(id uuid.UUID, generation uint64) bool {
	if generation != c.generation {
		return false
	}
	_, _, ok := c.RemoveTeam(id)
	return ok
}

// ApplyInvites replaces invitee's invites with a backfilled set.
func (c *Cache) ApplyInvites(invitee uuid.UUID, invites []invite.Invite, generation uint64) bool {
	if generation != c.generation {
		return false
	}
	c.invites.ReplaceFor(invitee, invites)
	c.bump()
	return true
}

// TouchInvites marks the cache as changed after a direct ledger mutation.
func (c *Cache) TouchInvites() {
	c.bump()
}

// Snapshot copies the whole cache, purging expired invites first.
func (c *Cache) Snapshot(now time.Time) *team.Snapshot {
	snap := &team.Snapshot{
		Teams:   c.Teams(),
		Invites: c.invites.Active(now),
	}
	for _, t := range snap.Teams {
		snap.Homes = append(snap.Homes, c.Homes(t.ID)...)
	}
	return snap
}

// Partial copies only the rows named by scope.
func (c *Cache) Partial(scope team.Scope, now time.Time) *team.Snapshot {
	snap := &team.Snapshot{}
	for _, id := range scope.Teams {
		if t, ok := c.teams[id]; ok {
			snap.Teams = append(snap.Teams, t.Clone())
			snap.Homes = append(snap.Homes, c.Homes(id)...)
		}
	}
	for _, invitee := range scope.Invitees {
		snap.Invites = append(snap.Invites, c.invites.ListActive(invitee, now)...)
	}
	return snap
}
