// Package invite holds pending team invites keyed by invitee.
package invite

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapPerInvitee is the hard cap on pending invites for one player.
const DefaultCapPerInvitee = 25

// ErrDuplicate is returned when the invitee already has a live invite from the team.
var ErrDuplicate = errors.New("invite already exists")

// ErrCapReached is returned when no room can be made for a new invite.
var ErrCapReached = errors.New("invite cap reached")

// Invite is a pending invitation of InviteeID into TeamID. TeamName is kept
// so the invite stays displayable after the team disappears.
type Invite struct {
	InviteeID uuid.UUID
	TeamID    uuid.UUID
	TeamName  string
	InviterID uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the invite is no longer valid at now.
func (i Invite) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// Ledger stores invites per invitee. Every read and write touching an
// invitee purges that invitee's expired invites first. A Ledger is safe for
// concurrent use.
type Ledger struct {
	mu        sync.Mutex
	limit     int
	byInvitee map[uuid.UUID]map[uuid.UUID]Invite
}

// NewLedger creates an empty Ledger allowing at most limit invites per invitee.
func NewLedger(limit int) *Ledger {
	return &Ledger{
		limit:     limit,
		byInvitee: make(map[uuid.UUID]map[uuid.UUID]Invite),
	}
}

// Limit returns the per-invitee cap.
func (l *Ledger) Limit() int {
	return l.limit
}

// Create stores inv. When the invitee is at the cap, the invite closest to
// expiry is evicted and returned. It fails with ErrDuplicate if a live
// invite for the same team exists and with ErrCapReached if eviction
// cannot make room.
func (l *Ledger) Create(inv Invite, now time.Time) (*Invite, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeLocked(inv.InviteeID, now)

	inner := l.byInvitee[inv.InviteeID]
	if _, ok := inner[inv.TeamID]; ok {
		return nil, ErrDuplicate
	}

	var evicted *Invite
	if len(inner) >= l.limit {
		if victim, ok := soonestToExpire(inner); ok {
			delete(inner, victim.TeamID)
			evicted = &victim
		}
		if len(inner) >= l.limit {
			return evicted, ErrCapReached
		}
	}

	if inner == nil {
		inner = make(map[uuid.UUID]Invite)
		l.byInvitee[inv.InviteeID] = inner
	}
	inner[inv.TeamID] = inv
	return evicted, nil
}

func soonestToExpire(inner map[uuid.UUID]Invite) (Invite, bool) {
	var victim Invite
	found := false
	for _, inv := range inner {
		if !found || expiresBefore(inv, victim) {
			victim = inv
			found = true
		}
	}
	return victim, found
}

func expiresBefore(a, b Invite) bool {
	if !a.ExpiresAt.Equal(b.ExpiresAt) {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.TeamID.String() < b.TeamID.String()
}

// Get returns the live invite of invitee into team.
func (l *Ledger) Get(invitee, team uuid.UUID, now time.Time) (Invite, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeLocked(invitee, now)
	inv, ok := l.byInvitee[invitee][team]
	return inv, ok
}

// ListActive returns invitee's live invites, oldest first.
func (l *Ledger) ListActive(invitee uuid.UUID, now time.Time) []Invite {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeLocked(invitee, now)
	return sorted(l.byInvitee[invitee])
}

// Remove deletes the invite of invitee into team regardless of expiry.
func (l *Ledger) Remove(invitee, team uuid.UUID) (Invite, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inner := l.byInvitee[invitee]
	inv, ok := inner[team]
	if !ok {
		return Invite{}, false
	}
	delete(inner, team)
	if len(inner) == 0 {
		delete(l.byInvitee, invitee)
	}
	return inv, true
}

// RemoveTeam deletes every invite into team. The ledger is keyed by
// invitee, so this scans all invitees.
func (l *Ledger) RemoveTeam(team uuid.UUID) []Invite {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []Invite
	for invitee, inner := range l.byInvitee {
		if inv, ok := inner[team]; ok {
			removed = append(removed, inv)
			delete(inner, team)
		}
		if len(inner) == 0 {
			delete(l.byInvitee, invitee)
		}
	}
	return removed
}

// PurgeExpired removes invitee's expired invites and returns them.
func (l *Ledger) PurgeExpired(invitee uuid.UUID, now time.Time) []Invite {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.purgeLocked(invitee, now)
}

// PurgeExpiredAll removes every expired invite and returns them.
func (l *Ledger) PurgeExpiredAll(now time.Time) []Invite {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []Invite
	for invitee := range l.byInvitee {
		removed = append(removed, l.purgeLocked(invitee, now)...)
	}
	return removed
}

func (l *Ledger) purgeLocked(invitee uuid.UUID, now time.Time) []Invite {
	inner, ok := l.byInvitee[invitee]
	if !ok {
		return nil
	}
	var removed []Invite
	for team, inv := range inner {
		if inv.Expired(now) {
			removed = append(removed, inv)
			delete(inner, team)
		}
	}
	if len(inner) == 0 {
		delete(l.byInvitee, invitee)
	}
	return removed
}

// ExpiredInvitees lists the invitees holding at least one expired invite.
// Nothing is purged.
func (l *Ledger) ExpiredInvitees(now time.Time) []uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []uuid.UUID
	for invitee, inner := range l.byInvitee {
		for _, inv := range inner {
			if inv.Expired(now) {
				out = append(out, invitee)
				break
			}
		}
	}
	return out
}

// HasInviteFromOtherTeam reports whether invitee holds a live invite from
// any team other than team.
func (l *Ledger) HasInviteFromOtherTeam(invitee, team uuid.UUID, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeLocked(invitee, now)
	for id := range l.byInvitee[invitee] {
		if id != team {
			return true
		}
	}
	return false
}

// PendingForTarget counts invitee's live invites.
func (l *Ledger) PendingForTarget(invitee uuid.UUID, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeLocked(invitee, now)
	return len(l.byInvitee[invitee])
}

// OutgoingForTeam returns the live invites sent by team, oldest first.
func (l *Ledger) OutgoingForTeam(team uuid.UUID, now time.Time) []Invite {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Invite
	for _, inner := range l.byInvitee {
		if inv, ok := inner[team]; ok && !inv.Expired(now) {
			out = append(out, inv)
		}
	}
	sortInvites(out)
	return out
}

// Active purges every expired invite and returns the rest.
func (l *Ledger) Active(now time.Time) []Invite {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Invite
	for invitee := range l.byInvitee {
		l.purgeLocked(invitee, now)
		for _, inv := range l.byInvitee[invitee] {
			out = append(out, inv)
		}
	}
	sortInvites(out)
	return out
}

// Replace swaps the whole ledger for invites. Entries beyond the cap for
// one invitee are dropped, keeping the latest to expire.
func (l *Ledger) Replace(invites []Invite) {
	next := make(map[uuid.UUID]map[uuid.UUID]Invite)
	for _, inv := range invites {
		inner := next[inv.InviteeID]
		if inner == nil {
			inner = make(map[uuid.UUID]Invite)
			next[inv.InviteeID] = inner
		}
		inner[inv.TeamID] = inv
	}
	for _, inner := range next {
		trim(inner, l.limit)
	}

	l.mu.Lock()
	l.byInvitee = next
	l.mu.Unlock()
}

// ReplaceFor swaps invitee's invites for invites.
func (l *Ledger) ReplaceFor(invitee uuid.UUID, invites []Invite) {
	inner := make(map[uuid.UUID]Invite, len(invites))
	for _, inv := range invites {
		if inv.InviteeID == invitee {
			inner[inv.TeamID] = inv
		}
	}
	trim(inner, l.limit)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(inner) == 0 {
		delete(l.byInvitee, invitee)
		return
	}
	l.byInvitee[invitee] = inner
}

func trim(inner map[uuid.UUID]Invite, limit int) {
	for len(inner) > limit {
		victim, ok := soonestToExpire(inner)
		if !ok {
			return
		}
		delete(inner, victim.TeamID)
	}
}

func sorted(inner map[uuid.UUID]Invite) []Invite {
	out := make([]Invite, 0, len(inner))
	for _, inv := range inner {
		out = append(out, inv)
	}
	sortInvites(out)
	return out
}

func sortInvites(invites []Invite) {
	sort.Slice(invites, func(i, j int) bool {
		a, b := invites[i], invites[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.InviteeID != b.InviteeID {
			return a.InviteeID.String() < b.InviteeID.String()
		}
		return a.TeamID.String() < b.TeamID.String()
	})
}
