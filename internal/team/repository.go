package team

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/invite"
)

// ErrTeamNotFound is returned when a team record is not found.
var ErrTeamNotFound = errors.New("team not found")

// Repository is the authoritative store for teams, members, homes and
// invites.
type Repository interface {
	// EnsureSchema creates the tables and indexes if they do not exist.
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error

	// LoadSnapshot reads every team, member, home and invite.
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	// SaveSnapshot deletes every row and writes snap in one transaction.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	// SaveScoped rewrites only the rows named by scope in one transaction.
	SaveScoped(ctx context.Context, snap *Snapshot, scope Scope) error

	// FindTeamIDByMember returns the team player belongs to, or
	// ErrTeamNotFound.
	FindTeamIDByMember(ctx context.Context, player uuid.UUID) (uuid.UUID, error)
	// LoadTeam returns one team and its homes, or ErrTeamNotFound.
	LoadTeam(ctx context.Context, id uuid.UUID) (*Team, []Home, error)
	LoadInvitesFor(ctx context.Context, invitee uuid.UUID) ([]invite.Invite, error)

	Close()
}
