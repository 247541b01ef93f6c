package teamsvc

import (
	"errors"

	"github.com/daap14/teamsync/internal/invite"
	"github.com/daap14/teamsync/internal/team"
)

// Policy violations. Callers map them to stable codes with Code.
var (
	ErrNotOwner         = errors.New("not the team owner")
	ErrAlreadyInTeam    = errors.New("player already in a team")
	ErrNotInTeam        = errors.New("player not in a team")
	ErrNotMember        = errors.New("target is not a member of the team")
	ErrSelfTarget       = errors.New("cannot target yourself")
	ErrTeamFull         = errors.New("team is full")
	ErrOwnerCannotLeave = errors.New("owner must transfer or disband before leaving")
	ErrInvalidName      = errors.New("invalid name")
	ErrNameTaken        = errors.New("team name already taken")
	ErrTooManyInvites   = errors.New("too many outstanding invites")
	ErrInviteNotFound   = errors.New("invite not found")
	ErrHomeLimit        = errors.New("home limit reached")
	ErrHomeNotFound     = errors.New("home not found")
)

// ErrNotPersisted wraps store failures during a mutating action. The local
// cache may already show the change even though the store does not.
var ErrNotPersisted = errors.New("change not persisted")

// Code returns the stable code for err, or "" when err is not a known
// outcome.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotOwner):
		return "NOT_OWNER"
	case errors.Is(err, ErrAlreadyInTeam):
		return "ALREADY_IN_TEAM"
	case errors.Is(err, ErrNotInTeam):
		return "NOT_IN_TEAM"
	case errors.Is(err, ErrNotMember):
		return "NOT_MEMBER"
	case errors.Is(err, ErrSelfTarget):
		return "SELF_TARGET"
	case errors.Is(err, ErrTeamFull):
		return "TEAM_FULL"
	case errors.Is(err, ErrOwnerCannotLeave):
		return "OWNER_CANNOT_LEAVE"
	case errors.Is(err, ErrInvalidName):
		return "INVALID_NAME"
	case errors.Is(err, ErrNameTaken):
		return "NAME_TAKEN"
	case errors.Is(err, ErrTooManyInvites):
		return "TOO_MANY_INVITES"
	case errors.Is(err, ErrInviteNotFound):
		return "INVITE_NOT_FOUND"
	case errors.Is(err, invite.ErrDuplicate):
		return "INVITE_EXISTS"
	case errors.Is(err, invite.ErrCapReached):
		return "INVITE_CAP_REACHED"
	case errors.Is(err, ErrHomeLimit):
		return "HOME_LIMIT"
	case errors.Is(err, ErrHomeNotFound):
		return "HOME_NOT_FOUND"
	case errors.Is(err, team.ErrTeamNotFound):
		return "TEAM_NOT_FOUND"
	case errors.Is(err, ErrNotPersisted):
		return "NOT_PERSISTED"
	}
	return ""
}
