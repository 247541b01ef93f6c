package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/invite"
	"github.com/daap14/teamsync/internal/team"
	"github.com/daap14/teamsync/internal/teamsvc"
)

const timeFormat = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// Directory resolves player display names.
type Directory interface {
	Remember(player uuid.UUID, name string)
	PlayerName(player uuid.UUID) (string, bool)
}

type memberResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Owner  bool   `json:"owner"`
	Online bool   `json:"online"`
}

type homeResponse struct {
	Name      string  `json:"name"`
	World     string  `json:"world"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Yaw       float64 `json:"yaw"`
	Pitch     float64 `json:"pitch"`
	ServerID  string  `json:"serverId"`
	CreatedAt string  `json:"createdAt"`
	CreatedBy string  `json:"createdBy"`
}

type teamSummaryResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Owner        string `json:"owner"`
	MemberCount  int    `json:"memberCount"`
	FriendlyFire bool   `json:"friendlyFire"`
	CreatedAt    string `json:"createdAt"`
}

type teamResponse struct {
	teamSummaryResponse
	Members []memberResponse `json:"members"`
	Homes   []homeResponse   `json:"homes"`
}

type inviteResponse struct {
	TeamID    string `json:"teamId"`
	TeamName  string `json:"teamName"`
	InviteeID string `json:"inviteeId"`
	InviterID string `json:"inviterId"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
}

func toTeamSummary(t *team.Team) teamSummaryResponse {
	return teamSummaryResponse{
		ID:           t.ID.String(),
		Name:         t.Name,
		Owner:        t.Owner.String(),
		MemberCount:  len(t.Members),
		FriendlyFire: t.FriendlyFire,
		CreatedAt:    formatTime(t.CreatedAt),
	}
}

func toHomeResponse(h team.Home) homeResponse {
	return homeResponse{
		Name:      h.DisplayName,
		World:     h.World,
		X:         h.X,
		Y:         h.Y,
		Z:         h.Z,
		Yaw:       h.Yaw,
		Pitch:     h.Pitch,
		ServerID:  h.ServerID,
		CreatedAt: formatTime(h.CreatedAt),
		CreatedBy: h.CreatedBy.String(),
	}
}

func toHomeResponses(homes []team.Home) []homeResponse {
	items := make([]homeResponse, 0, len(homes))
	for _, h := range homes {
		items = append(items, toHomeResponse(h))
	}
	return items
}

func toTeamResponse(view *teamsvc.TeamView, dir Directory) teamResponse {
	t := view.Team
	members := make([]memberResponse, 0, len(t.Members))
	for _, id := range t.MemberIDs() {
		name, _ := dir.PlayerName(id)
		members = append(members, memberResponse{
			ID:     id.String(),
			Name:   name,
			Owner:  id == t.Owner,
			Online: view.Online[id],
		})
	}
	return teamResponse{
		teamSummaryResponse: toTeamSummary(t),
		Members:             members,
		Homes:               toHomeResponses(view.Homes),
	}
}

func toInviteResponse(inv invite.Invite) inviteResponse {
	return inviteResponse{
		TeamID:    inv.TeamID.String(),
		TeamName:  inv.TeamName,
		InviteeID: inv.InviteeID.String(),
		InviterID: inv.InviterID.String(),
		CreatedAt: formatTime(inv.CreatedAt),
		ExpiresAt: formatTime(inv.ExpiresAt),
	}
}

func toInviteResponses(invites []invite.Invite) []inviteResponse {
	items := make([]inviteResponse, 0, len(invites))
	for _, inv := range invites {
		items = append(items, toInviteResponse(inv))
	}
	return items
}
