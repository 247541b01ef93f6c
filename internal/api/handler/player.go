package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/api/middleware"
	"github.com/daap14/teamsync/internal/api/response"
	"github.com/daap14/teamsync/internal/api/validation"
	"github.com/daap14/teamsync/internal/host"
	"github.com/daap14/teamsync/internal/invite"
	"github.com/daap14/teamsync/internal/team"
	"github.com/daap14/teamsync/internal/teamsvc"
)

// TeamService is the team service as seen by player endpoints.
type TeamService interface {
	PlayerJoined(ctx context.Context, player team.Player) error
	PlayerQuit(ctx context.Context, player team.Player) (bool, error)

	TeamOf(ctx context.Context, player uuid.UUID) (*teamsvc.TeamView, error)
	CreateTeam(ctx context.Context, owner team.Player, name string) (*team.Team, error)
	Disband(ctx context.Context, actor team.Player) error
	Leave(ctx context.Context, player team.Player) error
	Kick(ctx context.Context, actor team.Player, target uuid.UUID) error
	TransferOwnership(ctx context.Context, actor team.Player, target uuid.UUID) error
	Rename(ctx context.Context, actor team.Player, name string) error
	SetFriendlyFire(ctx context.Context, actor team.Player, enabled bool) error
	CanDamage(ctx context.Context, attacker, victim uuid.UUID) (bool, error)
	Chat(ctx context.Context, sender team.Player, message string) error

	Invite(ctx context.Context, inviter team.Player, target uuid.UUID) (invite.Invite, error)
	AcceptInvite(ctx context.Context, player team.Player, teamID uuid.UUID) (*team.Team, error)
	DenyInvite(ctx context.Context, player team.Player, teamID uuid.UUID) error
	CancelInvite(ctx context.Context, actor team.Player, target uuid.UUID) error
	InvitesFor(ctx context.Context, player uuid.UUID) (teamsvc.InviteSummary, error)
	OutgoingInvites(ctx context.Context, player uuid.UUID) ([]invite.Invite, error)

	SetHome(ctx context.Context, actor team.Player, name string, loc host.Location) (team.Home, error)
	DeleteHome(ctx context.Context, actor team.Player, name string) error
	Homes(ctx context.Context, player uuid.UUID) ([]team.Home, error)
	TeleportHome(ctx context.Context, player team.Player, name string) (teamsvc.TeleportResult, error)
}

// PlayerHandler handles the endpoints that act on behalf of one player,
// addressed as /players/{id}.
type PlayerHandler struct {
	svc TeamService
	dir Directory
}

// NewPlayerHandler creates a new PlayerHandler.
func NewPlayerHandler(svc TeamService, dir Directory) *PlayerHandler {
	return &PlayerHandler{svc: svc, dir: dir}
}

type joinRequest struct {
	Name string `json:"name"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type updateTeamRequest struct {
	Name         *string `json:"name"`
	FriendlyFire *bool   `json:"friendlyFire"`
}

type targetRequest struct {
	Target string `json:"target"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type locationRequest struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

type quitResponse struct {
	Offline bool `json:"offline"`
}

type invitesResponse struct {
	Invites []inviteResponse `json:"invites"`
	Limit   int              `json:"limit"`
}

type teleportResponse struct {
	Result string `json:"result"`
}

type canDamageResponse struct {
	Allowed bool `json:"allowed"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, requestID string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return false
	}
	return true
}

func validationFailed(w http.ResponseWriter, fieldErrors []validation.FieldError, requestID string) bool {
	if len(fieldErrors) == 0 {
		return false
	}
	response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, param, requestID string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", param+" must be a valid UUID", requestID)
		return uuid.Nil, false
	}
	return id, true
}

// player resolves the {id} path parameter to a Player. Players that never
// joined through this API are named by their id.
func (h *PlayerHandler) player(w http.ResponseWriter, r *http.Request, requestID string) (team.Player, bool) {
	id, ok := uuidParam(w, r, "id", requestID)
	if !ok {
		return team.Player{}, false
	}
	name, known := h.dir.PlayerName(id)
	if !known {
		name = id.String()
	}
	return team.Player{ID: id, Name: name}, true
}

func (h *PlayerHandler) target(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	var req targetRequest
	if !decodeBody(w, r, &req, requestID) {
		return uuid.Nil, false
	}
	if validationFailed(w, validation.ValidatePlayerID("target", req.Target), requestID) {
		return uuid.Nil, false
	}
	return uuid.MustParse(req.Target), true
}

// Join handles POST /players/{id}/join.
func (h *PlayerHandler) Join(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := uuidParam(w, r, "id", requestID)
	if !ok {
		return
	}
	var req joinRequest
	if !decodeBody(w, r, &req, requestID) {
		return
	}
	if validationFailed(w, validation.ValidateName("name", req.Name), requestID) {
		return
	}

	h.dir.Remember(id, req.Name)
	if err := h.svc.PlayerJoined(r.Context(), team.Player{ID: id, Name: req.Name}); err != nil {
		serviceError(w, err, "join player", requestID)
		return
	}

	response.NoContent(w)
}

// quitTimeout bounds a quit once it is detached from the request.
const quitTimeout = 10 * time.Second

// Quit handles POST /players/{id}/quit. It returns once the offline delay
// has passed. The quit runs to completion even if the caller hangs up.
func (h *PlayerHandler) Quit(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), quitTimeout)
	defer cancel()

	offline, err := h.svc.PlayerQuit(ctx, p)
	if err != nil {
		serviceError(w, err, "quit player", requestID)
		return
	}

	response.Success(w, http.StatusOK, quitResponse{Offline: offline}, requestID)
}

// GetTeam handles GET /players/{id}/team.
func (h *PlayerHandler) GetTeam(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}

	view, err := h.svc.TeamOf(r.Context(), p.ID)
	if err != nil {
		serviceError(w, err, "get team", requestID)
		return
	}

	response.Success(w, http.StatusOK, toTeamResponse(view, h.dir), requestID)
}

// CreateTeam handles POST /players/{id}/team.
func (h *PlayerHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}
	var req nameRequest
	if !decodeBody(w, r, &req, requestID) {
		return
	}
	if validationFailed(w, validation.ValidateName("name", req.Name), requestID) {
		return
	}

	t, err := h.svc.CreateTeam(r.Context(), p, req.Name)
	if err != nil {
		serviceError(w, err, "create team", requestID)
		return
	}

	response.Success(w, http.StatusCreated, toTeamSummary(t), requestID)
}

// UpdateTeam handles PATCH /players/{id}/team.
func (h *PlayerHandler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}
	var req updateTeamRequest
	if !decodeBody(w, r, &req, requestID) {
		return
	}
	fieldErrors := validation.ValidateUpdateTeamRequest(validation.UpdateTeamRequest{
		Name:         req.Name,
		FriendlyFire: req.FriendlyFire,
	})
	if validationFailed(w, fieldErrors, requestID) {
		return
	}

	if req.Name != nil {
		if err := h.svc.Rename(r.Context(), p, *req.Name); err != nil {
			serviceError(w, err, "rename team", requestID)
			return
		}
	}
	if req.FriendlyFire != nil {
		if err := h.svc.SetFriendlyFire(r.Context(), p, *req.FriendlyFire); err != nil {
			serviceError(w, err, "update friendly fire", requestID)
			return
		}
	}

	view, err := h.svc.TeamOf(r.Context(), p.ID)
	if err != nil {
		serviceError(w, err, "get team", requestID)
		return
	}

	response.Success(w, http.StatusOK, toTeamResponse(view, h.dir), requestID)
}

// DisbandTeam handles DELETE /players/{id}/team.
func (h *PlayerHandler) DisbandTeam(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}

	if err := h.svc.Disband(r.Context(), p); err != nil {
		serviceError(w, err, "disband team", requestID)
		return
	}

	response.NoContent(w)
}

// Leave handles POST /players/{id}/leave.
func (h *PlayerHandler) Leave(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}

	if err := h.svc.Leave(r.Context(), p); err != nil {
		serviceError(w, err, "leave team", requestID)
		return
	}

	response.NoContent(w)
}

// Kick handles POST /players/{id}/kick.
func (h *PlayerHandler) Kick(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}
	target, ok := h.target(w, r, requestID)
	if !ok {
		return
	}

	if err := h.svc.Kick(r.Context(), p, target); err != nil {
		serviceError(w, err, "kick member", requestID)
		return
	}

	response.NoContent(w)
}

// Transfer handles POST /players/{id}/transfer.
func (h *PlayerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}
	target, ok := h.target(w, r, requestID)
	if !ok {
		return
	}

	if err := h.svc.TransferOwnership(r.Context(), p, target); err != nil {
		serviceError(w, err, "transfer ownership", requestID)
		return
	}

	response.NoContent(w)
}

// Chat handles POST /players/{id}/chat.
func (h *PlayerHandler) Chat(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}
	var req chatRequest
	if !decodeBody(w, r, &req, requestID) {
		return
	}
	if validationFailed(w, validation.ValidateChatMessage(req.Message), requestID) {
		return
	}

	if err := h.svc.Chat(r.Context(), p, req.Message); err != nil {
		serviceError(w, err, "send chat", requestID)
		return
	}

	response.NoContent(w)
}

// CanDamage handles GET /players/{id}/can-damage/{victim}.
func (h *PlayerHandler) CanDamage(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	attacker, ok := uuidParam(w, r, "id", requestID)
	if !ok {
		return
	}
	victim, ok := uuidParam(w, r, "victim", requestID)
	if !ok {
		return
	}

	allowed, err := h.svc.CanDamage(r.Context(), attacker, victim)
	if err != nil {
		serviceError(w, err, "check damage", requestID)
		return
	}

	response.Success(w, http.StatusOK, canDamageResponse{Allowed: allowed}, requestID)
}
