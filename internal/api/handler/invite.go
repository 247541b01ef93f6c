package handler

import (
	"net/http"

	"github.com/daap14/teamsync/internal/api/middleware"
	"github.com/daap14/teamsync/internal/api/response"
)

// ListInvites handles GET /players/{id}/invites.
func (h *PlayerHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}

	sum, err := h.svc.InvitesFor(r.Context(), p.ID)
	if err != nil {
		serviceError(w, err, "list invites", requestID)
		return
	}

	response.Success(w, http.StatusOK, invitesResponse{
		Invites: toInviteResponses(sum.Invites),
		Limit:   sum.Limit,
	}, requestID)
}

// SendInvite handles POST /players/{id}/invites.
func (h *PlayerHandler) SendInvite(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}
	target, ok := h.target(w, r, requestID)
	if !ok {
		return
	}

	inv, err := h.svc.Invite(r.Context(), p, target)
	if err != nil {
		serviceError(w, err, "send invite", requestID)
		return
	}

	response.Success(w, http.StatusCreated, toInviteResponse(inv), requestID)
}

// AcceptInvite handles POST /players/{id}/invites/{teamId}/accept.
func (h *PlayerHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}
	teamID, ok := uuidParam(w, r, "teamId", requestID)
	if !ok {
		return
	}

	t, err := h.svc.AcceptInvite(r.Context(), p, teamID)
	if err != nil {
		serviceError(w, err, "accept invite", requestID)
		return
	}

	response.Success(w, http.StatusOK, toTeamSummary(t), requestID)
}

// DenyInvite handles POST /players/{id}/invites/{teamId}/deny.
func (h *PlayerHandler) DenyInvite(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}
	teamID, ok := uuidParam(w, r, "teamId", requestID)
	if !ok {
		return
	}

	if err := h.svc.DenyInvite(r.Context(), p, teamID); err != nil {
		serviceError(w, err, "deny invite", requestID)
		return
	}

	response.NoContent(w)
}

// ListOutgoingInvites handles GET /players/{id}/outgoing-invites.
func (h *PlayerHandler) ListOutgoingInvites(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}

	out, err := h.svc.OutgoingInvites(r.Context(), p.ID)
	if err != nil {
		serviceError(w, err, "list outgoing invites", requestID)
		return
	}

	items := toInviteResponses(out)
	response.SuccessList(w, http.StatusOK, items, len(items), requestID)
}

// CancelInvite handles DELETE /players/{id}/outgoing-invites/{target}.
func (h *PlayerHandler) CancelInvite(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}
	target, ok := uuidParam(w, r, "target", requestID)
	if !ok {
		return
	}

	if err := h.svc.CancelInvite(r.Context(), p, target); err != nil {
		serviceError(w, err, "cancel invite", requestID)
		return
	}

	response.NoContent(w)
}
