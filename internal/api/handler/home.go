package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/daap14/teamsync/internal/api/middleware"
	"github.com/daap14/teamsync/internal/api/response"
	"github.com/daap14/teamsync/internal/api/validation"
	"github.com/daap14/teamsync/internal/host"
)

// ListHomes handles GET /players/{id}/homes.
func (h *PlayerHandler) ListHomes(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}

	homes, err := h.svc.Homes(r.Context(), p.ID)
	if err != nil {
		serviceError(w, err, "list homes", requestID)
		return
	}

	items := toHomeResponses(homes)
	response.SuccessList(w, http.StatusOK, items, len(items), requestID)
}

// SetHome handles PUT /players/{id}/homes/{name}.
func (h *PlayerHandler) SetHome(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	var req locationRequest
	if !decodeBody(w, r, &req, requestID) {
		return
	}

	fieldErrors := validation.ValidateName("name", name)
	fieldErrors = append(fieldErrors, validation.ValidateLocation(validation.LocationRequest{
		World: req.World,
		X:     req.X,
		Y:     req.Y,
		Z:     req.Z,
		Yaw:   req.Yaw,
		Pitch: req.Pitch,
	})...)
	if validationFailed(w, fieldErrors, requestID) {
		return
	}

	home, err := h.svc.SetHome(r.Context(), p, name, host.Location{
		World: req.World,
		X:     req.X,
		Y:     req.Y,
		Z:     req.Z,
		Yaw:   req.Yaw,
		Pitch: req.Pitch,
	})
	if err != nil {
		serviceError(w, err, "set home", requestID)
		return
	}

	response.Success(w, http.StatusOK, toHomeResponse(home), requestID)
}

// DeleteHome handles DELETE /players/{id}/homes/{name}.
func (h *PlayerHandler) DeleteHome(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}

	if err := h.svc.DeleteHome(r.Context(), p, chi.URLParam(r, "name")); err != nil {
		serviceError(w, err, "delete home", requestID)
		return
	}

	response.NoContent(w)
}

// TeleportHome handles POST /players/{id}/homes/{name}/teleport.
func (h *PlayerHandler) TeleportHome(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	p, ok := h.player(w, r, requestID)
	if !ok {
		return
	}

	result, err := h.svc.TeleportHome(r.Context(), p, chi.URLParam(r, "name"))
	if err != nil {
		serviceError(w, err, "teleport home", requestID)
		return
	}

	response.Success(w, http.StatusOK, teleportResponse{Result: string(result)}, requestID)
}
