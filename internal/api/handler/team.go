package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daap14/teamsync/internal/api/middleware"
	"github.com/daap14/teamsync/internal/api/response"
	"github.com/daap14/teamsync/internal/team"
	"github.com/daap14/teamsync/internal/teamsvc"
)

// TeamBrowser is the read side of the team service used by TeamHandler.
type TeamBrowser interface {
	BrowseTeams(ctx context.Context) ([]*team.Team, error)
	Team(ctx context.Context, id uuid.UUID) (*teamsvc.TeamView, error)
}

// TeamHandler handles the team listing endpoints.
type TeamHandler struct {
	svc TeamBrowser
	dir Directory
}

// NewTeamHandler creates a new TeamHandler.
func NewTeamHandler(svc TeamBrowser, dir Directory) *TeamHandler {
	return &TeamHandler{svc: svc, dir: dir}
}

// List handles GET /teams.
func (h *TeamHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	teams, err := h.svc.BrowseTeams(r.Context())
	if err != nil {
		serviceError(w, err, "list teams", requestID)
		return
	}

	items := make([]teamSummaryResponse, 0, len(teams))
	for _, t := range teams {
		items = append(items, toTeamSummary(t))
	}

	response.SuccessList(w, http.StatusOK, items, len(items), requestID)
}

// Get handles GET /teams/{id}.
func (h *TeamHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", requestID)
		return
	}

	view, err := h.svc.Team(r.Context(), id)
	if err != nil {
		serviceError(w, err, "get team", requestID)
		return
	}

	response.Success(w, http.StatusOK, toTeamResponse(view, h.dir), requestID)
}
