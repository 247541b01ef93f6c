package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/daap14/teamsync/internal/api/response"
	"github.com/daap14/teamsync/internal/cache"
	"github.com/daap14/teamsync/internal/teamsvc"
)

// statusFor maps a team service code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case "NOT_OWNER":
		return http.StatusForbidden
	case "NOT_IN_TEAM", "NOT_MEMBER", "INVITE_NOT_FOUND", "HOME_NOT_FOUND", "TEAM_NOT_FOUND":
		return http.StatusNotFound
	case "ALREADY_IN_TEAM", "NAME_TAKEN", "INVITE_EXISTS":
		return http.StatusConflict
	case "TEAM_FULL", "TOO_MANY_INVITES", "HOME_LIMIT", "INVITE_CAP_REACHED", "OWNER_CANNOT_LEAVE", "SELF_TARGET":
		return http.StatusUnprocessableEntity
	case "INVALID_NAME":
		return http.StatusBadRequest
	case "NOT_PERSISTED":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// serviceError writes the response for an error returned by the team
// service. Unknown errors are logged and reported as INTERNAL_ERROR.
func serviceError(w http.ResponseWriter, err error, action, requestID string) {
	if code := teamsvc.Code(err); code != "" {
		if code == "NOT_PERSISTED" {
			slog.Error("change not persisted", "action", action, "error", err)
		}
		response.Err(w, statusFor(code), code, err.Error(), requestID)
		return
	}
	if errors.Is(err, cache.ErrLoopStopped) || errors.Is(err, context.Canceled) {
		response.Err(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service is shutting down", requestID)
		return
	}
	slog.Error("team service call failed", "action", action, "error", err)
	response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+action, requestID)
}
