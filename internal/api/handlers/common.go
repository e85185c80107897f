package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"norelock.dev/syncroom/backend/internal/api/middleware"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

// GetUserIDFromContext pulls the authenticated caller from the request
// context, responding 401 when the auth middleware did not run.
func GetUserIDFromContext(w http.ResponseWriter, r *http.Request) uuid.UUID {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok || userID == uuid.Nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "User ID not found")
		return uuid.Nil
	}
	return userID
}

// RoomIDParam parses the {roomID} URL parameter, responding 400 on a
// malformed value.
func RoomIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid room ID")
		return uuid.Nil, false
	}
	return id, true
}

// RespondEngineError translates an engine error into an HTTP error response.
// EngineError messages are caller-safe; raw causes stay in the logs.
func RespondEngineError(w http.ResponseWriter, logger *utils.Logger, err error) {
	status := httpStatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", err)
		utils.RespondWithError(w, status, "Internal server error")
		return
	}
	utils.RespondWithError(w, status, err.Error())
}

// httpStatusFor maps the engine error taxonomy onto HTTP statuses. The auth
// middleware owns 401; an unauthorized engine error means the caller is
// known but not allowed.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case models.IsNotFound(err):
		return http.StatusNotFound
	case models.IsConflict(err), models.IsFailedPrecondition(err):
		return http.StatusConflict
	case models.IsUnauthorized(err):
		return http.StatusForbidden
	case models.IsInvalid(err):
		return http.StatusBadRequest
	case models.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
