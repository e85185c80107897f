// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"net/http"

	"norelock.dev/syncroom/backend/internal/services/system"
	"norelock.dev/syncroom/backend/internal/utils"
)

// HealthHandler handles HTTP requests related to system health.
type HealthHandler struct {
	healthSvc *system.HealthService
	logger    *utils.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(healthSvc *system.HealthService, logger *utils.Logger) *HealthHandler {
	return &HealthHandler{
		healthSvc: healthSvc,
		logger:    logger.Named("health_handler"),
	}
}

// Check reports component and process health, 503 when a store is down.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	health := h.healthSvc.GetHealth(r.Context())

	statusCode := http.StatusOK
	if health.Status != system.StatusUp {
		statusCode = http.StatusServiceUnavailable
	}

	utils.RespondWithJSON(w, statusCode, health)
}
