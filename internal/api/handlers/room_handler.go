package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/services/room"
	"norelock.dev/syncroom/backend/internal/utils"
)

// RoomHandler serves the unary room operations over REST. Live playback and
// membership flow over the stream endpoint; this surface covers creation,
// discovery, membership changes and audit reads.
type RoomHandler struct {
	rooms  room.RoomManager
	logger *utils.Logger
}

// NewRoomHandler creates a new room handler.
func NewRoomHandler(rooms room.RoomManager, logger *utils.Logger) *RoomHandler {
	return &RoomHandler{
		rooms:  rooms,
		logger: logger.Named("room_handler"),
	}
}

// List returns a page of active rooms matching the query filters.
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := models.RoomFilter{}

	query := r.URL.Query()
	if v := query.Get("visibility"); v != "" {
		visibility := models.Visibility(v)
		if visibility != models.VisibilityPublic && visibility != models.VisibilityPrivate {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid visibility")
			return
		}
		filter.Visibility = &visibility
	}
	if v := query.Get("host"); v != "" {
		hostID, err := uuid.Parse(v)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid host ID")
			return
		}
		filter.HostUserID = &hostID
	}
	filter.Page = int(utils.ParseInt(query.Get("page"), 0))
	filter.PageSize = int(utils.ParseInt(query.Get("page_size"), 0))
	filter.Normalize()

	rooms, err := h.rooms.ListRooms(r.Context(), filter)
	if err != nil {
		RespondEngineError(w, h.logger, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"rooms":     rooms,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

// Get returns the durable room record.
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomID, ok := RoomIDParam(w, r)
	if !ok {
		return
	}

	record, err := h.rooms.GetRoom(r.Context(), roomID)
	if err != nil {
		RespondEngineError(w, h.logger, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, record)
}

// GetByCode resolves a join code to its room.
func (h *RoomHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := utils.ValidateVar(code, "room_code"); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid room code")
		return
	}

	record, err := h.rooms.GetRoomByCode(r.Context(), code)
	if err != nil {
		RespondEngineError(w, h.logger, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, record)
}

// Snapshot returns the room merged with its live session state.
func (h *RoomHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	roomID, ok := RoomIDParam(w, r)
	if !ok {
		return
	}

	snapshot, err := h.rooms.Snapshot(r.Context(), roomID)
	if err != nil {
		RespondEngineError(w, h.logger, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, snapshot)
}

// Queue returns the room's track queue in order.
func (h *RoomHandler) Queue(w http.ResponseWriter, r *http.Request) {
	roomID, ok := RoomIDParam(w, r)
	if !ok {
		return
	}

	entries, err := h.rooms.GetQueue(r.Context(), roomID)
	if err != nil {
		RespondEngineError(w, h.logger, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"queue": entries})
}

// Events returns the newest playback event-log rows for a room.
func (h *RoomHandler) Events(w http.ResponseWriter, r *http.Request) {
	roomID, ok := RoomIDParam(w, r)
	if !ok {
		return
	}

	limit := int(utils.ParseInt(r.URL.Query().Get("limit"), 0))

	events, err := h.rooms.RecentEvents(r.Context(), roomID, limit)
	if err != nil {
		RespondEngineError(w, h.logger, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Create opens a new room with the caller as host.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(w, r)
	if userID == uuid.Nil {
		return
	}

	var input models.CreateRoomInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	input.HostUserID = userID

	snapshot, err := h.rooms.Create(r.Context(), input)
	if err != nil {
		RespondEngineError(w, h.logger, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, snapshot)
}

// Join adds the caller to a room and returns the snapshot.
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(w, r)
	if userID == uuid.Nil {
		return
	}
	roomID, ok := RoomIDParam(w, r)
	if !ok {
		return
	}

	snapshot, err := h.rooms.Join(r.Context(), roomID, userID)
	if err != nil {
		RespondEngineError(w, h.logger, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, snapshot)
}

// Leave removes the caller from a room. A host leaving starts the room's
// grace window rather than closing it outright.
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(w, r)
	if userID == uuid.Nil {
		return
	}
	roomID, ok := RoomIDParam(w, r)
	if !ok {
		return
	}

	if err := h.rooms.Leave(r.Context(), roomID, userID); err != nil {
		RespondEngineError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Close shuts a room down permanently. Only the host may close it.
func (h *RoomHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID := GetUserIDFromContext(w, r)
	if userID == uuid.Nil {
		return
	}
	roomID, ok := RoomIDParam(w, r)
	if !ok {
		return
	}

	if err := h.rooms.Close(r.Context(), roomID, userID); err != nil {
		RespondEngineError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
