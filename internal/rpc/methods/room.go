package methods

import (
	"context"

	"github.com/google/uuid"

	"norelock.dev/syncroom/backend/internal/clock"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/rpc"
	"norelock.dev/syncroom/backend/internal/services/room"
	"norelock.dev/syncroom/backend/internal/utils"
)

// RoomHandler handles room lifecycle and queue RPC methods.
type RoomHandler struct {
	rooms  room.RoomManager
	hub    *rpc.Hub
	status *room.StatusAggregator
	clock  *clock.Clock
	logger *utils.Logger
}

// NewRoomHandler creates a new RoomHandler.
func NewRoomHandler(rooms room.RoomManager, hub *rpc.Hub, status *room.StatusAggregator, clk *clock.Clock, logger *utils.Logger) *RoomHandler {
	return &RoomHandler{
		rooms:  rooms,
		hub:    hub,
		status: status,
		clock:  clk,
		logger: logger,
	}
}

// RegisterMethods registers all room-related RPC methods.
func (h *RoomHandler) RegisterMethods(hr rpc.HandlerRegistry) {
	auth := hr.Wrap(rpc.AuthMiddleware)
	rpc.Register(auth, rpc.MethodRoomCreate, h.CreateRoom)
	rpc.Register(hr, rpc.MethodRoomGet, h.GetRoom)
	rpc.Register(hr, rpc.MethodRoomGetByCode, h.GetRoomByCode)
	rpc.Register(auth, rpc.MethodRoomJoin, h.JoinRoom)
	rpc.Register(auth, rpc.MethodRoomLeave, h.LeaveRoom)
	rpc.Register(hr, rpc.MethodRoomList, h.ListRooms)
	rpc.Register(auth, rpc.MethodRoomClose, h.CloseRoom)
	rpc.Register(auth, rpc.MethodRoomJoinStream, h.JoinStream)
	rpc.Register(auth, rpc.MethodRoomQueueAdd, h.QueueAdd)
	rpc.Register(auth, rpc.MethodRoomQueueRemove, h.QueueRemove)
	rpc.Register(hr, rpc.MethodRoomGetQueue, h.GetQueue)
	rpc.Register(hr, rpc.MethodRoomGetEvents, h.GetEvents)
}

// CreateRoomParams represents the parameters for the CreateRoom method.
type CreateRoomParams struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Visibility  string `json:"visibility,omitempty"`
	InviteOnly  bool   `json:"invite_only,omitempty"`
}

// CreateRoom creates a room with the caller as host and returns the
// initial snapshot, including the join code.
func (h *RoomHandler) CreateRoom(ctx context.Context, client *rpc.Client, params *CreateRoomParams) (any, error) {
	input := models.CreateRoomInput{
		Name:        params.Name,
		Description: params.Description,
		HostUserID:  client.UserID,
		Visibility:  models.Visibility(params.Visibility),
		InviteOnly:  params.InviteOnly,
	}

	snapshot, err := h.rooms.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	return newSnapshotResult(snapshot, h.clock.Now()), nil
}

// GetRoom returns a room by ID.
func (h *RoomHandler) GetRoom(ctx context.Context, client *rpc.Client, params *RoomIDParam) (any, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return nil, err
	}
	r, err := h.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": r}, nil
}

// GetRoomByCodeParams represents the parameters for the GetRoomByCode method.
type GetRoomByCodeParams struct {
	Code string `json:"code"`
}

// GetRoomByCode returns a room by its join code.
func (h *RoomHandler) GetRoomByCode(ctx context.Context, client *rpc.Client, params *GetRoomByCodeParams) (any, error) {
	if params.Code == "" {
		return nil, rpc.NewError(rpc.ErrInvalidParams, "code is required", nil)
	}
	r, err := h.rooms.GetRoomByCode(ctx, params.Code)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": r}, nil
}

// JoinRoomParams represents the parameters for the JoinRoom method. A
// room is addressed by ID or by join code.
type JoinRoomParams struct {
	RoomID string `json:"room_id,omitempty"`
	Code   string `json:"code,omitempty"`
}

// JoinRoom attaches the caller to a room's membership and returns the
// room snapshot. Joining an already joined room is a no-op.
func (h *RoomHandler) JoinRoom(ctx context.Context, client *rpc.Client, params *JoinRoomParams) (any, error) {
	roomID, err := h.resolveRoomID(ctx, params)
	if err != nil {
		return nil, err
	}

	snapshot, err := h.rooms.Join(ctx, roomID, client.UserID)
	if err != nil {
		return nil, err
	}
	return newSnapshotResult(snapshot, h.clock.Now()), nil
}

func (h *RoomHandler) resolveRoomID(ctx context.Context, params *JoinRoomParams) (uuid.UUID, error) {
	switch {
	case params.RoomID != "":
		return parseRoomID(params.RoomID)
	case params.Code != "":
		r, err := h.rooms.GetRoomByCode(ctx, params.Code)
		if err != nil {
			return uuid.Nil, err
		}
		return r.ID, nil
	default:
		return uuid.Nil, rpc.NewError(rpc.ErrInvalidParams, "room_id or code is required", nil)
	}
}

// LeaveRoom detaches the caller from a room. A leaving host starts the
// grace window instead of removing the room.
func (h *RoomHandler) LeaveRoom(ctx context.Context, client *rpc.Client, params *RoomIDParam) (any, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return nil, err
	}

	if err := h.rooms.Leave(ctx, roomID, client.UserID); err != nil {
		return nil, err
	}

	h.hub.Unsubscribe(client, roomID)
	client.ClearHostAttached(roomID)
	h.status.Remove(roomID, client.UserID)
	return map[string]bool{"left": true}, nil
}

// ListRoomsParams represents the parameters for the ListRooms method.
type ListRoomsParams struct {
	Page       int    `json:"page,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
	Visibility string `json:"visibility,omitempty"`
}

// ListRooms returns a page of active rooms.
func (h *RoomHandler) ListRooms(ctx context.Context, client *rpc.Client, params *ListRoomsParams) (any, error) {
	filter := models.RoomFilter{
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	if params.Visibility != "" {
		visibility := models.Visibility(params.Visibility)
		filter.Visibility = &visibility
	}
	filter.Normalize()

	rooms, err := h.rooms.ListRooms(ctx, filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"rooms":     rooms,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	}, nil
}

// CloseRoom closes a room permanently. Only the host may close it.
func (h *RoomHandler) CloseRoom(ctx context.Context, client *rpc.Client, params *RoomIDParam) (any, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return nil, err
	}

	if err := h.rooms.Close(ctx, roomID, client.UserID); err != nil {
		return nil, err
	}

	client.ClearHostAttached(roomID)
	return map[string]bool{"closed": true}, nil
}

// JoinStream joins the caller to the room and registers this connection
// for room:update frames. The registration happens before the snapshot
// read, so every event after the snapshot reaches the subscriber.
func (h *RoomHandler) JoinStream(ctx context.Context, client *rpc.Client, params *RoomIDParam) (any, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return nil, err
	}

	if _, err := h.rooms.Join(ctx, roomID, client.UserID); err != nil {
		return nil, err
	}
	if err := h.hub.Subscribe(ctx, client, roomID, rpc.StreamModeUpdates); err != nil {
		return nil, err
	}

	snapshot, err := h.rooms.Snapshot(ctx, roomID)
	if err != nil {
		h.hub.Unsubscribe(client, roomID)
		return nil, err
	}
	return newSnapshotResult(snapshot, h.clock.Now()), nil
}

// QueueAddParams represents the parameters for the QueueAdd method.
type QueueAddParams struct {
	RoomID  string `json:"room_id"`
	TrackID string `json:"track_id"`
}

// QueueAdd appends a track to the room queue.
func (h *RoomHandler) QueueAdd(ctx context.Context, client *rpc.Client, params *QueueAddParams) (any, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return nil, err
	}

	entry, err := h.rooms.QueueAdd(ctx, roomID, client.UserID, params.TrackID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entry": entry}, nil
}

// QueueRemoveParams represents the parameters for the QueueRemove method.
type QueueRemoveParams struct {
	RoomID   string `json:"room_id"`
	Position int    `json:"position"`
}

// QueueRemove removes the entry at a queue position; later entries shift
// down.
func (h *RoomHandler) QueueRemove(ctx context.Context, client *rpc.Client, params *QueueRemoveParams) (any, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return nil, err
	}

	trackID, err := h.rooms.QueueRemove(ctx, roomID, client.UserID, params.Position)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"position": params.Position,
		"track_id": trackID,
	}, nil
}

// GetQueue returns the room queue in position order.
func (h *RoomHandler) GetQueue(ctx context.Context, client *rpc.Client, params *RoomIDParam) (any, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return nil, err
	}
	entries, err := h.rooms.GetQueue(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": entries}, nil
}

// GetEventsParams represents the parameters for the GetEvents method.
type GetEventsParams struct {
	RoomID string `json:"room_id"`
	Limit  int    `json:"limit,omitempty"`
}

// GetEvents returns the room's most recent playback audit events, newest
// first.
func (h *RoomHandler) GetEvents(ctx context.Context, client *rpc.Client, params *GetEventsParams) (any, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return nil, err
	}
	events, err := h.rooms.RecentEvents(ctx, roomID, params.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"events": events}, nil
}
