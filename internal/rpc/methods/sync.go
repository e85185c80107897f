package methods

import (
	"context"

	"norelock.dev/syncroom/backend/internal/clock"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/rpc"
	"norelock.dev/syncroom/backend/internal/services/room"
	"norelock.dev/syncroom/backend/internal/utils"
)

// SyncHandler handles clock sync, the host command pipeline and the
// member sync pipeline.
type SyncHandler struct {
	rooms  room.RoomManager
	hub    *rpc.Hub
	status *room.StatusAggregator
	clock  *clock.Clock
	logger *utils.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(rooms room.RoomManager, hub *rpc.Hub, status *room.StatusAggregator, clk *clock.Clock, logger *utils.Logger) *SyncHandler {
	return &SyncHandler{
		rooms:  rooms,
		hub:    hub,
		status: status,
		clock:  clk,
		logger: logger,
	}
}

// RegisterMethods registers all sync-related RPC methods.
func (h *SyncHandler) RegisterMethods(hr rpc.HandlerRegistry) {
	auth := hr.Wrap(rpc.AuthMiddleware)
	rpc.Register(hr, rpc.MethodSyncTiming, h.Timing)
	rpc.Register(auth, rpc.MethodSyncHostAttach, h.HostAttach)
	rpc.Register(auth, rpc.MethodSyncHostCommand, h.HostCommand)
	rpc.Register(auth, rpc.MethodSyncMemberJoin, h.MemberJoin)
	rpc.Register(auth, rpc.MethodSyncMemberStatus, h.MemberStatus)
}

// TimingParams represents the parameters for the Timing method.
type TimingParams struct {
	ClientSendMs int64 `json:"client_send_ms"`
}

// TimingResult is the clock sync reply. Both server timestamps come from
// the same monotonic clock, so server_send_ms is never earlier than
// server_receive_ms.
type TimingResult struct {
	ClientSendMs    int64 `json:"client_send_ms"`
	ServerReceiveMs int64 `json:"server_receive_ms"`
	ServerSendMs    int64 `json:"server_send_ms"`
}

// Timing answers a clock sync probe. The handler touches no store; the
// reply is built and stamped without blocking I/O between the two reads.
func (h *SyncHandler) Timing(ctx context.Context, client *rpc.Client, params *TimingParams) (any, error) {
	result := TimingResult{
		ClientSendMs:    params.ClientSendMs,
		ServerReceiveMs: h.clock.NowMs(),
	}
	result.ServerSendMs = h.clock.NowMs()
	return result, nil
}

// HostAttach verifies the caller is the room host, marks the host
// connected, and cancels a running grace timer. The connection is
// remembered as hosting so a disconnect starts the grace window.
func (h *SyncHandler) HostAttach(ctx context.Context, client *rpc.Client, params *RoomIDParam) (any, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return nil, err
	}

	if err := h.rooms.HostAttached(ctx, roomID, client.UserID); err != nil {
		return nil, err
	}
	client.MarkHostAttached(roomID)

	snapshot, err := h.rooms.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return newSnapshotResult(snapshot, h.clock.Now()), nil
}

// HostCommandParams represents the parameters for the HostCommand method.
// The type field selects the command: track skips to a new track,
// position seeks within the current one, control plays or pauses.
type HostCommandParams struct {
	Type       string `json:"type"`
	RoomID     string `json:"room_id"`
	TrackID    string `json:"track_id,omitempty"`
	PositionMs *int64 `json:"position_ms,omitempty"`
	Status     string `json:"status,omitempty"`
}

// ServerResponse acknowledges a host command. Rejected commands report
// ERROR with a message in the same response shape; the stream continues
// either way.
type ServerResponse struct {
	Status           string               `json:"status"`
	ErrorMessage     string               `json:"error_message,omitempty"`
	TotalMemberCount int64                `json:"total_member_count,omitempty"`
	ReadyMemberCount int                  `json:"ready_member_count,omitempty"`
	MemberStatuses   []room.MemberSummary `json:"member_statuses,omitempty"`
}

func commandError(message string) *ServerResponse {
	return &ServerResponse{
		Status:       rpc.ResponseError,
		ErrorMessage: message,
	}
}

// HostCommand applies one host playback command and acknowledges it with
// the room's member and readiness counts.
func (h *SyncHandler) HostCommand(ctx context.Context, client *rpc.Client, params *HostCommandParams) (any, error) {
	resp, err := h.applyHostCommand(ctx, client, params)
	if err == nil && resp != nil {
		status := "acknowledged"
		if resp.Status == rpc.ResponseError {
			status = "rejected"
		}
		hostCommandsTotal.WithLabelValues(commandTypeLabel(params.Type), status).Inc()
	}
	return resp, err
}

func (h *SyncHandler) applyHostCommand(ctx context.Context, client *rpc.Client, params *HostCommandParams) (*ServerResponse, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return commandError("invalid room_id"), nil
	}

	var changes models.PlaybackChanges
	switch params.Type {
	case rpc.CommandTypeTrack:
		if params.TrackID == "" {
			return commandError("track_id is required"), nil
		}
		trackID := params.TrackID
		changes.TrackID = &trackID
		// A track change restarts playback at zero unless the command
		// carries an explicit position.
		position := int64(0)
		if params.PositionMs != nil {
			position = *params.PositionMs
		}
		changes.PositionMs = &position

	case rpc.CommandTypePosition:
		if params.PositionMs == nil {
			return commandError("position_ms is required"), nil
		}
		changes.PositionMs = params.PositionMs

	case rpc.CommandTypeControl:
		status := models.PlaybackStatus(params.Status)
		if status != models.PlaybackPlaying && status != models.PlaybackPaused {
			return commandError("status must be PLAYING or PAUSED"), nil
		}
		changes.Status = &status
		if params.PositionMs != nil {
			changes.PositionMs = params.PositionMs
		}

	default:
		return commandError("unknown command type"), nil
	}

	if _, err := h.rooms.UpdatePlayback(ctx, roomID, client.UserID, changes); err != nil {
		if models.IsTransient(err) || models.KindOf(err) == models.KindInternal {
			h.logger.Error("Host command failed", err, "roomId", roomID, "userId", client.UserID)
		}
		return commandError(inBandMessage(err)), nil
	}

	total, err := h.rooms.MemberCount(ctx, roomID)
	if err != nil {
		h.logger.Error("Failed to count members for ack", err, "roomId", roomID)
		// Continue anyway, the command is committed.
	}

	return &ServerResponse{
		Status:           rpc.ResponseAcknowledged,
		TotalMemberCount: total,
		ReadyMemberCount: h.status.ReadyCount(roomID),
		MemberStatuses:   h.status.Summaries(roomID),
	}, nil
}

// MemberJoin joins the caller to the room and registers this connection
// for sync:broadcast frames. The registration happens before the
// snapshot read, so every event after the snapshot reaches the member.
func (h *SyncHandler) MemberJoin(ctx context.Context, client *rpc.Client, params *RoomIDParam) (any, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return nil, err
	}

	if _, err := h.rooms.Join(ctx, roomID, client.UserID); err != nil {
		return nil, err
	}
	if err := h.hub.Subscribe(ctx, client, roomID, rpc.StreamModeBroadcast); err != nil {
		return nil, err
	}

	snapshot, err := h.rooms.Snapshot(ctx, roomID)
	if err != nil {
		h.hub.Unsubscribe(client, roomID)
		return nil, err
	}
	return newSnapshotResult(snapshot, h.clock.Now()), nil
}

// MemberStatusParams represents the sync.member.status notification.
type MemberStatusParams struct {
	RoomID     string `json:"room_id"`
	PositionMs int64  `json:"position_ms"`
	Ready      bool   `json:"ready"`
	LatencyMs  int64  `json:"latency_ms"`
}

// MemberStatus records a member's sync report. It is a notification;
// nothing is sent back.
func (h *SyncHandler) MemberStatus(ctx context.Context, client *rpc.Client, params *MemberStatusParams) (any, error) {
	roomID, err := parseRoomID(params.RoomID)
	if err != nil {
		return nil, err
	}
	if !client.Watching(roomID) {
		return nil, models.NewFailedPrecondition(models.ErrMemberNotFound, "no stream registered for room")
	}

	h.status.Report(roomID, client.UserID, params.PositionMs, params.Ready, params.LatencyMs)
	return nil, nil
}
