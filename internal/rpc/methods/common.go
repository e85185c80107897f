// Package methods implements the JSON-RPC methods of the room engine and
// registers them with the RPC router.
package methods

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/rpc"
)

// RoomIDParam is the single-room parameter shared by most methods.
type RoomIDParam struct {
	RoomID string `json:"room_id"`
}

// parseRoomID validates a room_id parameter.
func parseRoomID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, rpc.NewError(rpc.ErrInvalidParams, "room_id is required", nil)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, rpc.NewError(rpc.ErrInvalidParams, "invalid room_id", nil)
	}
	return id, nil
}

// playbackPayload is the wire form of playback state. The position is the
// effective position at read time, not the stored one.
type playbackPayload struct {
	TrackID    string                `json:"track_id,omitempty"`
	PositionMs int64                 `json:"position_ms"`
	Status     models.PlaybackStatus `json:"status"`
	UpdatedAt  int64                 `json:"updated_at"`
}

func newPlaybackPayload(state *models.PlaybackState, now time.Time) *playbackPayload {
	if state == nil {
		return nil
	}
	return &playbackPayload{
		TrackID:    state.TrackID,
		PositionMs: state.EffectivePositionMs(now),
		Status:     state.Status,
		UpdatedAt:  state.UpdatedAt.UnixMilli(),
	}
}

// roomSnapshotResult is the attach-time view handed to joining clients:
// the durable room row, live playback, and current membership.
type roomSnapshotResult struct {
	Room          *models.Room      `json:"room"`
	Status        models.RoomStatus `json:"status"`
	Playback      *playbackPayload  `json:"playback,omitempty"`
	Members       []uuid.UUID       `json:"members,omitempty"`
	MemberCount   int64             `json:"member_count"`
	HostConnected bool              `json:"host_connected"`
}

func newSnapshotResult(snapshot *models.RoomSnapshot, now time.Time) *roomSnapshotResult {
	result := &roomSnapshotResult{
		Room:        snapshot.Room,
		Status:      snapshot.Info.Status,
		Playback:    newPlaybackPayload(snapshot.Playback, now),
		Members:     snapshot.Members,
		MemberCount: snapshot.MemberCount,
	}
	if snapshot.Host != nil {
		result.HostConnected = snapshot.Host.Connected
		if result.Status == models.RoomActive && !snapshot.Host.Connected {
			result.Status = models.RoomAwaitingHost
		}
	}
	return result
}

// inBandMessage extracts a caller-safe message for an in-band stream
// error. Internal details never leave the server.
func inBandMessage(err error) string {
	var engineErr *models.EngineError
	if errors.As(err, &engineErr) && engineErr.Kind != models.KindInternal {
		return engineErr.Message
	}
	return "command failed"
}
