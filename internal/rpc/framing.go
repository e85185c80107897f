package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"norelock.dev/syncroom/backend/internal/models"
)

// memberUpdateFrame is the room:update frame for membership changes.
type memberUpdateFrame struct {
	Type        string    `json:"type"`
	RoomID      uuid.UUID `json:"room_id"`
	Timestamp   int64     `json:"timestamp"`
	Action      string    `json:"action"`
	UserID      uuid.UUID `json:"user_id"`
	MemberCount int64     `json:"member_count"`
}

// playbackUpdateFrame is the room:update frame for playback changes.
type playbackUpdateFrame struct {
	Type      string                 `json:"type"`
	RoomID    uuid.UUID              `json:"room_id"`
	Timestamp int64                  `json:"timestamp"`
	Changes   models.PlaybackChanges `json:"changes"`
}

// roomStatusFrame is the room:update frame for lifecycle transitions.
// A host disconnect surfaces here as a derived AWAITING_HOST status with
// the grace countdown attached.
type roomStatusFrame struct {
	Type           string            `json:"type"`
	RoomID         uuid.UUID         `json:"room_id"`
	Timestamp      int64             `json:"timestamp"`
	Status         models.RoomStatus `json:"status"`
	Reason         string            `json:"reason"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// queueUpdateFrame is the room:update frame for queue mutations.
type queueUpdateFrame struct {
	Type      string             `json:"type"`
	RoomID    uuid.UUID          `json:"room_id"`
	Timestamp int64              `json:"timestamp"`
	Action    models.QueueAction `json:"action"`
	Position  int                `json:"position"`
	TrackID   string             `json:"track_id,omitempty"`
}

// StreamUpdateFrame converts a room event into its room:update frame.
func StreamUpdateFrame(envelope *models.EventEnvelope) (any, error) {
	switch event := envelope.Event.(type) {
	case models.MemberJoin:
		return memberUpdateFrame{
			Type:        StreamTypeMemberUpdate,
			RoomID:      envelope.RoomID,
			Timestamp:   envelope.Timestamp,
			Action:      MemberActionJoin,
			UserID:      event.UserID,
			MemberCount: event.MemberCount,
		}, nil
	case models.MemberLeave:
		return memberUpdateFrame{
			Type:        StreamTypeMemberUpdate,
			RoomID:      envelope.RoomID,
			Timestamp:   envelope.Timestamp,
			Action:      MemberActionLeave,
			UserID:      event.UserID,
			MemberCount: event.MemberCount,
		}, nil
	case models.PlaybackUpdate:
		return playbackUpdateFrame{
			Type:      StreamTypePlaybackUpdate,
			RoomID:    envelope.RoomID,
			Timestamp: envelope.Timestamp,
			Changes:   event.Changes,
		}, nil
	case models.HostDisconnected:
		return roomStatusFrame{
			Type:           StreamTypeRoomStatusUpdate,
			RoomID:         envelope.RoomID,
			Timestamp:      envelope.Timestamp,
			Status:         models.RoomAwaitingHost,
			Reason:         "host_disconnected",
			TimeoutSeconds: event.TimeoutSeconds,
		}, nil
	case models.RoomStatusUpdate:
		return roomStatusFrame{
			Type:      StreamTypeRoomStatusUpdate,
			RoomID:    envelope.RoomID,
			Timestamp: envelope.Timestamp,
			Status:    event.Status,
			Reason:    event.Reason,
		}, nil
	case models.QueueUpdate:
		return queueUpdateFrame{
			Type:      StreamTypeQueueUpdate,
			RoomID:    envelope.RoomID,
			Timestamp: envelope.Timestamp,
			Action:    event.Action,
			Position:  event.Position,
			TrackID:   event.TrackID,
		}, nil
	default:
		return nil, models.NewInvalid(models.ErrUnknownEvent, fmt.Sprintf("no stream frame for event %T", envelope.Event))
	}
}

// BroadcastFrame converts a room event into its sync:broadcast payload,
// which is the flat tagged event object as published on the room channel.
func BroadcastFrame(envelope *models.EventEnvelope) (json.RawMessage, error) {
	raw, err := models.EncodeRoomEvent(envelope.RoomID, envelope.Event, time.UnixMilli(envelope.Timestamp))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
