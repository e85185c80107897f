// Package models contains the data structures used throughout the application.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Room event type discriminators as they appear on the wire.
const (
	// EventTypeMemberJoin announces a member joining a room.
	EventTypeMemberJoin = "member_join"
	// EventTypeMemberLeave announces a member leaving a room.
	EventTypeMemberLeave = "member_leave"
	// EventTypePlaybackUpdate carries a committed playback change set.
	EventTypePlaybackUpdate = "playback_update"
	// EventTypeHostDisconnected announces the grace window starting.
	EventTypeHostDisconnected = "host_disconnected"
	// EventTypeQueueUpdate announces a queue add or remove.
	EventTypeQueueUpdate = "queue_update"
	// EventTypeRoomStatusUpdate announces a lifecycle transition.
	EventTypeRoomStatusUpdate = "room_status_update"
)

// RoomEvent is the closed set of events published on a room's updates
// channel. The wire format is a flat JSON object carrying the variant's
// fields next to `type`, `room_id` and `timestamp`; UUIDs are canonical
// text.
type RoomEvent interface {
	// EventType returns the wire discriminator for the variant.
	EventType() string
}

// MemberJoin is published after a user gains an attached membership.
type MemberJoin struct {
	UserID      uuid.UUID `json:"user_id"`
	MemberCount int64     `json:"member_count"`
}

// EventType implements RoomEvent.
func (MemberJoin) EventType() string { return EventTypeMemberJoin }

// MemberLeave is published after a user's membership detaches.
type MemberLeave struct {
	UserID      uuid.UUID `json:"user_id"`
	MemberCount int64     `json:"member_count"`
}

// EventType implements RoomEvent.
func (MemberLeave) EventType() string { return EventTypeMemberLeave }

// PlaybackUpdate is published after a playback change commits durably.
type PlaybackUpdate struct {
	Changes PlaybackChanges `json:"changes"`
}

// EventType implements RoomEvent.
func (PlaybackUpdate) EventType() string { return EventTypePlaybackUpdate }

// HostDisconnected is published when the host detaches and the grace
// window starts counting down.
type HostDisconnected struct {
	UserID         uuid.UUID `json:"user_id"`
	TimeoutSeconds int       `json:"timeout_seconds"`
}

// EventType implements RoomEvent.
func (HostDisconnected) EventType() string { return EventTypeHostDisconnected }

// QueueUpdate is published after a queue mutation commits.
type QueueUpdate struct {
	Action   QueueAction `json:"action"`
	Position int         `json:"position"`
	TrackID  string      `json:"track_id,omitempty"`
}

// EventType implements RoomEvent.
func (QueueUpdate) EventType() string { return EventTypeQueueUpdate }

// RoomStatusUpdate is published on lifecycle transitions: creation,
// host reattach, grace expiry, explicit close and server shutdown.
type RoomStatusUpdate struct {
	Status RoomStatus `json:"status"`
	Reason string     `json:"reason"`
}

// EventType implements RoomEvent.
func (RoomStatusUpdate) EventType() string { return EventTypeRoomStatusUpdate }

// EventEnvelope is a decoded room event with its channel metadata.
type EventEnvelope struct {
	// Type is the wire discriminator.
	Type string `json:"type"`

	// RoomID scopes the event to a room.
	RoomID uuid.UUID `json:"room_id"`

	// Timestamp is the publish time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Event is the decoded variant.
	Event RoomEvent `json:"-"`
}

// EncodeRoomEvent serializes an event into the flat wire object published
// on the room's updates channel.
func EncodeRoomEvent(roomID uuid.UUID, event RoomEvent, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	// Re-open the variant as a map so envelope fields sit beside its own.
	flat := make(map[string]any)
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	flat["type"] = event.EventType()
	flat["room_id"] = roomID.String()
	flat["timestamp"] = at.UnixMilli()

	return json.Marshal(flat)
}

// DecodeRoomEvent parses a wire object back into its envelope and typed
// variant. Unknown discriminators are an Invalid error: publisher and
// subscriber must agree on the closed variant set.
func DecodeRoomEvent(data []byte) (*EventEnvelope, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, NewInvalid(err, "malformed room event")
	}

	var event RoomEvent
	var err error
	switch envelope.Type {
	case EventTypeMemberJoin:
		var v MemberJoin
		err = json.Unmarshal(data, &v)
		event = v
	case EventTypeMemberLeave:
		var v MemberLeave
		err = json.Unmarshal(data, &v)
		event = v
	case EventTypePlaybackUpdate:
		var v PlaybackUpdate
		err = json.Unmarshal(data, &v)
		event = v
	case EventTypeHostDisconnected:
		var v HostDisconnected
		err = json.Unmarshal(data, &v)
		event = v
	case EventTypeQueueUpdate:
		var v QueueUpdate
		err = json.Unmarshal(data, &v)
		event = v
	case EventTypeRoomStatusUpdate:
		var v RoomStatusUpdate
		err = json.Unmarshal(data, &v)
		event = v
	default:
		return nil, NewInvalid(ErrUnknownEvent, "unknown room event type: "+envelope.Type)
	}
	if err != nil {
		return nil, NewInvalid(err, "malformed "+envelope.Type+" event")
	}

	envelope.Event = event
	return &envelope, nil
}
