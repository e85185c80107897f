// Package models contains the data structures used throughout the application.
package models

// RoomStatus is the lifecycle state of a room.
//
// Only Active and Inactive are ever stored durably; AwaitingHost is a
// derived state (room active, host disconnected, grace timer running) that
// appears on stream updates but never in the rooms table.
type RoomStatus string

const (
	// RoomActive means the room accepts joins and playback commands.
	RoomActive RoomStatus = "ACTIVE"
	// RoomAwaitingHost means the host is disconnected and the grace window
	// is running.
	RoomAwaitingHost RoomStatus = "AWAITING_HOST"
	// RoomInactive is terminal. Inactive rooms never reactivate.
	RoomInactive RoomStatus = "INACTIVE"
)

// Visibility controls whether a room is listed publicly.
type Visibility string

const (
	// VisibilityPublic rooms appear in listings.
	VisibilityPublic Visibility = "PUBLIC"
	// VisibilityPrivate rooms are reachable by code only.
	VisibilityPrivate Visibility = "PRIVATE"
)

// MemberRole distinguishes the room's host from its participants.
type MemberRole string

const (
	// RoleHost is held by exactly one active member per room.
	RoleHost MemberRole = "HOST"
	// RoleParticipant is every other member.
	RoleParticipant MemberRole = "PARTICIPANT"
)

// PlaybackStatus is the play/pause state of a room's playback.
type PlaybackStatus string

const (
	// PlaybackPlaying means position advances with wall time.
	PlaybackPlaying PlaybackStatus = "PLAYING"
	// PlaybackPaused means position is frozen at its stored value.
	PlaybackPaused PlaybackStatus = "PAUSED"
)

// PlaybackEventType classifies rows in the playback event log.
type PlaybackEventType string

const (
	// EventPlay records a transition to PLAYING.
	EventPlay PlaybackEventType = "PLAY"
	// EventPause records a transition to PAUSED.
	EventPause PlaybackEventType = "PAUSE"
	// EventSeek records a position change on the current track.
	EventSeek PlaybackEventType = "SEEK"
	// EventSkip records a track change.
	EventSkip PlaybackEventType = "SKIP"
)

// QueueAction is the kind of queue mutation carried by a QueueUpdate event.
type QueueAction string

const (
	// QueueActionAdd appends a track at the end of the queue.
	QueueActionAdd QueueAction = "add"
	// QueueActionRemove deletes a position and shifts later entries down.
	QueueActionRemove QueueAction = "remove"
)
