// Package models contains the data structures used throughout the application.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Room represents a listening-party room where a host plays music and
// participants stay synchronized on the same track and position.
type Room struct {
	// ID is the unique identifier for the room.
	ID uuid.UUID `json:"id"`

	// Code is the 6 character shareable join code, unique among active rooms.
	Code string `json:"code"`

	// Name is the display name of the room.
	Name string `json:"name" validate:"required,min=2,max=50"`

	// Description provides information about the room.
	Description string `json:"description" validate:"max=1000"`

	// HostUserID is the user who created the room and owns playback.
	// It never changes for the lifetime of the room.
	HostUserID uuid.UUID `json:"hostUserId"`

	// Visibility controls whether the room appears in listings.
	Visibility Visibility `json:"visibility" validate:"oneof=PUBLIC PRIVATE"`

	// InviteOnly restricts joining to users holding the room code.
	InviteOnly bool `json:"inviteOnly"`

	// Status is ACTIVE or INACTIVE; INACTIVE is terminal.
	Status RoomStatus `json:"status"`

	// CreatedAt is when the room row was inserted.
	CreatedAt time.Time `json:"createdAt"`
}

// IsActive reports whether the room still accepts joins and commands.
func (r *Room) IsActive() bool {
	return r.Status == RoomActive
}

// Membership is one user's stint in one room. A user has at most one
// active row per room; rows become immutable once LeftAt is set.
type Membership struct {
	// ID is the row identifier.
	ID int64 `json:"id"`

	// RoomID is the room this membership belongs to.
	RoomID uuid.UUID `json:"roomId"`

	// UserID is the member.
	UserID uuid.UUID `json:"userId"`

	// Role is HOST for exactly one active row per room.
	Role MemberRole `json:"role"`

	// JoinedAt is when the user joined.
	JoinedAt time.Time `json:"joinedAt"`

	// LeftAt is set when the stint ends; nil while active.
	LeftAt *time.Time `json:"leftAt,omitempty"`
}

// PlaybackState is the authoritative playback snapshot for a room.
type PlaybackState struct {
	// RoomID is the room this state belongs to.
	RoomID uuid.UUID `json:"roomId"`

	// TrackID identifies the current track; empty when nothing has played.
	TrackID string `json:"trackId"`

	// PositionMs is the stored position. While PLAYING, the effective
	// position also includes wall time elapsed since UpdatedAt.
	PositionMs int64 `json:"positionMs"`

	// Status is PLAYING or PAUSED.
	Status PlaybackStatus `json:"status"`

	// UpdatedAt is when the stored position was last written.
	UpdatedAt time.Time `json:"updatedAt"`
}

// EffectivePositionMs returns the playback position as of now, adding
// elapsed wall time to the stored position while the room is PLAYING.
func (p *PlaybackState) EffectivePositionMs(now time.Time) int64 {
	if p.Status != PlaybackPlaying {
		return p.PositionMs
	}
	elapsed := now.Sub(p.UpdatedAt)
	if elapsed < 0 {
		return p.PositionMs
	}
	return p.PositionMs + elapsed.Milliseconds()
}

// PlaybackChanges is a partial playback update. Nil fields are untouched.
type PlaybackChanges struct {
	// TrackID replaces the current track when set.
	TrackID *string `json:"track_id,omitempty"`

	// PositionMs replaces the stored position when set.
	PositionMs *int64 `json:"position_ms,omitempty"`

	// Status replaces the play/pause state when set.
	Status *PlaybackStatus `json:"status,omitempty"`
}

// IsEmpty reports whether the change set carries no fields.
func (c PlaybackChanges) IsEmpty() bool {
	return c.TrackID == nil && c.PositionMs == nil && c.Status == nil
}

// EventType infers the event-log classification for this change set:
// SKIP when the track changes, else SEEK when only the position moves,
// else PLAY or PAUSE following the status.
func (c PlaybackChanges) EventType() PlaybackEventType {
	switch {
	case c.TrackID != nil:
		return EventSkip
	case c.PositionMs != nil && c.Status == nil:
		return EventSeek
	case c.Status != nil && *c.Status == PlaybackPlaying:
		return EventPlay
	default:
		return EventPause
	}
}

// QueueEntry is one track in a room's ordered queue. Positions form a
// dense 1..N sequence; removals shift later entries down.
type QueueEntry struct {
	// RoomID is the room the entry belongs to.
	RoomID uuid.UUID `json:"roomId"`

	// Position is the 1-based slot in the queue.
	Position int `json:"position"`

	// TrackID identifies the queued track.
	TrackID string `json:"trackId"`

	// AddedBy is the user who queued the track.
	AddedBy uuid.UUID `json:"addedBy"`

	// AddedAt is when the entry was inserted.
	AddedAt time.Time `json:"addedAt"`
}

// PlaybackEvent is one append-only audit row: who changed playback, how,
// and when. Rows are never mutated.
type PlaybackEvent struct {
	// ID is the row identifier.
	ID int64 `json:"id"`

	// RoomID is the room the event occurred in.
	RoomID uuid.UUID `json:"roomId"`

	// UserID is the actor, normally the host.
	UserID uuid.UUID `json:"userId"`

	// Type is PLAY, PAUSE, SEEK or SKIP.
	Type PlaybackEventType `json:"type"`

	// Payload is the raw change set as committed.
	Payload []byte `json:"payload"`

	// CreatedAt is the server-side timestamp of the commit.
	CreatedAt time.Time `json:"createdAt"`
}

// RoomInfo is the ephemeral `info` hash of a room session.
type RoomInfo struct {
	// Status mirrors the durable room status for fast checks.
	Status RoomStatus `json:"status"`

	// CreatedAt is when the session was established.
	CreatedAt time.Time `json:"createdAt"`

	// LastActivity is bumped on every publish to the room channel.
	LastActivity time.Time `json:"lastActivity"`
}

// HostPresence is the ephemeral `host` hash of a room session.
type HostPresence struct {
	// UserID is the room's host.
	UserID uuid.UUID `json:"userId"`

	// Connected is whether a live host stream is attached.
	Connected bool `json:"connected"`

	// LastSeen is the last time the host stream was observed.
	LastSeen time.Time `json:"lastSeen"`

	// DisconnectedAt is set while the grace window runs.
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

// RoomSnapshot is the consistent point-in-time view returned on stream
// attach: identity, session info, playback, membership and host presence.
type RoomSnapshot struct {
	// Room is the durable room row.
	Room *Room `json:"room"`

	// Info is the ephemeral session info.
	Info RoomInfo `json:"info"`

	// Playback is the current playback state.
	Playback *PlaybackState `json:"playback"`

	// Members lists the user ids currently attached via live streams.
	Members []uuid.UUID `json:"members"`

	// MemberCount is len(Members) at snapshot time.
	MemberCount int64 `json:"memberCount"`

	// Host is the host presence record.
	Host *HostPresence `json:"host,omitempty"`
}

// CreateRoomInput carries the caller-supplied fields for room creation.
type CreateRoomInput struct {
	// Name is the display name of the room.
	Name string `json:"name" validate:"required,min=2,max=50"`

	// Description provides information about the room.
	Description string `json:"description" validate:"max=1000"`

	// HostUserID is the creating user, who becomes the host.
	HostUserID uuid.UUID `json:"hostUserId" validate:"required"`

	// Visibility controls listing; defaults to PUBLIC when empty.
	Visibility Visibility `json:"visibility" validate:"omitempty,oneof=PUBLIC PRIVATE"`

	// InviteOnly restricts joining to code holders.
	InviteOnly bool `json:"inviteOnly"`
}

// RoomFilter narrows and pages ListRooms results.
type RoomFilter struct {
	// Visibility keeps only rooms with this visibility when set.
	Visibility *Visibility `json:"visibility,omitempty"`

	// HostUserID keeps only rooms hosted by this user when set.
	HostUserID *uuid.UUID `json:"hostUserId,omitempty"`

	// PageSize bounds the result count; defaults to 50, capped at 100.
	PageSize int `json:"pageSize"`

	// Page is the 1-based page number.
	Page int `json:"page"`
}

// ListRoomsDefaultPageSize is applied when a filter leaves PageSize zero.
const ListRoomsDefaultPageSize = 50

// ListRoomsMaxPageSize caps caller-requested page sizes.
const ListRoomsMaxPageSize = 100

// Normalize clamps paging fields into their allowed ranges.
func (f *RoomFilter) Normalize() {
	if f.PageSize <= 0 {
		f.PageSize = ListRoomsDefaultPageSize
	}
	if f.PageSize > ListRoomsMaxPageSize {
		f.PageSize = ListRoomsMaxPageSize
	}
	if f.Page < 1 {
		f.Page = 1
	}
}
