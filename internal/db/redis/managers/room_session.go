// Package managers contains the typed accessors over Redis that hold the
// ephemeral session view of every active room.
package managers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	r "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"norelock.dev/syncroom/backend/internal/clock"
	"norelock.dev/syncroom/backend/internal/db/redis"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

// roomInfoKey returns the key of the room's info hash.
func roomInfoKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s:info", roomID)
}

// roomHostKey returns the key of the room's host presence record.
func roomHostKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s:host", roomID)
}

// roomPlaybackKey returns the key of the room's playback hash.
func roomPlaybackKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s:playback", roomID)
}

// roomMembersKey returns the key of the room's member set.
func roomMembersKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s:members", roomID)
}

// userRoomsKey returns the key of the reverse index from a user to the rooms
// they are currently in.
func userRoomsKey(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:rooms", userID)
}

// RoomUpdatesChannel returns the pub/sub channel carrying a room's events.
func RoomUpdatesChannel(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s:updates", roomID)
}

// RoomSessionManager is the ephemeral state store for rooms: current status,
// host presence, live member set, playback mirror and the per-room event
// channel. Durable identity and history live in Postgres; this view exists
// only while a session is active.
type RoomSessionManager struct {
	client *redis.Client
	clock  *clock.Clock
	logger *utils.Logger
}

// NewRoomSessionManager creates a new room session manager.
func NewRoomSessionManager(client *redis.Client, clk *clock.Clock, logger *utils.Logger) *RoomSessionManager {
	if logger == nil {
		logger = client.Logger()
	}
	return &RoomSessionManager{
		client: client,
		clock:  clk,
		logger: logger.Named("room_session"),
	}
}

// CreateRoomSession initializes the session view for a new room: status
// ACTIVE, empty member set, paused playback at position zero and a host
// record that is not yet connected.
func (m *RoomSessionManager) CreateRoomSession(ctx context.Context, roomID, hostID uuid.UUID) error {
	nowMs := m.clock.NowMs()

	host := models.HostPresence{
		UserID:    hostID,
		Connected: false,
		LastSeen:  time.UnixMilli(nowMs),
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, roomMembersKey(roomID))
	pipe.HSet(ctx, roomInfoKey(roomID),
		"status", string(models.RoomActive),
		"created_at", nowMs,
		"last_activity", nowMs,
	)
	pipe.HSet(ctx, roomPlaybackKey(roomID),
		"track_id", "",
		"position_ms", 0,
		"status", string(models.PlaybackPaused),
		"updated_at", nowMs,
	)
	hostData, err := json.Marshal(host)
	if err != nil {
		return err
	}
	pipe.Set(ctx, roomHostKey(roomID), hostData, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("Failed to create room session", err, "roomId", roomID)
		return err
	}

	m.logger.Info("Created room session", "roomId", roomID, "hostId", hostID)
	return nil
}

// IsRoomActive reports whether the room's session view exists with status
// ACTIVE. A missing session reads as inactive.
func (m *RoomSessionManager) IsRoomActive(ctx context.Context, roomID uuid.UUID) (bool, error) {
	status, err := m.client.HGet(ctx, roomInfoKey(roomID), "status")
	if err != nil {
		return false, err
	}
	return status == string(models.RoomActive), nil
}

// GetHost returns the room's host presence record.
func (m *RoomSessionManager) GetHost(ctx context.Context, roomID uuid.UUID) (*models.HostPresence, error) {
	var host models.HostPresence
	if err := m.client.GetObject(ctx, roomHostKey(roomID), &host); err != nil {
		if err == r.Nil {
			return nil, models.NewNotFound(models.ErrRoomNotFound, "no session for room")
		}
		return nil, err
	}
	return &host, nil
}

// IsHostConnected reports whether the room's host currently holds a live
// connection. A missing session reads as disconnected.
func (m *RoomSessionManager) IsHostConnected(ctx context.Context, roomID uuid.UUID) (bool, error) {
	host, err := m.GetHost(ctx, roomID)
	if err != nil {
		if models.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return host.Connected, nil
}

// SetHostConnected marks the host as connected and clears any disconnect
// marker left by a previous drop.
func (m *RoomSessionManager) SetHostConnected(ctx context.Context, roomID, hostID uuid.UUID) error {
	host := models.HostPresence{
		UserID:    hostID,
		Connected: true,
		LastSeen:  time.UnixMilli(m.clock.NowMs()),
	}
	return m.client.SetObject(ctx, roomHostKey(roomID), host, 0)
}

// SetHostDisconnected marks the host as disconnected and records when the
// drop happened, which anchors the reattach grace window.
func (m *RoomSessionManager) SetHostDisconnected(ctx context.Context, roomID uuid.UUID) error {
	host, err := m.GetHost(ctx, roomID)
	if err != nil {
		return err
	}

	now := time.UnixMilli(m.clock.NowMs())
	host.Connected = false
	host.LastSeen = now
	host.DisconnectedAt = &now
	return m.client.SetObject(ctx, roomHostKey(roomID), host, 0)
}

// AddMember adds the user to the room's member set and to the user's reverse
// index, returning the member count after the add. Adding an existing member
// is a no-op that still returns the current count.
func (m *RoomSessionManager) AddMember(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	pipe := m.client.TxPipeline()
	pipe.SAdd(ctx, roomMembersKey(roomID), userID.String())
	pipe.SAdd(ctx, userRoomsKey(userID), roomID.String())
	countCmd := pipe.SCard(ctx, roomMembersKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("Failed to add member", err, "roomId", roomID, "userId", userID)
		return 0, err
	}
	return countCmd.Val(), nil
}

// RemoveMember removes the user from the room's member set and reverse index,
// returning the member count after the removal.
func (m *RoomSessionManager) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	pipe := m.client.TxPipeline()
	pipe.SRem(ctx, roomMembersKey(roomID), userID.String())
	pipe.SRem(ctx, userRoomsKey(userID), roomID.String())
	countCmd := pipe.SCard(ctx, roomMembersKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("Failed to remove member", err, "roomId", roomID, "userId", userID)
		return 0, err
	}
	return countCmd.Val(), nil
}

// MemberCount returns the number of members in the room's session.
func (m *RoomSessionManager) MemberCount(ctx context.Context, roomID uuid.UUID) (int64, error) {
	return m.client.SCard(ctx, roomMembersKey(roomID))
}

// IsMember reports whether the user is in the room's member set.
func (m *RoomSessionManager) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	return m.client.SIsMember(ctx, roomMembersKey(roomID), userID.String())
}

// Members returns the user IDs in the room's member set.
func (m *RoomSessionManager) Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	raw, err := m.client.SMembers(ctx, roomMembersKey(roomID))
	if err != nil {
		return nil, err
	}
	return parseUUIDs(raw)
}

// UserRooms returns the rooms the user is currently a member of, read from
// the reverse index.
func (m *RoomSessionManager) UserRooms(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	raw, err := m.client.SMembers(ctx, userRoomsKey(userID))
	if err != nil {
		return nil, err
	}
	return parseUUIDs(raw)
}

// UpdatePlayback merges the given changes into the playback mirror, bumps its
// updated_at, and publishes the matching PlaybackUpdate event on the room
// channel. Write and publish share one MULTI/EXEC so subscribers never see an
// event for a merge that did not happen.
func (m *RoomSessionManager) UpdatePlayback(ctx context.Context, roomID uuid.UUID, changes models.PlaybackChanges) error {
	if changes.IsEmpty() {
		return models.NewInvalid(models.ErrInvalidInput, "playback update carries no changes")
	}

	nowMs := m.clock.NowMs()
	fields := []any{"updated_at", nowMs}
	if changes.TrackID != nil {
		fields = append(fields, "track_id", *changes.TrackID)
	}
	if changes.PositionMs != nil {
		fields = append(fields, "position_ms", *changes.PositionMs)
	}
	if changes.Status != nil {
		fields = append(fields, "status", string(*changes.Status))
	}

	payload, err := models.EncodeRoomEvent(roomID, models.PlaybackUpdate{Changes: changes}, time.UnixMilli(nowMs))
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, roomPlaybackKey(roomID), fields...)
	pipe.HSet(ctx, roomInfoKey(roomID), "last_activity", nowMs)
	pipe.Publish(ctx, RoomUpdatesChannel(roomID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("Failed to update playback", err, "roomId", roomID)
		return err
	}
	return nil
}

// GetPlayback returns the playback mirror for the room.
func (m *RoomSessionManager) GetPlayback(ctx context.Context, roomID uuid.UUID) (*models.PlaybackState, error) {
	raw, err := m.client.HGetAll(ctx, roomPlaybackKey(roomID))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, models.NewNotFound(models.ErrRoomNotFound, "no session for room")
	}
	return parsePlaybackHash(roomID, raw)
}

// Publish serializes the event, publishes it on the room channel and bumps
// the session's last_activity.
func (m *RoomSessionManager) Publish(ctx context.Context, roomID uuid.UUID, event models.RoomEvent) error {
	nowMs := m.clock.NowMs()
	payload, err := models.EncodeRoomEvent(roomID, event, time.UnixMilli(nowMs))
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, roomInfoKey(roomID), "last_activity", nowMs)
	pipe.Publish(ctx, RoomUpdatesChannel(roomID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("Failed to publish room event", err, "roomId", roomID, "eventType", event.EventType())
		return err
	}
	return nil
}

// Snapshot returns the full session view of a room in one round trip. The
// returned snapshot carries no durable room record; callers merge that in
// from the durable store.
func (m *RoomSessionManager) Snapshot(ctx context.Context, roomID uuid.UUID) (*models.RoomSnapshot, error) {
	pipe := m.client.TxPipeline()
	infoCmd := pipe.HGetAll(ctx, roomInfoKey(roomID))
	playbackCmd := pipe.HGetAll(ctx, roomPlaybackKey(roomID))
	membersCmd := pipe.SMembers(ctx, roomMembersKey(roomID))
	countCmd := pipe.SCard(ctx, roomMembersKey(roomID))
	hostCmd := pipe.Get(ctx, roomHostKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil && err != r.Nil {
		m.logger.Error("Failed to snapshot room session", err, "roomId", roomID)
		return nil, err
	}

	info := infoCmd.Val()
	if len(info) == 0 {
		return nil, models.NewNotFound(models.ErrRoomNotFound, "no session for room")
	}

	snapshot := &models.RoomSnapshot{
		Info:        parseInfoHash(info),
		MemberCount: countCmd.Val(),
	}

	if playback := playbackCmd.Val(); len(playback) > 0 {
		state, err := parsePlaybackHash(roomID, playback)
		if err != nil {
			return nil, err
		}
		snapshot.Playback = state
	}

	members, err := parseUUIDs(membersCmd.Val())
	if err != nil {
		return nil, err
	}
	snapshot.Members = members

	if raw, err := hostCmd.Result(); err == nil && raw != "" {
		var host models.HostPresence
		if err := json.Unmarshal([]byte(raw), &host); err != nil {
			m.logger.Error("Corrupt host record in session", err, "roomId", roomID)
			return nil, models.NewInternal(err, "")
		}
		snapshot.Host = &host
	}

	return snapshot, nil
}

// DestroySession removes every session key for the room and clears the
// reverse index entry of each member.
func (m *RoomSessionManager) DestroySession(ctx context.Context, roomID uuid.UUID) error {
	members, err := m.client.SMembers(ctx, roomMembersKey(roomID))
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	for _, member := range members {
		if userID, err := uuid.Parse(member); err == nil {
			pipe.SRem(ctx, userRoomsKey(userID), roomID.String())
		}
	}
	pipe.Del(ctx,
		roomInfoKey(roomID),
		roomHostKey(roomID),
		roomPlaybackKey(roomID),
		roomMembersKey(roomID),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("Failed to destroy room session", err, "roomId", roomID)
		return err
	}

	m.logger.Info("Destroyed room session", "roomId", roomID)
	return nil
}

// SessionRooms returns the ID of every room that currently has a session
// view, discovered by scanning the info keys.
func (m *RoomSessionManager) SessionRooms(ctx context.Context) ([]uuid.UUID, error) {
	keys, err := m.client.Keys(ctx, "room:*:info")
	if err != nil {
		return nil, err
	}

	rooms := make([]uuid.UUID, 0, len(keys))
	for _, key := range keys {
		id, err := uuid.Parse(strings.TrimSuffix(strings.TrimPrefix(key, "room:"), ":info"))
		if err != nil {
			continue
		}
		rooms = append(rooms, id)
	}
	return rooms, nil
}

// LastActivity returns when the room's session last saw a publish.
func (m *RoomSessionManager) LastActivity(ctx context.Context, roomID uuid.UUID) (time.Time, error) {
	raw, err := m.client.HGet(ctx, roomInfoKey(roomID), "last_activity")
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" {
		return time.Time{}, models.NewNotFound(models.ErrRoomNotFound, "no session for room")
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, models.NewInternal(err, "")
	}
	return time.UnixMilli(ms), nil
}

// parseUUIDs converts canonical textual UUIDs; any malformed entry is an
// integration bug, not user input.
func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, models.NewInternal(err, "malformed UUID in session store")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseInfoHash converts the info hash into a RoomInfo.
func parseInfoHash(raw map[string]string) models.RoomInfo {
	info := models.RoomInfo{
		Status: models.RoomStatus(raw["status"]),
	}
	if ms, err := strconv.ParseInt(raw["created_at"], 10, 64); err == nil {
		info.CreatedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(raw["last_activity"], 10, 64); err == nil {
		info.LastActivity = time.UnixMilli(ms)
	}
	return info
}

// parsePlaybackHash converts the playback hash into a PlaybackState.
func parsePlaybackHash(roomID uuid.UUID, raw map[string]string) (*models.PlaybackState, error) {
	state := &models.PlaybackState{
		RoomID:  roomID,
		TrackID: raw["track_id"],
		Status:  models.PlaybackStatus(raw["status"]),
	}
	if v := raw["position_ms"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, models.NewInternal(err, "malformed position in session store")
		}
		state.PositionMs = ms
	}
	if v := raw["updated_at"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, models.NewInternal(err, "malformed timestamp in session store")
		}
		state.UpdatedAt = time.UnixMilli(ms)
	}
	return state, nil
}
