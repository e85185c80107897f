package methods

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/syncroom/backend/internal/models"
)

func TestSnapshotResultDerivesAwaitingHost(t *testing.T) {
	hostID := uuid.New()
	snapshot := &models.RoomSnapshot{
		Room:        &models.Room{ID: uuid.New(), Status: models.RoomActive},
		Info:        models.RoomInfo{Status: models.RoomActive},
		MemberCount: 2,
		Host:        &models.HostPresence{UserID: hostID, Connected: true},
	}
	now := time.Now()

	result := newSnapshotResult(snapshot, now)
	assert.Equal(t, models.RoomActive, result.Status)
	assert.True(t, result.HostConnected)

	snapshot.Host.Connected = false
	result = newSnapshotResult(snapshot, now)
	assert.Equal(t, models.RoomAwaitingHost, result.Status)
	assert.False(t, result.HostConnected)

	// INACTIVE is terminal and never rewritten.
	snapshot.Info.Status = models.RoomInactive
	result = newSnapshotResult(snapshot, now)
	assert.Equal(t, models.RoomInactive, result.Status)

	snapshot.Info.Status = models.RoomActive
	snapshot.Host = nil
	result = newSnapshotResult(snapshot, now)
	assert.Equal(t, models.RoomActive, result.Status)
	assert.False(t, result.HostConnected)
}

func TestPlaybackPayloadUsesEffectivePosition(t *testing.T) {
	now := time.Now()
	state := &models.PlaybackState{
		TrackID:    "track-1",
		PositionMs: 1000,
		Status:     models.PlaybackPlaying,
		UpdatedAt:  now.Add(-2 * time.Second),
	}

	payload := newPlaybackPayload(state, now)
	require.NotNil(t, payload)
	assert.Equal(t, int64(3000), payload.PositionMs)
	assert.Equal(t, state.UpdatedAt.UnixMilli(), payload.UpdatedAt)

	state.Status = models.PlaybackPaused
	payload = newPlaybackPayload(state, now)
	assert.Equal(t, int64(1000), payload.PositionMs)

	assert.Nil(t, newPlaybackPayload(nil, now))
}

func TestInBandMessage(t *testing.T) {
	assert.Equal(t, "not host", inBandMessage(models.NewUnauthorized(models.ErrNotHost, "")))
	assert.Equal(t, "room is not active", inBandMessage(models.NewFailedPrecondition(models.ErrRoomNotActive, "")))
	assert.Equal(t, "command failed", inBandMessage(models.NewInternal(errors.New("pq: connection refused"), "")))
	assert.Equal(t, "command failed", inBandMessage(errors.New("raw failure")))
}
