package managers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/syncroom/backend/internal/clock"
	"norelock.dev/syncroom/backend/internal/config"
	"norelock.dev/syncroom/backend/internal/db/redis"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

// setupManager starts an in-memory Redis and a session manager on top of it.
func setupManager(t *testing.T) (*miniredis.Miniredis, *RoomSessionManager) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	var cfg config.Config
	cfg.Database.Redis.Addresses = []string{mr.Addr()}

	client, err := redis.NewClient(&cfg, utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRoomSessionManager(client, clock.New(), utils.NewNopLogger())
}

// recvEvent waits for the next event on a subscription.
func recvEvent(t *testing.T, sub *Subscription) *models.EventEnvelope {
	t.Helper()
	select {
	case env, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestCreateRoomSessionInitializesState(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()
	roomID, hostID := uuid.New(), uuid.New()

	require.NoError(t, m.CreateRoomSession(ctx, roomID, hostID))

	active, err := m.IsRoomActive(ctx, roomID)
	require.NoError(t, err)
	assert.True(t, active)

	playback, err := m.GetPlayback(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "", playback.TrackID)
	assert.Equal(t, int64(0), playback.PositionMs)
	assert.Equal(t, models.PlaybackPaused, playback.Status)

	host, err := m.GetHost(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, hostID, host.UserID)
	assert.False(t, host.Connected)

	count, err := m.MemberCount(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestIsRoomActiveMissingSession(t *testing.T) {
	_, m := setupManager(t)

	active, err := m.IsRoomActive(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestAddRemoveMemberCounts(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()
	roomID, hostID, userID := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, m.CreateRoomSession(ctx, roomID, hostID))

	count, err := m.AddMember(ctx, roomID, hostID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = m.AddMember(ctx, roomID, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Adding again does not inflate the count
	count, err = m.AddMember(ctx, roomID, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	isMember, err := m.IsMember(ctx, roomID, userID)
	require.NoError(t, err)
	assert.True(t, isMember)

	rooms, err := m.UserRooms(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{roomID}, rooms)

	count, err = m.RemoveMember(ctx, roomID, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	rooms, err = m.UserRooms(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestHostConnectDisconnect(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()
	roomID, hostID := uuid.New(), uuid.New()

	require.NoError(t, m.CreateRoomSession(ctx, roomID, hostID))
	require.NoError(t, m.SetHostConnected(ctx, roomID, hostID))

	connected, err := m.IsHostConnected(ctx, roomID)
	require.NoError(t, err)
	assert.True(t, connected)

	require.NoError(t, m.SetHostDisconnected(ctx, roomID))

	host, err := m.GetHost(ctx, roomID)
	require.NoError(t, err)
	assert.False(t, host.Connected)
	require.NotNil(t, host.DisconnectedAt)

	connected, err = m.IsHostConnected(ctx, roomID)
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestUpdatePlaybackMergesAndPublishes(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()
	roomID, hostID := uuid.New(), uuid.New()

	require.NoError(t, m.CreateRoomSession(ctx, roomID, hostID))

	sub, err := m.Subscribe(ctx, roomID)
	require.NoError(t, err)
	defer sub.Close()

	position := int64(42000)
	status := models.PlaybackPlaying
	require.NoError(t, m.UpdatePlayback(ctx, roomID, models.PlaybackChanges{
		PositionMs: &position,
		Status:     &status,
	}))

	env := recvEvent(t, sub)
	assert.Equal(t, models.EventTypePlaybackUpdate, env.Type)
	assert.Equal(t, roomID, env.RoomID)
	update, ok := env.Event.(models.PlaybackUpdate)
	require.True(t, ok)
	require.NotNil(t, update.Changes.PositionMs)
	assert.Equal(t, position, *update.Changes.PositionMs)

	playback, err := m.GetPlayback(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, position, playback.PositionMs)
	assert.Equal(t, models.PlaybackPlaying, playback.Status)
	// Track stays untouched by a partial merge
	assert.Equal(t, "", playback.TrackID)
}

func TestUpdatePlaybackRejectsEmptyChanges(t *testing.T) {
	_, m := setupManager(t)

	err := m.UpdatePlayback(context.Background(), uuid.New(), models.PlaybackChanges{})
	require.Error(t, err)
	assert.True(t, models.IsInvalid(err))
}

func TestPublishDeliversInOrder(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()
	roomID, hostID := uuid.New(), uuid.New()

	require.NoError(t, m.CreateRoomSession(ctx, roomID, hostID))

	sub, err := m.Subscribe(ctx, roomID)
	require.NoError(t, err)
	defer sub.Close()

	userID := uuid.New()
	require.NoError(t, m.Publish(ctx, roomID, models.MemberJoin{UserID: userID, MemberCount: 1}))
	require.NoError(t, m.Publish(ctx, roomID, models.MemberLeave{UserID: userID, MemberCount: 0}))

	first := recvEvent(t, sub)
	assert.Equal(t, models.EventTypeMemberJoin, first.Type)
	second := recvEvent(t, sub)
	assert.Equal(t, models.EventTypeMemberLeave, second.Type)
}

func TestSnapshot(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()
	roomID, hostID, userID := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, m.CreateRoomSession(ctx, roomID, hostID))
	require.NoError(t, m.SetHostConnected(ctx, roomID, hostID))
	_, err := m.AddMember(ctx, roomID, hostID)
	require.NoError(t, err)
	_, err = m.AddMember(ctx, roomID, userID)
	require.NoError(t, err)

	snapshot, err := m.Snapshot(ctx, roomID)
	require.NoError(t, err)

	assert.Equal(t, models.RoomActive, snapshot.Info.Status)
	assert.Equal(t, int64(2), snapshot.MemberCount)
	assert.Len(t, snapshot.Members, 2)
	require.NotNil(t, snapshot.Playback)
	assert.Equal(t, models.PlaybackPaused, snapshot.Playback.Status)
	require.NotNil(t, snapshot.Host)
	assert.Equal(t, hostID, snapshot.Host.UserID)
	assert.True(t, snapshot.Host.Connected)
}

func TestSnapshotMissingRoom(t *testing.T) {
	_, m := setupManager(t)

	_, err := m.Snapshot(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestDestroySession(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()
	roomID, hostID, userID := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, m.CreateRoomSession(ctx, roomID, hostID))
	_, err := m.AddMember(ctx, roomID, userID)
	require.NoError(t, err)

	require.NoError(t, m.DestroySession(ctx, roomID))

	active, err := m.IsRoomActive(ctx, roomID)
	require.NoError(t, err)
	assert.False(t, active)

	rooms, err := m.UserRooms(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestSessionRoomsEnumeratesLiveSessions(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()

	rooms, err := m.SessionRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	roomA, roomB := uuid.New(), uuid.New()
	require.NoError(t, m.CreateRoomSession(ctx, roomA, uuid.New()))
	require.NoError(t, m.CreateRoomSession(ctx, roomB, uuid.New()))

	rooms, err = m.SessionRooms(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{roomA, roomB}, rooms)

	require.NoError(t, m.DestroySession(ctx, roomA))

	rooms, err = m.SessionRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{roomB}, rooms)
}

func TestSubscriptionClose(t *testing.T) {
	_, m := setupManager(t)
	ctx := context.Background()
	roomID := uuid.New()

	sub, err := m.Subscribe(ctx, roomID)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("events channel did not close")
	}
}
