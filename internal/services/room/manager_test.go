package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/syncroom/backend/internal/clock"
	"norelock.dev/syncroom/backend/internal/config"
	"norelock.dev/syncroom/backend/internal/db/postgres/stores"
	"norelock.dev/syncroom/backend/internal/db/redis"
	"norelock.dev/syncroom/backend/internal/db/redis/managers"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

// fakeRoomStore is an in-memory RoomStore with the same error contract as
// the Postgres one.
type fakeRoomStore struct {
	mu      sync.Mutex
	rooms   map[uuid.UUID]*models.Room
	members map[uuid.UUID]map[uuid.UUID]models.MemberRole
	closes  int
}

func newFakeRoomStore() *fakeRoomStore {
	return &fakeRoomStore{
		rooms:   make(map[uuid.UUID]*models.Room),
		members: make(map[uuid.UUID]map[uuid.UUID]models.MemberRole),
	}
}

func (f *fakeRoomStore) CreateRoom(_ context.Context, room *models.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.rooms {
		if existing.Code == room.Code {
			return models.NewConflict(models.ErrRoomCodeTaken, "room code already in use")
		}
	}
	room.CreatedAt = time.Now()
	f.rooms[room.ID] = room
	f.members[room.ID] = map[uuid.UUID]models.MemberRole{room.HostUserID: models.RoleHost}
	return nil
}

func (f *fakeRoomStore) GetRoom(_ context.Context, roomID uuid.UUID) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	room, ok := f.rooms[roomID]
	if !ok {
		return nil, models.NewNotFound(models.ErrRoomNotFound, "room not found")
	}
	copied := *room
	return &copied, nil
}

func (f *fakeRoomStore) GetRoomByCode(_ context.Context, code string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, room := range f.rooms {
		if room.Code == code {
			copied := *room
			return &copied, nil
		}
	}
	return nil, models.NewNotFound(models.ErrRoomNotFound, "room not found")
}

func (f *fakeRoomStore) ListActiveRooms(_ context.Context, filter models.RoomFilter) ([]*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	filter.Normalize()
	var out []*models.Room
	for _, room := range f.rooms {
		if room.Status != models.RoomActive {
			continue
		}
		if filter.Visibility != nil && room.Visibility != *filter.Visibility {
			continue
		}
		if filter.HostUserID != nil && room.HostUserID != *filter.HostUserID {
			continue
		}
		copied := *room
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeRoomStore) JoinRoom(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	members, ok := f.members[roomID]
	if !ok {
		return false, models.NewNotFound(models.ErrRoomNotFound, "room not found")
	}
	if _, exists := members[userID]; exists {
		return false, nil
	}
	members[userID] = models.RoleParticipant
	return true, nil
}

func (f *fakeRoomStore) LeaveRoom(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	members, ok := f.members[roomID]
	if !ok {
		return false, models.NewNotFound(models.ErrRoomNotFound, "room not found")
	}
	role, exists := members[userID]
	if !exists {
		return false, models.NewNotFound(models.ErrMemberNotFound, "member not found")
	}
	delete(members, userID)

	if role == models.RoleHost {
		f.rooms[roomID].Status = models.RoomInactive
		f.members[roomID] = make(map[uuid.UUID]models.MemberRole)
		return true, nil
	}
	return false, nil
}

func (f *fakeRoomStore) CloseRoom(_ context.Context, roomID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	room, ok := f.rooms[roomID]
	if !ok {
		return models.NewNotFound(models.ErrRoomNotFound, "room not found")
	}
	room.Status = models.RoomInactive
	f.members[roomID] = make(map[uuid.UUID]models.MemberRole)
	f.closes++
	return nil
}

func (f *fakeRoomStore) GetActiveMembers(_ context.Context, roomID uuid.UUID) ([]models.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Membership
	for userID, role := range f.members[roomID] {
		out = append(out, models.Membership{RoomID: roomID, UserID: userID, Role: role})
	}
	return out, nil
}

func (f *fakeRoomStore) CountActiveMembers(_ context.Context, roomID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.members[roomID])), nil
}

func (f *fakeRoomStore) status(t *testing.T, roomID uuid.UUID) models.RoomStatus {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	room, ok := f.rooms[roomID]
	require.True(t, ok, "room %s not in store", roomID)
	return room.Status
}

// fakePlaybackStore applies partial updates in memory and records the event
// log the way the transactional store does. A non-nil failApply makes Apply
// fail without touching state, like a rolled-back transaction.
type fakePlaybackStore struct {
	mu        sync.Mutex
	states    map[uuid.UUID]*models.PlaybackState
	events    []models.PlaybackEvent
	failApply error
}

func newFakePlaybackStore() *fakePlaybackStore {
	return &fakePlaybackStore{states: make(map[uuid.UUID]*models.PlaybackState)}
}

func (f *fakePlaybackStore) Get(_ context.Context, roomID uuid.UUID) (*models.PlaybackState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, ok := f.states[roomID]
	if !ok {
		return nil, models.NewNotFound(models.ErrRoomNotFound, "room not found")
	}
	copied := *state
	return &copied, nil
}

func (f *fakePlaybackStore) Apply(_ context.Context, roomID, actorID uuid.UUID, changes models.PlaybackChanges) (*models.PlaybackState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failApply != nil {
		return nil, f.failApply
	}

	state, ok := f.states[roomID]
	if !ok {
		state = &models.PlaybackState{RoomID: roomID, Status: models.PlaybackPaused}
		f.states[roomID] = state
	}
	if changes.TrackID != nil {
		state.TrackID = *changes.TrackID
	}
	if changes.PositionMs != nil {
		state.PositionMs = *changes.PositionMs
	}
	if changes.Status != nil {
		state.Status = *changes.Status
	}
	state.UpdatedAt = time.Now()

	f.events = append(f.events, models.PlaybackEvent{
		ID:        int64(len(f.events) + 1),
		RoomID:    roomID,
		UserID:    actorID,
		Type:      changes.EventType(),
		CreatedAt: time.Now(),
	})

	copied := *state
	return &copied, nil
}

func (f *fakePlaybackStore) RecentEvents(_ context.Context, roomID uuid.UUID, limit int) ([]models.PlaybackEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.PlaybackEvent
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].RoomID == roomID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakePlaybackStore) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.events[:0]
	var removed int64
	for _, ev := range f.events {
		if ev.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	f.events = kept
	return removed, nil
}

// fakeQueueStore keeps dense 1..N positions like the Postgres store.
type fakeQueueStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]models.QueueEntry
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{entries: make(map[uuid.UUID][]models.QueueEntry)}
}

func (f *fakeQueueStore) Append(_ context.Context, roomID uuid.UUID, trackID string, addedBy uuid.UUID) (*models.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry := models.QueueEntry{
		RoomID:   roomID,
		Position: len(f.entries[roomID]) + 1,
		TrackID:  trackID,
		AddedBy:  addedBy,
		AddedAt:  time.Now(),
	}
	f.entries[roomID] = append(f.entries[roomID], entry)
	copied := entry
	return &copied, nil
}

func (f *fakeQueueStore) Remove(_ context.Context, roomID uuid.UUID, position int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := f.entries[roomID]
	for i, entry := range entries {
		if entry.Position == position {
			f.entries[roomID] = append(entries[:i], entries[i+1:]...)
			for j := range f.entries[roomID] {
				if f.entries[roomID][j].Position > position {
					f.entries[roomID][j].Position--
				}
			}
			return entry.TrackID, nil
		}
	}
	return "", models.NewNotFound(models.ErrQueuePositionNotFound, "queue position not found")
}

func (f *fakeQueueStore) List(_ context.Context, roomID uuid.UUID) ([]models.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.QueueEntry(nil), f.entries[roomID]...), nil
}

func (f *fakeQueueStore) Count(_ context.Context, roomID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries[roomID]), nil
}

// managerEnv wires a Manager onto in-memory stores and a miniredis session
// store.
type managerEnv struct {
	mr       *miniredis.Miniredis
	manager  *Manager
	rooms    *fakeRoomStore
	playback *fakePlaybackStore
	queue    *fakeQueueStore
	session  *managers.RoomSessionManager
}

func newManagerEnv(t *testing.T, graceWindow time.Duration, mutate func(*config.Config)) *managerEnv {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	var cfg config.Config
	cfg.Database.Redis.Addresses = []string{mr.Addr()}
	cfg.Room.HostGraceWindow = graceWindow
	cfg.Room.MaxQueueSize = 100
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := redis.NewClient(&cfg, utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	session := managers.NewRoomSessionManager(client, clock.New(), utils.NewNopLogger())
	env := &managerEnv{
		mr:       mr,
		rooms:    newFakeRoomStore(),
		playback: newFakePlaybackStore(),
		queue:    newFakeQueueStore(),
		session:  session,
	}

	store := &stores.Store{Rooms: env.rooms, Playback: env.playback, Queue: env.queue}
	grace := NewGraceTimers(graceWindow, utils.NewNopLogger())
	limiter := redis.NewRateLimiter(client)
	env.manager = NewManager(store, session, grace, limiter, &cfg, utils.NewNopLogger())
	t.Cleanup(env.manager.Shutdown)
	return env
}

func (e *managerEnv) create(t *testing.T, hostID uuid.UUID) *models.RoomSnapshot {
	t.Helper()
	snap, err := e.manager.Create(context.Background(), models.CreateRoomInput{
		Name:       "Friday Night",
		HostUserID: hostID,
	})
	require.NoError(t, err)
	return snap
}

func (e *managerEnv) subscribe(t *testing.T, roomID uuid.UUID) *managers.Subscription {
	t.Helper()
	sub, err := e.session.Subscribe(context.Background(), roomID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func nextEvent(t *testing.T, sub *managers.Subscription) *models.EventEnvelope {
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

func assertNoEvent(t *testing.T, sub *managers.Subscription) {
	t.Helper()
	select {
	case env := <-sub.Events():
		t.Fatalf("unexpected event %q", env.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCreateRoomInitializesDurableAndSessionState(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	hostID := uuid.New()

	snap := env.create(t, hostID)

	require.NotNil(t, snap.Room)
	assert.Regexp(t, codePattern, snap.Room.Code)
	assert.Equal(t, models.RoomActive, snap.Room.Status)
	assert.Equal(t, hostID, snap.Room.HostUserID)
	assert.Equal(t, models.VisibilityPublic, snap.Room.Visibility)

	require.NotNil(t, snap.Host)
	assert.True(t, snap.Host.Connected)
	assert.Equal(t, int64(1), snap.MemberCount)
	assert.Contains(t, snap.Members, hostID)

	require.NotNil(t, snap.Playback)
	assert.Equal(t, models.PlaybackPaused, snap.Playback.Status)
	assert.Equal(t, int64(0), snap.Playback.PositionMs)

	assert.Equal(t, models.RoomActive, env.rooms.status(t, snap.Room.ID))
	active, err := env.session.IsRoomActive(context.Background(), snap.Room.ID)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestCreateRoomRejectsInvalidInput(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)

	_, err := env.manager.Create(context.Background(), models.CreateRoomInput{
		Name:       "x",
		HostUserID: uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, models.IsInvalid(err))
}

func TestCreateRoomClosesRoomWhenSessionFails(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)

	// With the session store down the durable insert succeeds but the
	// session build cannot; creation must roll the room back to INACTIVE.
	env.mr.Close()

	_, err := env.manager.Create(context.Background(), models.CreateRoomInput{
		Name:       "Doomed Room",
		HostUserID: uuid.New(),
	})
	require.Error(t, err)

	env.rooms.mu.Lock()
	defer env.rooms.mu.Unlock()
	require.Len(t, env.rooms.rooms, 1)
	for _, room := range env.rooms.rooms {
		assert.Equal(t, models.RoomInactive, room.Status)
	}
	assert.Equal(t, 1, env.rooms.closes)
}

func TestCreateRoomRateLimited(t *testing.T) {
	env := newManagerEnv(t, time.Minute, func(cfg *config.Config) {
		cfg.Room.CreateLimitPerHour = 1
	})
	hostID := uuid.New()

	env.create(t, hostID)

	_, err := env.manager.Create(context.Background(), models.CreateRoomInput{
		Name:       "Second Room",
		HostUserID: hostID,
	})
	require.Error(t, err)
	assert.True(t, models.IsFailedPrecondition(err))
	assert.ErrorIs(t, err, models.ErrRateLimited)
}

func TestJoinRequiresActiveSession(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)

	_, err := env.manager.Join(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.True(t, models.IsFailedPrecondition(err))
	assert.ErrorIs(t, err, models.ErrRoomNotActive)
}

func TestJoinPublishesOnlyOnFirstJoin(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	ctx := context.Background()
	hostID := uuid.New()
	userID := uuid.New()

	roomID := env.create(t, hostID).Room.ID
	sub := env.subscribe(t, roomID)

	snap, err := env.manager.Join(ctx, roomID, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.MemberCount)

	envelope := nextEvent(t, sub)
	assert.Equal(t, models.EventTypeMemberJoin, envelope.Type)
	join, ok := envelope.Event.(models.MemberJoin)
	require.True(t, ok)
	assert.Equal(t, userID, join.UserID)
	assert.Equal(t, int64(2), join.MemberCount)

	// Rejoining is idempotent and silent.
	snap, err = env.manager.Join(ctx, roomID, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.MemberCount)
	assertNoEvent(t, sub)
}

func TestLeaveParticipant(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	ctx := context.Background()
	hostID := uuid.New()
	userID := uuid.New()

	roomID := env.create(t, hostID).Room.ID
	_, err := env.manager.Join(ctx, roomID, userID)
	require.NoError(t, err)

	sub := env.subscribe(t, roomID)
	require.NoError(t, env.manager.Leave(ctx, roomID, userID))

	envelope := nextEvent(t, sub)
	assert.Equal(t, models.EventTypeMemberLeave, envelope.Type)
	leave, ok := envelope.Event.(models.MemberLeave)
	require.True(t, ok)
	assert.Equal(t, userID, leave.UserID)
	assert.Equal(t, int64(1), leave.MemberCount)

	count, err := env.rooms.CountActiveMembers(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The room itself stays up.
	assert.Equal(t, models.RoomActive, env.rooms.status(t, roomID))
}

func TestHostLeaveStartsGraceThenClosesRoom(t *testing.T) {
	env := newManagerEnv(t, 50*time.Millisecond, nil)
	ctx := context.Background()
	hostID := uuid.New()

	roomID := env.create(t, hostID).Room.ID
	sub := env.subscribe(t, roomID)

	require.NoError(t, env.manager.Leave(ctx, roomID, hostID))

	envelope := nextEvent(t, sub)
	assert.Equal(t, models.EventTypeHostDisconnected, envelope.Type)
	disc, ok := envelope.Event.(models.HostDisconnected)
	require.True(t, ok)
	assert.Equal(t, hostID, disc.UserID)

	// The durable record holds ACTIVE until the window expires.
	assert.Equal(t, models.RoomActive, env.rooms.status(t, roomID))

	envelope = nextEvent(t, sub)
	assert.Equal(t, models.EventTypeRoomStatusUpdate, envelope.Type)
	status, ok := envelope.Event.(models.RoomStatusUpdate)
	require.True(t, ok)
	assert.Equal(t, models.RoomInactive, status.Status)
	assert.Equal(t, "host_disconnected", status.Reason)

	assert.Equal(t, models.RoomInactive, env.rooms.status(t, roomID))
	assert.Eventually(t, func() bool {
		active, err := env.session.IsRoomActive(ctx, roomID)
		return err == nil && !active
	}, time.Second, 10*time.Millisecond)
}

func TestHostReattachWithinGraceKeepsRoomAlive(t *testing.T) {
	env := newManagerEnv(t, 60*time.Millisecond, nil)
	ctx := context.Background()
	hostID := uuid.New()

	roomID := env.create(t, hostID).Room.ID
	sub := env.subscribe(t, roomID)

	require.NoError(t, env.manager.Leave(ctx, roomID, hostID))
	envelope := nextEvent(t, sub)
	require.Equal(t, models.EventTypeHostDisconnected, envelope.Type)

	require.NoError(t, env.manager.HostAttached(ctx, roomID, hostID))

	envelope = nextEvent(t, sub)
	assert.Equal(t, models.EventTypeRoomStatusUpdate, envelope.Type)
	status, ok := envelope.Event.(models.RoomStatusUpdate)
	require.True(t, ok)
	assert.Equal(t, models.RoomActive, status.Status)
	assert.Equal(t, "host_reconnected", status.Reason)

	// Past the original deadline nothing fires and the room stays up.
	time.Sleep(120 * time.Millisecond)
	assertNoEvent(t, sub)
	assert.Equal(t, models.RoomActive, env.rooms.status(t, roomID))

	host, err := env.session.GetHost(ctx, roomID)
	require.NoError(t, err)
	assert.True(t, host.Connected)
}

func TestHostAttachedRejectsNonHost(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	hostID := uuid.New()

	roomID := env.create(t, hostID).Room.ID

	err := env.manager.HostAttached(context.Background(), roomID, uuid.New())
	require.Error(t, err)
	assert.True(t, models.IsUnauthorized(err))
	assert.ErrorIs(t, err, models.ErrNotHost)
}

func TestExpireStaleSessionClosesAbandonedRoom(t *testing.T) {
	env := newManagerEnv(t, 30*time.Millisecond, nil)
	ctx := context.Background()
	hostID := uuid.New()

	roomID := env.create(t, hostID).Room.ID
	sub := env.subscribe(t, roomID)

	// A crash records the disconnect but never arms a grace timer.
	require.NoError(t, env.session.SetHostDisconnected(ctx, roomID))
	time.Sleep(60 * time.Millisecond)

	reaped, err := env.manager.ExpireStaleSession(ctx, roomID)
	require.NoError(t, err)
	assert.True(t, reaped)

	envelope := nextEvent(t, sub)
	assert.Equal(t, models.EventTypeRoomStatusUpdate, envelope.Type)
	status, ok := envelope.Event.(models.RoomStatusUpdate)
	require.True(t, ok)
	assert.Equal(t, models.RoomInactive, status.Status)
	assert.Equal(t, "host_disconnected", status.Reason)

	assert.Equal(t, models.RoomInactive, env.rooms.status(t, roomID))
	active, err := env.session.IsRoomActive(ctx, roomID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestExpireStaleSessionWaitsOutGraceWindow(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	ctx := context.Background()
	hostID := uuid.New()

	roomID := env.create(t, hostID).Room.ID

	require.NoError(t, env.session.SetHostDisconnected(ctx, roomID))

	reaped, err := env.manager.ExpireStaleSession(ctx, roomID)
	require.NoError(t, err)
	assert.False(t, reaped)
	assert.Equal(t, models.RoomActive, env.rooms.status(t, roomID))
}

func TestExpireStaleSessionIgnoresHealthyRooms(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	ctx := context.Background()
	hostID := uuid.New()

	roomID := env.create(t, hostID).Room.ID

	// Connected host.
	reaped, err := env.manager.ExpireStaleSession(ctx, roomID)
	require.NoError(t, err)
	assert.False(t, reaped)

	// No session at all.
	reaped, err = env.manager.ExpireStaleSession(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, reaped)
}

func TestUpdatePlayback(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	ctx := context.Background()
	hostID := uuid.New()

	roomID := env.create(t, hostID).Room.ID
	sub := env.subscribe(t, roomID)

	playing := models.PlaybackPlaying
	position := int64(0)
	changes := models.PlaybackChanges{Status: &playing, PositionMs: &position}

	_, err := env.manager.UpdatePlayback(ctx, roomID, uuid.New(), changes)
	require.Error(t, err)
	assert.True(t, models.IsUnauthorized(err))

	_, err = env.manager.UpdatePlayback(ctx, roomID, hostID, models.PlaybackChanges{})
	require.Error(t, err)
	assert.True(t, models.IsInvalid(err))

	negative := int64(-5)
	_, err = env.manager.UpdatePlayback(ctx, roomID, hostID, models.PlaybackChanges{PositionMs: &negative})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidPosition)

	state, err := env.manager.UpdatePlayback(ctx, roomID, hostID, changes)
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackPlaying, state.Status)
	assert.Equal(t, int64(0), state.PositionMs)

	envelope := nextEvent(t, sub)
	assert.Equal(t, models.EventTypePlaybackUpdate, envelope.Type)
	update, ok := envelope.Event.(models.PlaybackUpdate)
	require.True(t, ok)
	require.NotNil(t, update.Changes.Status)
	assert.Equal(t, models.PlaybackPlaying, *update.Changes.Status)

	// The session mirror carries the committed state.
	mirrored, err := env.session.GetPlayback(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackPlaying, mirrored.Status)

	events, err := env.manager.RecentEvents(ctx, roomID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventPlay, events[0].Type)
	assert.Equal(t, hostID, events[0].UserID)
}

func TestUpdatePlaybackFailedCommitPublishesNothing(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	ctx := context.Background()
	hostID := uuid.New()

	roomID := env.create(t, hostID).Room.ID
	sub := env.subscribe(t, roomID)

	env.playback.failApply = models.NewTransient(models.ErrStoreUnavailable, "store unavailable")

	playing := models.PlaybackPlaying
	_, err := env.manager.UpdatePlayback(ctx, roomID, hostID, models.PlaybackChanges{Status: &playing})
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))

	// A failed durable commit must leave the session mirror untouched and
	// publish nothing.
	assertNoEvent(t, sub)
	mirrored, err := env.session.GetPlayback(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackPaused, mirrored.Status)
	assert.Equal(t, int64(0), mirrored.PositionMs)
}

func TestQueueAddAndRemove(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	ctx := context.Background()
	hostID := uuid.New()

	roomID := env.create(t, hostID).Room.ID
	sub := env.subscribe(t, roomID)

	entry, err := env.manager.QueueAdd(ctx, roomID, hostID, "track-a")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)

	envelope := nextEvent(t, sub)
	assert.Equal(t, models.EventTypeQueueUpdate, envelope.Type)
	update, ok := envelope.Event.(models.QueueUpdate)
	require.True(t, ok)
	assert.Equal(t, models.QueueActionAdd, update.Action)
	assert.Equal(t, 1, update.Position)
	assert.Equal(t, "track-a", update.TrackID)

	entry, err = env.manager.QueueAdd(ctx, roomID, hostID, "track-b")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Position)
	nextEvent(t, sub)

	removed, err := env.manager.QueueRemove(ctx, roomID, hostID, 1)
	require.NoError(t, err)
	assert.Equal(t, "track-a", removed)

	envelope = nextEvent(t, sub)
	update, ok = envelope.Event.(models.QueueUpdate)
	require.True(t, ok)
	assert.Equal(t, models.QueueActionRemove, update.Action)
	assert.Equal(t, 1, update.Position)

	queue, err := env.manager.GetQueue(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, 1, queue[0].Position)
	assert.Equal(t, "track-b", queue[0].TrackID)
}

func TestQueueAddAuthorization(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	ctx := context.Background()
	hostID := uuid.New()
	userID := uuid.New()

	roomID := env.create(t, hostID).Room.ID
	_, err := env.manager.Join(ctx, roomID, userID)
	require.NoError(t, err)

	// Participants cannot add by default.
	_, err = env.manager.QueueAdd(ctx, roomID, userID, "track-a")
	require.Error(t, err)
	assert.True(t, models.IsUnauthorized(err))

	// Removal stays host-only regardless of configuration.
	_, err = env.manager.QueueRemove(ctx, roomID, userID, 1)
	require.Error(t, err)
	assert.True(t, models.IsUnauthorized(err))
}

func TestQueueAddParticipantWhenConfigured(t *testing.T) {
	env := newManagerEnv(t, time.Minute, func(cfg *config.Config) {
		cfg.Room.ParticipantQueueAdd = true
	})
	ctx := context.Background()
	hostID := uuid.New()
	userID := uuid.New()

	roomID := env.create(t, hostID).Room.ID
	_, err := env.manager.Join(ctx, roomID, userID)
	require.NoError(t, err)

	entry, err := env.manager.QueueAdd(ctx, roomID, userID, "track-a")
	require.NoError(t, err)
	assert.Equal(t, userID, entry.AddedBy)

	// Non-members stay rejected even with the participant toggle on.
	_, err = env.manager.QueueAdd(ctx, roomID, uuid.New(), "track-b")
	require.Error(t, err)
	assert.True(t, models.IsUnauthorized(err))
}

func TestQueueFull(t *testing.T) {
	env := newManagerEnv(t, time.Minute, func(cfg *config.Config) {
		cfg.Room.MaxQueueSize = 2
	})
	ctx := context.Background()
	hostID := uuid.New()

	roomID := env.create(t, hostID).Room.ID

	_, err := env.manager.QueueAdd(ctx, roomID, hostID, "track-a")
	require.NoError(t, err)
	_, err = env.manager.QueueAdd(ctx, roomID, hostID, "track-b")
	require.NoError(t, err)

	_, err = env.manager.QueueAdd(ctx, roomID, hostID, "track-c")
	require.Error(t, err)
	assert.True(t, models.IsFailedPrecondition(err))
	assert.ErrorIs(t, err, models.ErrQueueFull)
}

func TestCloseRoom(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	ctx := context.Background()
	hostID := uuid.New()
	userID := uuid.New()

	roomID := env.create(t, hostID).Room.ID
	_, err := env.manager.Join(ctx, roomID, userID)
	require.NoError(t, err)
	sub := env.subscribe(t, roomID)

	err = env.manager.Close(ctx, roomID, userID)
	require.Error(t, err)
	assert.True(t, models.IsUnauthorized(err))

	require.NoError(t, env.manager.Close(ctx, roomID, hostID))

	envelope := nextEvent(t, sub)
	assert.Equal(t, models.EventTypeRoomStatusUpdate, envelope.Type)
	status, ok := envelope.Event.(models.RoomStatusUpdate)
	require.True(t, ok)
	assert.Equal(t, models.RoomInactive, status.Status)
	assert.Equal(t, "room_closed", status.Reason)

	assert.Equal(t, models.RoomInactive, env.rooms.status(t, roomID))
	assert.Eventually(t, func() bool {
		active, err := env.session.IsRoomActive(ctx, roomID)
		return err == nil && !active
	}, time.Second, 10*time.Millisecond)

	// Closing again fails the precondition.
	err = env.manager.Close(ctx, roomID, hostID)
	require.Error(t, err)
	assert.True(t, models.IsFailedPrecondition(err))
	assert.ErrorIs(t, err, models.ErrRoomClosed)
}

func TestResolveHostFallsBackToDurableRecord(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	ctx := context.Background()
	hostID := uuid.New()

	// A room that exists durably but has no session.
	room := &models.Room{
		ID:         uuid.New(),
		Code:       "ABCDEF",
		Name:       "No Session",
		HostUserID: hostID,
		Visibility: models.VisibilityPublic,
		Status:     models.RoomInactive,
	}
	require.NoError(t, env.rooms.CreateRoom(ctx, room))

	resolved, err := env.manager.ResolveHost(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, hostID, resolved)
}

func TestSnapshotWithoutSession(t *testing.T) {
	env := newManagerEnv(t, time.Minute, nil)
	ctx := context.Background()

	room := &models.Room{
		ID:         uuid.New(),
		Code:       "GHJKLM",
		Name:       "Archived",
		HostUserID: uuid.New(),
		Visibility: models.VisibilityPublic,
		Status:     models.RoomInactive,
	}
	require.NoError(t, env.rooms.CreateRoom(ctx, room))

	snap, err := env.manager.Snapshot(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.Room)
	assert.Equal(t, room.ID, snap.Room.ID)
	assert.Equal(t, models.RoomInactive, snap.Info.Status)
	assert.Nil(t, snap.Host)

	_, err = env.manager.Snapshot(ctx, uuid.New())
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
	assert.ErrorIs(t, err, models.ErrRoomNotFound)
}
