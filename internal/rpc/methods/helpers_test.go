package methods

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"norelock.dev/syncroom/backend/internal/clock"
	"norelock.dev/syncroom/backend/internal/config"
	"norelock.dev/syncroom/backend/internal/db/redis"
	"norelock.dev/syncroom/backend/internal/db/redis/managers"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/rpc"
	"norelock.dev/syncroom/backend/internal/services/room"
	"norelock.dev/syncroom/backend/internal/utils"
)

// fakeRooms is an in-memory RoomManager that records calls and returns
// canned state, so handler behavior is tested without the real stores.
type fakeRooms struct {
	rooms  map[uuid.UUID]*models.Room
	byCode map[string]*models.Room

	createErr   error
	joinErr     error
	updateErr   error
	snapshotErr error
	countErr    error

	createInput models.CreateRoomInput
	lastFilter  models.RoomFilter
	lastChanges models.PlaybackChanges
	lastLimit   int

	joined       []uuid.UUID
	left         []uuid.UUID
	hostAttaches []uuid.UUID
	hostDetaches []uuid.UUID
	closedBy     uuid.UUID

	queue       []models.QueueEntry
	events      []models.PlaybackEvent
	memberCount int64

	hostConnected bool
	updateCalls   int
}

var _ room.RoomManager = (*fakeRooms)(nil)

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		rooms:         make(map[uuid.UUID]*models.Room),
		byCode:        make(map[string]*models.Room),
		memberCount:   1,
		hostConnected: true,
	}
}

func (f *fakeRooms) addRoom(hostID uuid.UUID) *models.Room {
	r := &models.Room{
		ID:         uuid.New(),
		Code:       fmt.Sprintf("C%05d", len(f.rooms)+1),
		Name:       "Listening Party",
		HostUserID: hostID,
		Visibility: models.VisibilityPublic,
		Status:     models.RoomActive,
		CreatedAt:  time.Now(),
	}
	f.rooms[r.ID] = r
	f.byCode[r.Code] = r
	return r
}

func (f *fakeRooms) snapshotFor(roomID uuid.UUID) *models.RoomSnapshot {
	r, ok := f.rooms[roomID]
	if !ok {
		return nil
	}
	return &models.RoomSnapshot{
		Room: r,
		Info: models.RoomInfo{Status: r.Status, CreatedAt: r.CreatedAt, LastActivity: time.Now()},
		Playback: &models.PlaybackState{
			RoomID:     roomID,
			TrackID:    "track-1",
			PositionMs: 1000,
			Status:     models.PlaybackPaused,
			UpdatedAt:  time.Now(),
		},
		Members:     []uuid.UUID{r.HostUserID},
		MemberCount: f.memberCount,
		Host:        &models.HostPresence{UserID: r.HostUserID, Connected: f.hostConnected},
	}
}

func (f *fakeRooms) Create(ctx context.Context, input models.CreateRoomInput) (*models.RoomSnapshot, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createInput = input
	r := f.addRoom(input.HostUserID)
	r.Name = input.Name
	r.Description = input.Description
	if input.Visibility != "" {
		r.Visibility = input.Visibility
	}
	r.InviteOnly = input.InviteOnly
	return f.snapshotFor(r.ID), nil
}

func (f *fakeRooms) Join(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomSnapshot, error) {
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	snapshot := f.snapshotFor(roomID)
	if snapshot == nil {
		return nil, models.NewNotFound(models.ErrRoomNotFound, "room not found")
	}
	f.joined = append(f.joined, userID)
	return snapshot, nil
}

func (f *fakeRooms) Leave(ctx context.Context, roomID, userID uuid.UUID) error {
	f.left = append(f.left, userID)
	return nil
}

func (f *fakeRooms) Close(ctx context.Context, roomID, actorID uuid.UUID) error {
	f.closedBy = actorID
	return nil
}

func (f *fakeRooms) HostAttached(ctx context.Context, roomID, hostID uuid.UUID) error {
	f.hostAttaches = append(f.hostAttaches, roomID)
	return nil
}

func (f *fakeRooms) HostDetached(ctx context.Context, roomID uuid.UUID) error {
	f.hostDetaches = append(f.hostDetaches, roomID)
	return nil
}

func (f *fakeRooms) UpdatePlayback(ctx context.Context, roomID, actorID uuid.UUID, changes models.PlaybackChanges) (*models.PlaybackState, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.lastChanges = changes
	return &models.PlaybackState{RoomID: roomID, Status: models.PlaybackPlaying, UpdatedAt: time.Now()}, nil
}

func (f *fakeRooms) QueueAdd(ctx context.Context, roomID, actorID uuid.UUID, trackID string) (*models.QueueEntry, error) {
	entry := models.QueueEntry{
		RoomID:   roomID,
		Position: len(f.queue) + 1,
		TrackID:  trackID,
		AddedBy:  actorID,
		AddedAt:  time.Now(),
	}
	f.queue = append(f.queue, entry)
	return &entry, nil
}

func (f *fakeRooms) QueueRemove(ctx context.Context, roomID, actorID uuid.UUID, position int) (string, error) {
	if position < 1 || position > len(f.queue) {
		return "", models.NewNotFound(models.ErrQueuePositionNotFound, "queue position not found")
	}
	trackID := f.queue[position-1].TrackID
	f.queue = append(f.queue[:position-1], f.queue[position:]...)
	return trackID, nil
}

func (f *fakeRooms) GetQueue(ctx context.Context, roomID uuid.UUID) ([]models.QueueEntry, error) {
	return f.queue, nil
}

func (f *fakeRooms) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	r, ok := f.rooms[roomID]
	if !ok {
		return nil, models.NewNotFound(models.ErrRoomNotFound, "room not found")
	}
	return r, nil
}

func (f *fakeRooms) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	r, ok := f.byCode[code]
	if !ok {
		return nil, models.NewNotFound(models.ErrRoomNotFound, "room not found")
	}
	return r, nil
}

func (f *fakeRooms) ListRooms(ctx context.Context, filter models.RoomFilter) ([]*models.Room, error) {
	f.lastFilter = filter
	rooms := make([]*models.Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		rooms = append(rooms, r)
	}
	return rooms, nil
}

func (f *fakeRooms) Snapshot(ctx context.Context, roomID uuid.UUID) (*models.RoomSnapshot, error) {
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	snapshot := f.snapshotFor(roomID)
	if snapshot == nil {
		return nil, models.NewNotFound(models.ErrRoomNotFound, "room not found")
	}
	return snapshot, nil
}

func (f *fakeRooms) RecentEvents(ctx context.Context, roomID uuid.UUID, limit int) ([]models.PlaybackEvent, error) {
	f.lastLimit = limit
	return f.events, nil
}

func (f *fakeRooms) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	return true, nil
}

func (f *fakeRooms) MemberCount(ctx context.Context, roomID uuid.UUID) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.memberCount, nil
}

func (f *fakeRooms) ResolveHost(ctx context.Context, roomID uuid.UUID) (uuid.UUID, error) {
	r, ok := f.rooms[roomID]
	if !ok {
		return uuid.Nil, models.NewNotFound(models.ErrRoomNotFound, "room not found")
	}
	return r.HostUserID, nil
}

func (f *fakeRooms) Shutdown() {}

// handlerEnv wires the handlers to a fake engine and a real hub backed by
// miniredis.
type handlerEnv struct {
	rooms   *fakeRooms
	status  *room.StatusAggregator
	clk     *clock.Clock
	server  *rpc.Server
	session *managers.RoomSessionManager
	syncH   *SyncHandler
	roomH   *RoomHandler
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	var cfg config.Config
	cfg.Database.Redis.Addresses = []string{mr.Addr()}
	cfg.Stream.QueueCapacity = 8
	cfg.Stream.DrainTimeout = time.Second
	cfg.WebSocket.MaxMessageSize = 1 << 20
	cfg.WebSocket.WriteWait = 2 * time.Second
	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.PongTimeout = 10 * time.Second

	client, err := redis.NewClient(&cfg, utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	session := managers.NewRoomSessionManager(client, clock.New(), utils.NewNopLogger())
	status := room.NewStatusAggregator(clock.New())
	rooms := newFakeRooms()
	server := rpc.NewServer(&cfg, rooms, status, session, nil, nil, utils.NewNopLogger())
	clk := clock.New()

	return &handlerEnv{
		rooms:   rooms,
		status:  status,
		clk:     clk,
		server:  server,
		session: session,
		syncH:   NewSyncHandler(rooms, server.Hub(), status, clk, utils.NewNopLogger()),
		roomH:   NewRoomHandler(rooms, server.Hub(), status, clk, utils.NewNopLogger()),
	}
}

// newClient builds a client over a real WebSocket pair; the peer side is
// discarded since these tests never run the pumps.
func (e *handlerEnv) newClient(t *testing.T) *rpc.Client {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { peer.Close() })

	serverConn := <-connCh
	t.Cleanup(func() { serverConn.Close() })
	return rpc.NewClient(e.server, serverConn, uuid.New(), "tester")
}
