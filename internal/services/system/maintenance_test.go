package system

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/syncroom/backend/internal/config"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

// fakeSessionIndex serves a fixed set of session views.
type fakeSessionIndex struct {
	rooms   []uuid.UUID
	hosts   map[uuid.UUID]*models.HostPresence
	listErr error
}

func (f *fakeSessionIndex) SessionRooms(context.Context) ([]uuid.UUID, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.rooms, nil
}

func (f *fakeSessionIndex) GetHost(_ context.Context, roomID uuid.UUID) (*models.HostPresence, error) {
	host, ok := f.hosts[roomID]
	if !ok {
		return nil, models.NewNotFound(models.ErrRoomNotFound, "no session for room")
	}
	return host, nil
}

// fakeReaper records which transitions the sweep requested.
type fakeReaper struct {
	detached    []uuid.UUID
	expireCalls []uuid.UUID
	expireOK    map[uuid.UUID]bool
	expireErr   error
	expireErrOn uuid.UUID
}

func (f *fakeReaper) HostDetached(_ context.Context, roomID uuid.UUID) error {
	f.detached = append(f.detached, roomID)
	return nil
}

func (f *fakeReaper) ExpireStaleSession(_ context.Context, roomID uuid.UUID) (bool, error) {
	if f.expireErr != nil && roomID == f.expireErrOn {
		return false, f.expireErr
	}
	f.expireCalls = append(f.expireCalls, roomID)
	return f.expireOK[roomID], nil
}

type fakeStreams struct {
	connected map[uuid.UUID]bool
}

func (f *fakeStreams) IsUserConnected(userID uuid.UUID) bool {
	return f.connected[userID]
}

type fakeEventLog struct {
	cutoff  time.Time
	removed int64
	err     error
}

func (f *fakeEventLog) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return f.removed, nil
}

func newMaintenance(t *testing.T, sessions SessionIndex, reaper SessionReaper, events EventLogStore, streams StreamServer) *MaintenanceService {
	t.Helper()

	var cfg config.Config
	cfg.Maintenance.Enabled = true
	cfg.Maintenance.SweepInterval = time.Minute
	cfg.Maintenance.EventLogMaxAge = 24 * time.Hour
	cfg.Maintenance.TaskTimeout = time.Minute
	return NewMaintenanceService(&cfg, sessions, reaper, events, streams, utils.NewNopLogger())
}

func TestSweepExpiresDisconnectedHosts(t *testing.T) {
	staleRoom := uuid.New()
	liveRoom := uuid.New()
	staleHost := uuid.New()
	liveHost := uuid.New()

	past := time.Now().Add(-10 * time.Minute)
	sessions := &fakeSessionIndex{
		rooms: []uuid.UUID{staleRoom, liveRoom},
		hosts: map[uuid.UUID]*models.HostPresence{
			staleRoom: {UserID: staleHost, Connected: false, LastSeen: past, DisconnectedAt: &past},
			liveRoom:  {UserID: liveHost, Connected: true, LastSeen: time.Now()},
		},
	}
	reaper := &fakeReaper{expireOK: map[uuid.UUID]bool{staleRoom: true}}
	streams := &fakeStreams{connected: map[uuid.UUID]bool{liveHost: true}}

	svc := newMaintenance(t, sessions, reaper, nil, streams)
	require.NoError(t, svc.CleanupStaleSessions(context.Background()))

	// Whether the window has elapsed is the reaper's call; the sweep hands
	// it every disconnected host and leaves the live one alone.
	assert.Equal(t, []uuid.UUID{staleRoom}, reaper.expireCalls)
	assert.Empty(t, reaper.detached)
}

func TestSweepDetachesCrashLeftoverHosts(t *testing.T) {
	deadRoom := uuid.New()
	freshRoom := uuid.New()
	deadHost := uuid.New()
	freshHost := uuid.New()

	sessions := &fakeSessionIndex{
		rooms: []uuid.UUID{deadRoom, freshRoom},
		hosts: map[uuid.UUID]*models.HostPresence{
			deadRoom:  {UserID: deadHost, Connected: true, LastSeen: time.Now().Add(-10 * time.Minute)},
			freshRoom: {UserID: freshHost, Connected: true, LastSeen: time.Now()},
		},
	}
	reaper := &fakeReaper{}
	streams := &fakeStreams{}

	svc := newMaintenance(t, sessions, reaper, nil, streams)
	require.NoError(t, svc.CleanupStaleSessions(context.Background()))

	// The fresh record stays untouched: it may be a handshake racing the
	// sweep rather than a leftover.
	assert.Equal(t, []uuid.UUID{deadRoom}, reaper.detached)
	assert.Empty(t, reaper.expireCalls)
}

func TestSweepWithoutRegistryTrustsPresence(t *testing.T) {
	roomID := uuid.New()
	sessions := &fakeSessionIndex{
		rooms: []uuid.UUID{roomID},
		hosts: map[uuid.UUID]*models.HostPresence{
			roomID: {UserID: uuid.New(), Connected: true, LastSeen: time.Now().Add(-time.Hour)},
		},
	}
	reaper := &fakeReaper{}

	svc := newMaintenance(t, sessions, reaper, nil, nil)
	require.NoError(t, svc.CleanupStaleSessions(context.Background()))

	assert.Empty(t, reaper.detached)
	assert.Empty(t, reaper.expireCalls)
}

func TestSweepContinuesPastFailingRooms(t *testing.T) {
	badRoom := uuid.New()
	goodRoom := uuid.New()

	past := time.Now().Add(-10 * time.Minute)
	sessions := &fakeSessionIndex{
		rooms: []uuid.UUID{badRoom, goodRoom},
		hosts: map[uuid.UUID]*models.HostPresence{
			badRoom:  {UserID: uuid.New(), Connected: false, LastSeen: past, DisconnectedAt: &past},
			goodRoom: {UserID: uuid.New(), Connected: false, LastSeen: past, DisconnectedAt: &past},
		},
	}
	reaper := &fakeReaper{
		expireOK:    map[uuid.UUID]bool{goodRoom: true},
		expireErr:   errors.New("store down"),
		expireErrOn: badRoom,
	}

	svc := newMaintenance(t, sessions, reaper, nil, &fakeStreams{})
	require.NoError(t, svc.CleanupStaleSessions(context.Background()))

	assert.Equal(t, []uuid.UUID{goodRoom}, reaper.expireCalls)
}

func TestCleanupEventLogUsesRetentionCutoff(t *testing.T) {
	events := &fakeEventLog{removed: 3}
	svc := newMaintenance(t, &fakeSessionIndex{}, &fakeReaper{}, events, nil)

	require.NoError(t, svc.CleanupEventLog(context.Background()))
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), events.cutoff, time.Minute)

	events.err = errors.New("connection refused")
	err := svc.CleanupEventLog(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trim event log")
}

func TestRunDueTasksHonorsIntervals(t *testing.T) {
	svc := newMaintenance(t, &fakeSessionIndex{}, &fakeReaper{}, nil, nil)

	var everyTick, hourly int
	svc.RegisterTask("every_tick", 0, func(context.Context) error {
		everyTick++
		return nil
	})
	svc.RegisterTask("hourly", time.Hour, func(context.Context) error {
		hourly++
		return nil
	})

	ctx := context.Background()
	svc.runDueTasks(ctx)
	svc.runDueTasks(ctx)

	assert.Equal(t, 2, everyTick)
	assert.Equal(t, 1, hourly)
}

func TestRunDueTasksRetriesFailedTask(t *testing.T) {
	svc := newMaintenance(t, &fakeSessionIndex{}, &fakeReaper{}, nil, nil)

	var calls int
	svc.RegisterTask("flaky", time.Hour, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})

	ctx := context.Background()
	svc.runDueTasks(ctx)
	svc.runDueTasks(ctx)
	svc.runDueTasks(ctx)

	assert.Equal(t, 2, calls)
}

func TestRunTaskRecoversPanic(t *testing.T) {
	svc := newMaintenance(t, &fakeSessionIndex{}, &fakeReaper{}, nil, nil)

	err := svc.runTask(context.Background(), &MaintenanceTask{
		Name: "explodes",
		Fn:   func(context.Context) error { panic("boom") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explodes")
}

func TestStartRunsTasksUntilStopped(t *testing.T) {
	var cfg config.Config
	cfg.Maintenance.Enabled = true
	cfg.Maintenance.SweepInterval = 10 * time.Millisecond
	cfg.Maintenance.TaskTimeout = time.Second
	svc := NewMaintenanceService(&cfg, &fakeSessionIndex{}, &fakeReaper{}, nil, nil, utils.NewNopLogger())

	var runs atomic.Int32
	svc.RegisterTask("counter", 0, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	svc.Stop()
}

func TestDisabledServiceNeverRuns(t *testing.T) {
	var cfg config.Config
	cfg.Maintenance.Enabled = false
	cfg.Maintenance.SweepInterval = time.Millisecond
	svc := NewMaintenanceService(&cfg, &fakeSessionIndex{}, &fakeReaper{}, nil, nil, utils.NewNopLogger())

	var runs atomic.Int32
	svc.RegisterTask("counter", 0, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	svc.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, runs.Load())
	svc.Stop()
}
