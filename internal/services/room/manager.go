// Package room provides the room lifecycle engine: creation, membership,
// playback, queues, host presence and the grace window that keeps a room
// alive while its host is briefly gone.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"norelock.dev/syncroom/backend/internal/config"
	"norelock.dev/syncroom/backend/internal/db/postgres/stores"
	"norelock.dev/syncroom/backend/internal/db/redis"
	"norelock.dev/syncroom/backend/internal/db/redis/managers"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

// maxCodeAttempts bounds how often creation regenerates a join code after a
// uniqueness conflict.
const maxCodeAttempts = 3

// expiryTimeout bounds the work done when a grace window elapses; expiries
// run on timer goroutines that have no caller context.
const expiryTimeout = 30 * time.Second

// RoomManager composes the durable store and the ephemeral session store into
// the room lifecycle API. Durable writes commit before the matching event is
// published, so any subscriber that sees an event may assume it is durable.
type RoomManager interface {
	// Lifecycle operations
	Create(ctx context.Context, input models.CreateRoomInput) (*models.RoomSnapshot, error)
	Join(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomSnapshot, error)
	Leave(ctx context.Context, roomID, userID uuid.UUID) error
	Close(ctx context.Context, roomID, actorID uuid.UUID) error

	// Host stream attachment
	HostAttached(ctx context.Context, roomID, hostID uuid.UUID) error
	HostDetached(ctx context.Context, roomID uuid.UUID) error

	// Playback and queue operations
	UpdatePlayback(ctx context.Context, roomID, actorID uuid.UUID, changes models.PlaybackChanges) (*models.PlaybackState, error)
	QueueAdd(ctx context.Context, roomID, actorID uuid.UUID, trackID string) (*models.QueueEntry, error)
	QueueRemove(ctx context.Context, roomID, actorID uuid.UUID, position int) (string, error)
	GetQueue(ctx context.Context, roomID uuid.UUID) ([]models.QueueEntry, error)

	// Read operations
	GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	ListRooms(ctx context.Context, filter models.RoomFilter) ([]*models.Room, error)
	Snapshot(ctx context.Context, roomID uuid.UUID) (*models.RoomSnapshot, error)
	RecentEvents(ctx context.Context, roomID uuid.UUID, limit int) ([]models.PlaybackEvent, error)
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	MemberCount(ctx context.Context, roomID uuid.UUID) (int64, error)
	ResolveHost(ctx context.Context, roomID uuid.UUID) (uuid.UUID, error)

	// Shutdown cancels grace timers so no expiry runs against closing stores.
	Shutdown()
}

// Manager implements the RoomManager interface.
type Manager struct {
	store   *stores.Store
	session *managers.RoomSessionManager
	grace   *GraceTimers
	limiter *redis.RateLimiter
	cfg     *config.Config
	logger  *utils.Logger

	latchMu sync.Mutex
	latches map[uuid.UUID]*roomLatch
}

// roomLatch serializes state-mutating operations within one room.
type roomLatch struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a new room manager and installs its grace expiry
// handler.
func NewManager(
	store *stores.Store,
	session *managers.RoomSessionManager,
	grace *GraceTimers,
	limiter *redis.RateLimiter,
	cfg *config.Config,
	logger *utils.Logger,
) *Manager {
	m := &Manager{
		store:   store,
		session: session,
		grace:   grace,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.Named("room_manager"),
		latches: make(map[uuid.UUID]*roomLatch),
	}
	grace.SetExpiryFunc(m.expireGrace)
	return m
}

// lockRoom acquires the room's serialization latch and returns its release
// function. Unrelated rooms proceed in parallel.
func (m *Manager) lockRoom(roomID uuid.UUID) func() {
	m.latchMu.Lock()
	l, ok := m.latches[roomID]
	if !ok {
		l = &roomLatch{}
		m.latches[roomID] = l
	}
	l.refs++
	m.latchMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.latchMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.latches, roomID)
		}
		m.latchMu.Unlock()
	}
}

// dsTry runs a durable-store operation, retrying once when the failure is
// transient.
func dsTry(fn func() error) error {
	err := fn()
	if err != nil && models.IsTransient(err) {
		err = fn()
	}
	return err
}

// ess runs an ephemeral-store operation, retrying once on failure. Errors the
// session store already classified pass through; anything else surfaces as
// transient so callers know a later attempt may succeed.
func (m *Manager) ess(fn func() error) error {
	classify := func(err error) error {
		var engineErr *models.EngineError
		if errors.As(err, &engineErr) {
			return err
		}
		return models.NewTransient(err, "ephemeral state unavailable")
	}

	err := fn()
	if err == nil {
		return nil
	}
	if classified := classify(err); !models.IsTransient(classified) {
		return classified
	}
	if err = fn(); err != nil {
		return classify(err)
	}
	return nil
}

// Create makes a new room: the durable insert commits first, then the
// session view is built and the creation event published. If the session
// cannot be built the room is closed durably before the error returns, so a
// room is never ACTIVE in the durable store without a session.
func (m *Manager) Create(ctx context.Context, input models.CreateRoomInput) (*models.RoomSnapshot, error) {
	if err := utils.Validate(&input); err != nil {
		return nil, models.NewInvalid(err, "invalid room input")
	}
	if input.Visibility == "" {
		input.Visibility = models.VisibilityPublic
	}

	if limit := m.cfg.Room.CreateLimitPerHour; limit > 0 {
		result, err := m.limiter.Allow(ctx, redis.RoomCreateLimit(limit), input.HostUserID.String())
		if err != nil {
			m.logger.Error("Rate limit check failed", err, "userId", input.HostUserID)
			// Continue anyway, creation should not depend on the limiter
		} else if !result.Allowed {
			return nil, models.NewFailedPrecondition(models.ErrRateLimited, "room creation limit reached")
		}
	}

	var room *models.Room
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := NewRoomCode()
		if err != nil {
			return nil, models.NewInternal(err, "")
		}

		room = &models.Room{
			ID:          uuid.New(),
			Code:        code,
			Name:        input.Name,
			Description: input.Description,
			HostUserID:  input.HostUserID,
			Visibility:  input.Visibility,
			InviteOnly:  input.InviteOnly,
			Status:      models.RoomActive,
		}

		err = dsTry(func() error { return m.store.Rooms.CreateRoom(ctx, room) })
		if err == nil {
			break
		}
		if errors.Is(err, models.ErrRoomCodeTaken) && attempt < maxCodeAttempts-1 {
			m.logger.Warn("Room code collision, regenerating", "code", code)
			continue
		}
		return nil, err
	}

	// Build the session view. Any failure here rolls the room back to
	// INACTIVE durably; the engine never leaves an ACTIVE room without a
	// session.
	err := m.ess(func() error { return m.session.CreateRoomSession(ctx, room.ID, room.HostUserID) })
	if err == nil {
		err = m.ess(func() error { return m.session.SetHostConnected(ctx, room.ID, room.HostUserID) })
	}
	if err == nil {
		err = m.ess(func() error {
			_, addErr := m.session.AddMember(ctx, room.ID, room.HostUserID)
			return addErr
		})
	}
	if err == nil {
		err = m.ess(func() error {
			return m.session.Publish(ctx, room.ID, models.RoomStatusUpdate{
				Status: models.RoomActive,
				Reason: "created",
			})
		})
	}
	if err != nil {
		m.logger.Error("Failed to build room session, closing room", err, "roomId", room.ID)
		if closeErr := m.store.Rooms.CloseRoom(ctx, room.ID); closeErr != nil {
			m.logger.Error("Failed to close room after session failure", closeErr, "roomId", room.ID)
		}
		return nil, err
	}

	m.logger.Info("Created room", "roomId", room.ID, "code", room.Code, "hostId", room.HostUserID)
	return m.buildSnapshot(ctx, room)
}

// Join adds a user to an active room and returns the post-join snapshot.
// Rejoining is idempotent; the join event is published only when a new
// membership row was created.
func (m *Manager) Join(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomSnapshot, error) {
	defer m.lockRoom(roomID)()

	var active bool
	err := m.ess(func() error {
		var essErr error
		active, essErr = m.session.IsRoomActive(ctx, roomID)
		return essErr
	})
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, models.NewFailedPrecondition(models.ErrRoomNotActive, "room is not active")
	}

	var created bool
	err = dsTry(func() error {
		var dsErr error
		created, dsErr = m.store.Rooms.JoinRoom(ctx, roomID, userID)
		return dsErr
	})
	if err != nil {
		return nil, err
	}

	var count int64
	err = m.ess(func() error {
		var essErr error
		count, essErr = m.session.AddMember(ctx, roomID, userID)
		return essErr
	})
	if err != nil {
		return nil, err
	}

	if created {
		err = m.ess(func() error {
			return m.session.Publish(ctx, roomID, models.MemberJoin{UserID: userID, MemberCount: count})
		})
		if err != nil {
			m.logger.Error("Failed to publish member join", err, "roomId", roomID, "userId", userID)
			// Continue anyway, the membership is recorded
		}
	}

	room, err := m.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return m.buildSnapshot(ctx, room)
}

// Leave removes a user from a room. A participant leaves immediately; a
// leaving host starts the grace window instead, and the room stays durably
// ACTIVE until that window expires.
func (m *Manager) Leave(ctx context.Context, roomID, userID uuid.UUID) error {
	defer m.lockRoom(roomID)()

	host, err := m.sessionHost(ctx, roomID)
	if err != nil {
		return err
	}

	if host != nil && host.UserID == userID {
		return m.hostDetachedLocked(ctx, roomID, host)
	}

	var wasHost bool
	err = dsTry(func() error {
		var dsErr error
		wasHost, dsErr = m.store.Rooms.LeaveRoom(ctx, roomID, userID)
		return dsErr
	})
	if err != nil {
		return err
	}
	if wasHost {
		// The durable store held a HOST row the session view did not know
		// about; it has already closed the room, so tear the session down.
		m.logger.Warn("Host membership closed outside session view", "roomId", roomID, "userId", userID)
		return m.teardownSession(ctx, roomID, "host_disconnected")
	}

	var count int64
	err = m.ess(func() error {
		var essErr error
		count, essErr = m.session.RemoveMember(ctx, roomID, userID)
		return essErr
	})
	if err != nil {
		return err
	}

	return m.ess(func() error {
		return m.session.Publish(ctx, roomID, models.MemberLeave{UserID: userID, MemberCount: count})
	})
}

// Close inactivates a room on the host's request: durable close first, then
// the closing event, then session teardown.
func (m *Manager) Close(ctx context.Context, roomID, actorID uuid.UUID) error {
	defer m.lockRoom(roomID)()

	room, err := m.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostUserID != actorID {
		return models.NewUnauthorized(models.ErrNotHost, "only the host can close the room")
	}
	if !room.IsActive() {
		return models.NewFailedPrecondition(models.ErrRoomClosed, "room is already closed")
	}

	m.grace.Cancel(roomID)

	if err := dsTry(func() error { return m.store.Rooms.CloseRoom(ctx, roomID) }); err != nil {
		return err
	}

	if err := m.teardownSession(ctx, roomID, "room_closed"); err != nil {
		m.logger.Error("Failed to tear down session on close", err, "roomId", roomID)
		// Continue anyway, the room is durably closed
	}

	m.logger.Info("Closed room", "roomId", roomID, "actorId", actorID)
	return nil
}

// HostAttached marks the host connected. If a grace countdown was running it
// is cancelled and the reactivation is published to the room.
func (m *Manager) HostAttached(ctx context.Context, roomID, hostID uuid.UUID) error {
	defer m.lockRoom(roomID)()

	hostUserID, err := m.ResolveHost(ctx, roomID)
	if err != nil {
		return err
	}
	if hostUserID != hostID {
		return models.NewUnauthorized(models.ErrNotHost, "caller is not the room host")
	}

	if err := m.ess(func() error { return m.session.SetHostConnected(ctx, roomID, hostID) }); err != nil {
		return err
	}

	if m.grace.Cancel(roomID) {
		m.logger.Info("Host reattached within grace window", "roomId", roomID, "hostId", hostID)
		return m.ess(func() error {
			return m.session.Publish(ctx, roomID, models.RoomStatusUpdate{
				Status: models.RoomActive,
				Reason: "host_reconnected",
			})
		})
	}
	return nil
}

// HostDetached marks the host disconnected and starts the grace countdown.
// Detaching an already detached host is a no-op.
func (m *Manager) HostDetached(ctx context.Context, roomID uuid.UUID) error {
	defer m.lockRoom(roomID)()

	host, err := m.sessionHost(ctx, roomID)
	if err != nil {
		return err
	}
	if host == nil {
		return models.NewFailedPrecondition(models.ErrRoomNotActive, "room has no session")
	}
	return m.hostDetachedLocked(ctx, roomID, host)
}

// hostDetachedLocked runs the host-disconnect sequence under an already held
// room latch.
func (m *Manager) hostDetachedLocked(ctx context.Context, roomID uuid.UUID, host *models.HostPresence) error {
	if !host.Connected {
		return nil
	}

	if err := m.ess(func() error { return m.session.SetHostDisconnected(ctx, roomID) }); err != nil {
		return err
	}

	deadline := m.grace.Arm(roomID, host.UserID)
	timeoutSeconds := int(m.grace.Window() / time.Second)

	err := m.ess(func() error {
		return m.session.Publish(ctx, roomID, models.HostDisconnected{
			UserID:         host.UserID,
			TimeoutSeconds: timeoutSeconds,
		})
	})
	if err != nil {
		m.logger.Error("Failed to publish host disconnect", err, "roomId", roomID)
		// Continue anyway, the timer is armed
	}

	m.logger.Info("Host detached, grace window started",
		"roomId", roomID, "hostId", host.UserID, "deadline", deadline)
	return nil
}

// expireGrace closes a room whose host never reattached. It runs on the
// timer goroutine: durable close first, then the inactivation event, then
// session teardown, all under the room latch.
func (m *Manager) expireGrace(roomID, hostID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
	defer cancel()

	defer m.lockRoom(roomID)()

	// A reattach that raced the timer wins.
	host, err := m.sessionHost(ctx, roomID)
	if err != nil {
		m.logger.Error("Failed to read host at grace expiry", err, "roomId", roomID)
		return
	}
	if host == nil || host.Connected {
		return
	}

	err = dsTry(func() error {
		_, leaveErr := m.store.Rooms.LeaveRoom(ctx, roomID, hostID)
		return leaveErr
	})
	if err != nil && !models.IsNotFound(err) {
		m.logger.Error("Failed to close room at grace expiry", err, "roomId", roomID)
		return
	}

	if err := m.teardownSession(ctx, roomID, "host_disconnected"); err != nil {
		m.logger.Error("Failed to tear down session at grace expiry", err, "roomId", roomID)
	}

	m.logger.Info("Room closed after grace expiry", "roomId", roomID, "hostId", hostID)
}

// ExpireStaleSession closes a room whose host has been disconnected for
// longer than the grace window. It is the backstop for grace timers lost to
// a process restart; an armed timer that fires concurrently loses the race
// through the room latch and finds nothing left to do.
func (m *Manager) ExpireStaleSession(ctx context.Context, roomID uuid.UUID) (bool, error) {
	defer m.lockRoom(roomID)()

	host, err := m.sessionHost(ctx, roomID)
	if err != nil {
		return false, err
	}
	if host == nil || host.Connected {
		return false, nil
	}

	anchor := host.LastSeen
	if host.DisconnectedAt != nil {
		anchor = *host.DisconnectedAt
	}
	if time.Since(anchor) < m.grace.Window() {
		return false, nil
	}

	err = dsTry(func() error {
		_, leaveErr := m.store.Rooms.LeaveRoom(ctx, roomID, host.UserID)
		return leaveErr
	})
	if err != nil && !models.IsNotFound(err) {
		return false, err
	}

	if err := m.teardownSession(ctx, roomID, "host_disconnected"); err != nil {
		return false, err
	}

	m.grace.Cancel(roomID)
	m.logger.Info("Stale session expired", "roomId", roomID, "hostId", host.UserID)
	return true, nil
}

// teardownSession publishes the room's inactivation and destroys the session
// view. Subscribers receive the event and terminate their streams.
func (m *Manager) teardownSession(ctx context.Context, roomID uuid.UUID, reason string) error {
	err := m.ess(func() error {
		return m.session.Publish(ctx, roomID, models.RoomStatusUpdate{
			Status: models.RoomInactive,
			Reason: reason,
		})
	})
	if err != nil {
		return err
	}
	return m.ess(func() error { return m.session.DestroySession(ctx, roomID) })
}

// UpdatePlayback applies a host's playback change: the durable merge and its
// event-log row commit first, then the session mirror is updated and the
// change published.
func (m *Manager) UpdatePlayback(ctx context.Context, roomID, actorID uuid.UUID, changes models.PlaybackChanges) (*models.PlaybackState, error) {
	if changes.IsEmpty() {
		return nil, models.NewInvalid(models.ErrInvalidInput, "playback update carries no changes")
	}
	if changes.PositionMs != nil && *changes.PositionMs < 0 {
		return nil, models.NewInvalid(models.ErrInvalidPosition, "position cannot be negative")
	}

	defer m.lockRoom(roomID)()

	if err := m.requireHost(ctx, roomID, actorID); err != nil {
		return nil, err
	}

	var state *models.PlaybackState
	err := dsTry(func() error {
		var dsErr error
		state, dsErr = m.store.Playback.Apply(ctx, roomID, actorID, changes)
		return dsErr
	})
	if err != nil {
		return nil, err
	}

	if err := m.ess(func() error { return m.session.UpdatePlayback(ctx, roomID, changes) }); err != nil {
		m.logger.Error("Playback committed but session mirror failed", err, "roomId", roomID)
		return nil, err
	}
	return state, nil
}

// QueueAdd appends a track to the room queue and publishes the change. Hosts
// may always add; participants only when the room configuration allows it.
func (m *Manager) QueueAdd(ctx context.Context, roomID, actorID uuid.UUID, trackID string) (*models.QueueEntry, error) {
	if trackID == "" {
		return nil, models.NewInvalid(models.ErrInvalidInput, "track id is required")
	}

	defer m.lockRoom(roomID)()

	if err := m.requireHost(ctx, roomID, actorID); err != nil {
		if !m.cfg.Room.ParticipantQueueAdd {
			return nil, err
		}
		member, memberErr := m.IsMember(ctx, roomID, actorID)
		if memberErr != nil {
			return nil, memberErr
		}
		if !member {
			return nil, models.NewUnauthorized(models.ErrMemberNotFound, "caller is not in the room")
		}
	}

	if maxSize := m.cfg.Room.MaxQueueSize; maxSize > 0 {
		count, err := m.store.Queue.Count(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if count >= maxSize {
			return nil, models.NewFailedPrecondition(models.ErrQueueFull, "room queue is full")
		}
	}

	var entry *models.QueueEntry
	err := dsTry(func() error {
		var dsErr error
		entry, dsErr = m.store.Queue.Append(ctx, roomID, trackID, actorID)
		return dsErr
	})
	if err != nil {
		return nil, err
	}

	err = m.ess(func() error {
		return m.session.Publish(ctx, roomID, models.QueueUpdate{
			Action:   models.QueueActionAdd,
			Position: entry.Position,
			TrackID:  entry.TrackID,
		})
	})
	if err != nil {
		m.logger.Error("Failed to publish queue add", err, "roomId", roomID)
		// Continue anyway, the entry is durable
	}
	return entry, nil
}

// QueueRemove removes the entry at the given position, shifts later entries
// down and publishes the change. Removal is host-only.
func (m *Manager) QueueRemove(ctx context.Context, roomID, actorID uuid.UUID, position int) (string, error) {
	if position < 0 {
		return "", models.NewInvalid(models.ErrInvalidInput, "position cannot be negative")
	}

	defer m.lockRoom(roomID)()

	if err := m.requireHost(ctx, roomID, actorID); err != nil {
		return "", err
	}

	var trackID string
	err := dsTry(func() error {
		var dsErr error
		trackID, dsErr = m.store.Queue.Remove(ctx, roomID, position)
		return dsErr
	})
	if err != nil {
		return "", err
	}

	err = m.ess(func() error {
		return m.session.Publish(ctx, roomID, models.QueueUpdate{
			Action:   models.QueueActionRemove,
			Position: position,
			TrackID:  trackID,
		})
	})
	if err != nil {
		m.logger.Error("Failed to publish queue remove", err, "roomId", roomID)
		// Continue anyway, the removal is durable
	}
	return trackID, nil
}

// GetQueue returns the room queue ordered by position.
func (m *Manager) GetQueue(ctx context.Context, roomID uuid.UUID) ([]models.QueueEntry, error) {
	return m.store.Queue.List(ctx, roomID)
}

// GetRoom returns the durable room record.
func (m *Manager) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	return m.store.Rooms.GetRoom(ctx, roomID)
}

// GetRoomByCode resolves a join code to its room.
func (m *Manager) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	return m.store.Rooms.GetRoomByCode(ctx, code)
}

// ListRooms returns active rooms matching the filter.
func (m *Manager) ListRooms(ctx context.Context, filter models.RoomFilter) ([]*models.Room, error) {
	return m.store.Rooms.ListActiveRooms(ctx, filter)
}

// Snapshot returns the merged view of a room: durable identity plus the live
// session state. Reads take no latch and see last-committed values.
func (m *Manager) Snapshot(ctx context.Context, roomID uuid.UUID) (*models.RoomSnapshot, error) {
	room, err := m.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return m.buildSnapshot(ctx, room)
}

// RecentEvents returns the newest playback event-log rows for a room.
func (m *Manager) RecentEvents(ctx context.Context, roomID uuid.UUID, limit int) ([]models.PlaybackEvent, error) {
	return m.store.Playback.RecentEvents(ctx, roomID, limit)
}

// IsMember reports whether the user is in the room's live member set.
func (m *Manager) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var member bool
	err := m.ess(func() error {
		var essErr error
		member, essErr = m.session.IsMember(ctx, roomID, userID)
		return essErr
	})
	return member, err
}

// MemberCount reports the live session membership size.
func (m *Manager) MemberCount(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var count int64
	err := m.ess(func() error {
		var essErr error
		count, essErr = m.session.MemberCount(ctx, roomID)
		return essErr
	})
	return count, err
}

// ResolveHost returns the room's host user. The session record wins while a
// session exists; otherwise the durable record answers.
func (m *Manager) ResolveHost(ctx context.Context, roomID uuid.UUID) (uuid.UUID, error) {
	host, err := m.sessionHost(ctx, roomID)
	if err != nil {
		return uuid.Nil, err
	}
	if host != nil {
		return host.UserID, nil
	}

	room, err := m.GetRoom(ctx, roomID)
	if err != nil {
		return uuid.Nil, err
	}
	return room.HostUserID, nil
}

// Shutdown cancels all grace timers.
func (m *Manager) Shutdown() {
	m.grace.Stop()
	m.logger.Info("Room manager stopped")
}

// requireHost verifies the actor is the room's current host.
func (m *Manager) requireHost(ctx context.Context, roomID, actorID uuid.UUID) error {
	hostUserID, err := m.ResolveHost(ctx, roomID)
	if err != nil {
		return err
	}
	if hostUserID != actorID {
		return models.NewUnauthorized(models.ErrNotHost, "operation requires the room host")
	}
	return nil
}

// sessionHost reads the host record, mapping a missing session to nil.
func (m *Manager) sessionHost(ctx context.Context, roomID uuid.UUID) (*models.HostPresence, error) {
	var host *models.HostPresence
	err := m.ess(func() error {
		var essErr error
		host, essErr = m.session.GetHost(ctx, roomID)
		return essErr
	})
	if err != nil {
		if models.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return host, nil
}

// buildSnapshot merges the durable room record with the session view. A room
// without a session yields a snapshot with only the durable part.
func (m *Manager) buildSnapshot(ctx context.Context, room *models.Room) (*models.RoomSnapshot, error) {
	var snapshot *models.RoomSnapshot
	err := m.ess(func() error {
		var essErr error
		snapshot, essErr = m.session.Snapshot(ctx, room.ID)
		return essErr
	})
	if err != nil {
		if models.IsNotFound(err) {
			return &models.RoomSnapshot{Room: room, Info: models.RoomInfo{Status: room.Status}}, nil
		}
		return nil, err
	}
	snapshot.Room = room
	return snapshot, nil
}
