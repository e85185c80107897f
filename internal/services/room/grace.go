package room

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"norelock.dev/syncroom/backend/internal/utils"
)

// ExpiryFunc is invoked when a room's grace window elapses without the host
// reattaching.
type ExpiryFunc func(roomID, hostID uuid.UUID)

// GraceTimers tracks one reattach deadline per room whose host has dropped.
// Deadlines are absolute: they are fixed at disconnect time and do not slide
// on other room activity.
type GraceTimers struct {
	window time.Duration
	logger *utils.Logger

	mu     sync.Mutex
	timers map[uuid.UUID]*graceTimer
	expire ExpiryFunc
}

type graceTimer struct {
	timer    *time.Timer
	hostID   uuid.UUID
	deadline time.Time
}

// NewGraceTimers creates a timer registry with the given reattach window.
func NewGraceTimers(window time.Duration, logger *utils.Logger) *GraceTimers {
	return &GraceTimers{
		window: window,
		logger: logger.Named("grace"),
		timers: make(map[uuid.UUID]*graceTimer),
	}
}

// SetExpiryFunc installs the callback run when a deadline passes. It must be
// set before the first Arm; timers fire on their own goroutine.
func (g *GraceTimers) SetExpiryFunc(fn ExpiryFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expire = fn
}

// Window returns the configured reattach window.
func (g *GraceTimers) Window() time.Duration {
	return g.window
}

// Arm starts the grace countdown for a room and returns the absolute
// deadline. Arming a room that is already counting down replaces the old
// timer and deadline.
func (g *GraceTimers) Arm(roomID, hostID uuid.UUID) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.timers[roomID]; ok {
		existing.timer.Stop()
	}

	deadline := time.Now().Add(g.window)
	gt := &graceTimer{hostID: hostID, deadline: deadline}
	gt.timer = time.AfterFunc(g.window, func() { g.fire(roomID, gt) })
	g.timers[roomID] = gt

	g.logger.Info("Armed grace timer", "roomId", roomID, "hostId", hostID, "deadline", deadline)
	return deadline
}

// Cancel stops the room's countdown. It reports whether a timer was armed,
// which tells the caller the host reattached during the window.
func (g *GraceTimers) Cancel(roomID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	gt, ok := g.timers[roomID]
	if !ok {
		return false
	}
	gt.timer.Stop()
	delete(g.timers, roomID)

	g.logger.Info("Cancelled grace timer", "roomId", roomID)
	return true
}

// Deadline returns the room's current reattach deadline, if armed.
func (g *GraceTimers) Deadline(roomID uuid.UUID) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	gt, ok := g.timers[roomID]
	if !ok {
		return time.Time{}, false
	}
	return gt.deadline, true
}

// Stop cancels every armed timer. Used on shutdown so no expiry runs against
// closing stores.
func (g *GraceTimers) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for roomID, gt := range g.timers {
		gt.timer.Stop()
		delete(g.timers, roomID)
	}
}

// fire runs the expiry callback if the timer is still the current one.
func (g *GraceTimers) fire(roomID uuid.UUID, armed *graceTimer) {
	g.mu.Lock()
	gt, ok := g.timers[roomID]
	if ok && gt == armed {
		delete(g.timers, roomID)
	}
	expire := g.expire
	g.mu.Unlock()

	// A cancel or a re-arm that raced the timer goroutine wins.
	if !ok || gt != armed {
		return
	}
	if expire == nil {
		g.logger.Error("Grace timer fired with no expiry handler", nil, "roomId", roomID)
		return
	}

	g.logger.Info("Grace window expired", "roomId", roomID, "hostId", gt.hostID)
	expire(roomID, gt.hostID)
}
