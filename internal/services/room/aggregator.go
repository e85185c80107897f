package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"norelock.dev/syncroom/backend/internal/clock"
)

// readyWindow is how recent a ready report must be to count toward the
// room's ready tally.
const readyWindow = 3 * time.Second

// MemberSummary is one member's last reported sync status as surfaced to the
// host.
type MemberSummary struct {
	UserID     uuid.UUID `json:"user_id"`
	PositionMs int64     `json:"position_ms"`
	Ready      bool      `json:"ready"`
	LatencyMs  int64     `json:"latency_ms"`
	ReportedAt int64     `json:"reported_at"`
}

type memberStatus struct {
	positionMs int64
	ready      bool
	latencyMs  int64
	reportedAt time.Time
}

// StatusAggregator collects MemberStatus reports from member sync streams and
// answers the host pipeline's readiness queries. Reports age out of the ready
// tally after readyWindow; the summaries keep the last report regardless of
// age.
type StatusAggregator struct {
	clock *clock.Clock

	mu    sync.RWMutex
	rooms map[uuid.UUID]map[uuid.UUID]memberStatus
}

// NewStatusAggregator creates an empty aggregator.
func NewStatusAggregator(clk *clock.Clock) *StatusAggregator {
	return &StatusAggregator{
		clock: clk,
		rooms: make(map[uuid.UUID]map[uuid.UUID]memberStatus),
	}
}

// Report records a member's latest status.
func (a *StatusAggregator) Report(roomID, userID uuid.UUID, positionMs int64, ready bool, latencyMs int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	room, ok := a.rooms[roomID]
	if !ok {
		room = make(map[uuid.UUID]memberStatus)
		a.rooms[roomID] = room
	}
	room[userID] = memberStatus{
		positionMs: positionMs,
		ready:      ready,
		latencyMs:  latencyMs,
		reportedAt: a.clock.Now(),
	}
}

// ReadyCount returns how many members reported ready within the ready window.
func (a *StatusAggregator) ReadyCount(roomID uuid.UUID) int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cutoff := a.clock.Now().Add(-readyWindow)
	return lo.CountBy(lo.Values(a.rooms[roomID]), func(st memberStatus) bool {
		return st.ready && st.reportedAt.After(cutoff)
	})
}

// Summaries returns the last report of every tracked member in the room.
func (a *StatusAggregator) Summaries(roomID uuid.UUID) []MemberSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return lo.MapToSlice(a.rooms[roomID], func(userID uuid.UUID, st memberStatus) MemberSummary {
		return MemberSummary{
			UserID:     userID,
			PositionMs: st.positionMs,
			Ready:      st.ready,
			LatencyMs:  st.latencyMs,
			ReportedAt: st.reportedAt.UnixMilli(),
		}
	})
}

// Remove drops a member's status, typically when their stream closes.
func (a *StatusAggregator) Remove(roomID, userID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if room, ok := a.rooms[roomID]; ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(a.rooms, roomID)
		}
	}
}

// DropRoom drops all statuses for a room, typically when it closes.
func (a *StatusAggregator) DropRoom(roomID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.rooms, roomID)
}
