package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"norelock.dev/syncroom/backend/internal/config"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

// hostPresenceSlack is how long a host record claiming a live connection must
// be untouched before the sweep treats it as a leftover from a dead process.
const hostPresenceSlack = 5 * time.Minute

// eventLogCleanupInterval is how often the durable event log is trimmed.
const eventLogCleanupInterval = time.Hour

// StreamServer reports live connection state for the sweep's crash checks.
type StreamServer interface {
	IsUserConnected(userID uuid.UUID) bool
}

// SessionIndex enumerates the ephemeral session views and their host records.
type SessionIndex interface {
	SessionRooms(ctx context.Context) ([]uuid.UUID, error)
	GetHost(ctx context.Context, roomID uuid.UUID) (*models.HostPresence, error)
}

// SessionReaper applies the lifecycle transitions the sweep decides on.
type SessionReaper interface {
	HostDetached(ctx context.Context, roomID uuid.UUID) error
	ExpireStaleSession(ctx context.Context, roomID uuid.UUID) (bool, error)
}

// EventLogStore trims the durable playback event log.
type EventLogStore interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MaintenanceTask is a named task run on its own interval.
type MaintenanceTask struct {
	Name     string
	Interval time.Duration
	LastRun  time.Time
	Fn       func(context.Context) error
}

// MaintenanceService runs the engine's background janitor tasks: sweeping
// session state that survived a crash and trimming the durable event log.
// Grace timers live in process memory, so a restart silently drops them;
// the sweep is what closes those rooms afterward.
type MaintenanceService struct {
	enabled        bool
	sweepInterval  time.Duration
	eventLogMaxAge time.Duration
	taskTimeout    time.Duration

	sessions SessionIndex
	reaper   SessionReaper
	events   EventLogStore
	streams  StreamServer
	logger   *utils.Logger

	mu    sync.Mutex
	tasks []*MaintenanceTask

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMaintenanceService creates a maintenance service and registers its
// default tasks. streams may be nil, in which case the sweep skips the
// connected-host verification; events may be nil to disable log trimming.
func NewMaintenanceService(
	cfg *config.Config,
	sessions SessionIndex,
	reaper SessionReaper,
	events EventLogStore,
	streams StreamServer,
	logger *utils.Logger,
) *MaintenanceService {
	s := &MaintenanceService{
		enabled:        cfg.Maintenance.Enabled,
		sweepInterval:  cfg.Maintenance.SweepInterval,
		eventLogMaxAge: cfg.Maintenance.EventLogMaxAge,
		taskTimeout:    cfg.Maintenance.TaskTimeout,
		sessions:       sessions,
		reaper:         reaper,
		events:         events,
		streams:        streams,
		logger:         logger.Named("maintenance"),
		stopCh:         make(chan struct{}),
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = time.Minute
	}
	if s.taskTimeout <= 0 {
		s.taskTimeout = 5 * time.Minute
	}

	s.RegisterTask("stale_session_cleanup", s.sweepInterval, s.CleanupStaleSessions)
	if events != nil {
		s.RegisterTask("event_log_cleanup", eventLogCleanupInterval, s.CleanupEventLog)
	}
	return s
}

// RegisterTask adds a task to the schedule. A zero LastRun makes the task due
// on the first tick.
func (s *MaintenanceService) RegisterTask(name string, interval time.Duration, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, &MaintenanceTask{
		Name:     name,
		Interval: interval,
		Fn:       fn,
	})
	s.logger.Info("Registered maintenance task", "name", name, "interval", interval)
}

// Start launches the maintenance loop. Due tasks run once immediately so a
// restarted process repairs leftover state without waiting a full interval.
func (s *MaintenanceService) Start(ctx context.Context) {
	if !s.enabled {
		s.logger.Info("Maintenance service is disabled")
		return
	}

	s.logger.Info("Starting maintenance service", "sweepInterval", s.sweepInterval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		s.runDueTasks(ctx)
		for {
			select {
			case <-ticker.C:
				s.runDueTasks(ctx)
			case <-s.stopCh:
				s.logger.Info("Stopping maintenance service")
				return
			case <-ctx.Done():
				s.logger.Info("Stopping maintenance service")
				return
			}
		}
	}()
}

// Stop halts the maintenance loop and waits for an in-flight run to finish.
func (s *MaintenanceService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// runDueTasks runs every task whose interval has elapsed. A failed task keeps
// its old LastRun and is retried on the next tick.
func (s *MaintenanceService) runDueTasks(ctx context.Context) {
	s.mu.Lock()
	now := time.Now()
	var due []*MaintenanceTask
	for _, task := range s.tasks {
		if now.Sub(task.LastRun) >= task.Interval {
			due = append(due, task)
		}
	}
	s.mu.Unlock()

	for _, task := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.runTask(ctx, task); err != nil {
			s.logger.Error("Maintenance task failed", err, "name", task.Name)
			continue
		}
		s.mu.Lock()
		task.LastRun = time.Now()
		s.mu.Unlock()
	}
}

// runTask runs one task under the task timeout; a panic surfaces as an error.
func (s *MaintenanceService) runTask(ctx context.Context, task *MaintenanceTask) (err error) {
	taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task %s: %v", task.Name, r)
		}
	}()

	s.logger.Debug("Running maintenance task", "name", task.Name)
	return task.Fn(taskCtx)
}

// CleanupStaleSessions walks every session view and repairs the ones no live
// process is tending. A host disconnected past the grace window is expired;
// a host recorded as connected with no live connection behind the record is
// detached, which arms a fresh grace window for it.
func (s *MaintenanceService) CleanupStaleSessions(ctx context.Context) error {
	rooms, err := s.sessions.SessionRooms(ctx)
	if err != nil {
		return fmt.Errorf("list session rooms: %w", err)
	}
	if len(rooms) == 0 {
		return nil
	}

	var detached, expired int
	for _, roomID := range rooms {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		host, err := s.sessions.GetHost(ctx, roomID)
		if err != nil {
			// The session may have been torn down mid-sweep.
			if models.IsNotFound(err) {
				continue
			}
			s.logger.Error("Failed to read host presence", err, "roomId", roomID)
			continue
		}

		if host.Connected {
			// A crashed process leaves host.Connected set with no live
			// connection behind it. The connection registry decides.
			if s.streams == nil || s.streams.IsUserConnected(host.UserID) {
				continue
			}
			if time.Since(host.LastSeen) < hostPresenceSlack {
				continue
			}
			if err := s.reaper.HostDetached(ctx, roomID); err != nil {
				s.logger.Error("Failed to detach absent host", err,
					"roomId", roomID, "hostId", host.UserID)
				continue
			}
			detached++
			continue
		}

		ok, err := s.reaper.ExpireStaleSession(ctx, roomID)
		if err != nil {
			s.logger.Error("Failed to expire stale session", err, "roomId", roomID)
			continue
		}
		if ok {
			expired++
		}
	}

	if detached > 0 || expired > 0 {
		s.logger.Info("Stale session sweep completed",
			"checked", len(rooms), "detached", detached, "expired", expired)
	}
	return nil
}

// CleanupEventLog removes playback event-log rows older than the retention
// window.
func (s *MaintenanceService) CleanupEventLog(ctx context.Context) error {
	if s.eventLogMaxAge <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-s.eventLogMaxAge)
	removed, err := s.events.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("trim event log: %w", err)
	}
	if removed > 0 {
		s.logger.Info("Event log trimmed", "removed", removed, "cutoff", cutoff)
	}
	return nil
}
