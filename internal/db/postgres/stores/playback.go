package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"norelock.dev/syncroom/backend/internal/db/postgres"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

const selectPlaybackSQL = `
SELECT room_id, track_id, position_ms, status, updated_at
FROM playback_state
WHERE room_id = $1`

const updatePlaybackSQL = `
UPDATE playback_state SET
    track_id = COALESCE($2::TEXT, track_id),
    position_ms = COALESCE($3::BIGINT, position_ms),
    status = COALESCE($4::TEXT, status),
    updated_at = now()
WHERE room_id = $1
RETURNING room_id, track_id, position_ms, status, updated_at`

const insertEventLogSQL = `
INSERT INTO playback_event_log (room_id, user_id, event_type, payload)
VALUES ($1, $2, $3, $4)`

const selectRecentEventsSQL = `
SELECT id, room_id, user_id, event_type, payload, created_at
FROM playback_event_log
WHERE room_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

const deleteOldEventsSQL = `
DELETE FROM playback_event_log
WHERE created_at < $1`

// PlaybackStore is the durable store for playback state and its event log.
type PlaybackStore interface {
	// Get returns the current playback state for a room.
	Get(ctx context.Context, roomID uuid.UUID) (*models.PlaybackState, error)

	// Apply merges the given changes into the playback row and appends one
	// event-log row in the same transaction. The event type is inferred from
	// which fields changed. Returns the state after the merge.
	Apply(ctx context.Context, roomID, actorID uuid.UUID, changes models.PlaybackChanges) (*models.PlaybackState, error)

	// RecentEvents returns the newest event-log rows for a room.
	RecentEvents(ctx context.Context, roomID uuid.UUID, limit int) ([]models.PlaybackEvent, error)

	// DeleteEventsBefore removes event-log rows older than the cutoff,
	// returning how many were removed.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// playbackStore implements PlaybackStore using PostgreSQL.
type playbackStore struct {
	db     *postgres.Client
	logger *utils.Logger
}

// NewPlaybackStore creates a new playback store.
func NewPlaybackStore(db *postgres.Client, logger *utils.Logger) PlaybackStore {
	return &playbackStore{
		db:     db,
		logger: logger.Named("playback_store"),
	}
}

func (s *playbackStore) Get(ctx context.Context, roomID uuid.UUID) (*models.PlaybackState, error) {
	state, err := scanPlayback(s.db.Pool().QueryRow(ctx, selectPlaybackSQL, roomID))
	if err != nil {
		return nil, mapQueryError(err, models.ErrRoomNotFound, "room not found")
	}
	return state, nil
}

func (s *playbackStore) Apply(ctx context.Context, roomID, actorID uuid.UUID, changes models.PlaybackChanges) (*models.PlaybackState, error) {
	if changes.IsEmpty() {
		return nil, models.NewInvalid(models.ErrInvalidInput, "playback update carries no changes")
	}

	payload, err := json.Marshal(changes)
	if err != nil {
		return nil, models.NewInternal(err, "")
	}

	var status *string
	if changes.Status != nil {
		v := string(*changes.Status)
		status = &v
	}

	var state *models.PlaybackState
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		state, err = scanPlayback(tx.QueryRow(ctx, updatePlaybackSQL,
			roomID, changes.TrackID, changes.PositionMs, status))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insertEventLogSQL,
			roomID, actorID, string(changes.EventType()), payload)
		return err
	})
	if err != nil {
		if !models.IsNotFound(mapQueryError(err, models.ErrRoomNotFound, "")) {
			s.logger.Error("Failed to apply playback changes", err, "roomId", roomID)
		}
		return nil, mapQueryError(err, models.ErrRoomNotFound, "room not found")
	}
	return state, nil
}

func (s *playbackStore) RecentEvents(ctx context.Context, roomID uuid.UUID, limit int) ([]models.PlaybackEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Pool().Query(ctx, selectRecentEventsSQL, roomID, limit)
	if err != nil {
		s.logger.Error("Failed to read event log", err, "roomId", roomID)
		return nil, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	defer rows.Close()

	var events []models.PlaybackEvent
	for rows.Next() {
		var ev models.PlaybackEvent
		if err := rows.Scan(&ev.ID, &ev.RoomID, &ev.UserID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, mapQueryError(err, models.ErrRoomNotFound, "")
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	return events, nil
}

func (s *playbackStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Pool().Exec(ctx, deleteOldEventsSQL, cutoff)
	if err != nil {
		s.logger.Error("Failed to trim event log", err, "cutoff", cutoff)
		return 0, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	return tag.RowsAffected(), nil
}

// scanPlayback reads one playback row from either a Row or Rows source.
func scanPlayback(row pgx.Row) (*models.PlaybackState, error) {
	var state models.PlaybackState
	err := row.Scan(&state.RoomID, &state.TrackID, &state.PositionMs, &state.Status, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &state, nil
}
