package stores

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"norelock.dev/syncroom/backend/internal/db/postgres"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

const appendQueueSQL = `
INSERT INTO room_queue (room_id, position, track_id, added_by)
SELECT $1, COALESCE(MAX(position), 0) + 1, $2, $3
FROM room_queue
WHERE room_id = $1
RETURNING position, added_at`

const removeQueueEntrySQL = `
DELETE FROM room_queue
WHERE room_id = $1 AND position = $2
RETURNING track_id`

const shiftQueueDownSQL = `
UPDATE room_queue SET position = position - 1
WHERE room_id = $1 AND position > $2`

const listQueueSQL = `
SELECT room_id, position, track_id, added_by, added_at
FROM room_queue
WHERE room_id = $1
ORDER BY position`

const countQueueSQL = `
SELECT count(*) FROM room_queue
WHERE room_id = $1`

// QueueStore is the durable store for room track queues. Positions are a
// dense 1..N sequence; removals shift later entries down.
type QueueStore interface {
	// Append adds a track at the end of the queue and returns the entry with
	// its assigned position.
	Append(ctx context.Context, roomID uuid.UUID, trackID string, addedBy uuid.UUID) (*models.QueueEntry, error)

	// Remove deletes the entry at the given position and shifts later entries
	// down in the same transaction. Returns the removed track ID.
	Remove(ctx context.Context, roomID uuid.UUID, position int) (string, error)

	// List returns the queue ordered by position.
	List(ctx context.Context, roomID uuid.UUID) ([]models.QueueEntry, error)

	// Count returns the number of entries in the queue.
	Count(ctx context.Context, roomID uuid.UUID) (int, error)
}

// queueStore implements QueueStore using PostgreSQL.
type queueStore struct {
	db     *postgres.Client
	logger *utils.Logger
}

// NewQueueStore creates a new queue store.
func NewQueueStore(db *postgres.Client, logger *utils.Logger) QueueStore {
	return &queueStore{
		db:     db,
		logger: logger.Named("queue_store"),
	}
}

func (s *queueStore) Append(ctx context.Context, roomID uuid.UUID, trackID string, addedBy uuid.UUID) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{
		RoomID:  roomID,
		TrackID: trackID,
		AddedBy: addedBy,
	}
	err := s.db.Pool().QueryRow(ctx, appendQueueSQL, roomID, trackID, addedBy).
		Scan(&entry.Position, &entry.AddedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, models.NewNotFound(models.ErrRoomNotFound, "room not found")
		}
		if isUniqueViolation(err) {
			return nil, models.NewConflict(err, "queue position contention")
		}
		s.logger.Error("Failed to append queue entry", err, "roomId", roomID, "trackId", trackID)
		return nil, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	return entry, nil
}

func (s *queueStore) Remove(ctx context.Context, roomID uuid.UUID, position int) (string, error) {
	var trackID string
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, removeQueueEntrySQL, roomID, position).Scan(&trackID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, shiftQueueDownSQL, roomID, position)
		return err
	})
	if err != nil {
		return "", mapQueryError(err, models.ErrQueuePositionNotFound, "queue position not found")
	}
	return trackID, nil
}

func (s *queueStore) List(ctx context.Context, roomID uuid.UUID) ([]models.QueueEntry, error) {
	rows, err := s.db.Pool().Query(ctx, listQueueSQL, roomID)
	if err != nil {
		s.logger.Error("Failed to list queue", err, "roomId", roomID)
		return nil, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(&e.RoomID, &e.Position, &e.TrackID, &e.AddedBy, &e.AddedAt); err != nil {
			return nil, mapQueryError(err, models.ErrRoomNotFound, "")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	return entries, nil
}

func (s *queueStore) Count(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int
	if err := s.db.Pool().QueryRow(ctx, countQueueSQL, roomID).Scan(&count); err != nil {
		return 0, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	return count, nil
}
