// Package stores contains the durable store implementations backed by
// PostgreSQL. Every mutating operation is transactional; a failed transaction
// leaves both row state and derived state unchanged.
package stores

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"norelock.dev/syncroom/backend/internal/db/postgres"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

// Store bundles the durable stores behind a single dependency.
type Store struct {
	Rooms    RoomStore
	Playback PlaybackStore
	Queue    QueueStore
}

// NewStore creates all durable stores on top of a shared client.
func NewStore(db *postgres.Client, logger *utils.Logger) *Store {
	return &Store{
		Rooms:    NewRoomStore(db, logger),
		Playback: NewPlaybackStore(db, logger),
		Queue:    NewQueueStore(db, logger),
	}
}

// pgUniqueViolation is the Postgres error code for unique constraint violations.
const pgUniqueViolation = "23505"

// pgForeignKeyViolation is the Postgres error code for foreign key violations.
const pgForeignKeyViolation = "23503"

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// isForeignKeyViolation reports whether err is a foreign key violation.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// mapQueryError translates driver errors into engine error kinds. notFound is
// the sentinel wrapped when the query matched no rows; raw driver messages
// never reach callers.
func mapQueryError(err, notFound error, message string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return models.NewNotFound(notFound, message)
	case pgconn.SafeToRetry(err) || pgconn.Timeout(err):
		return models.NewTransient(err, "")
	default:
		return models.NewInternal(err, "")
	}
}
