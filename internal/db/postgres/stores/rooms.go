package stores

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"norelock.dev/syncroom/backend/internal/db/postgres"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

const insertRoomSQL = `
INSERT INTO rooms (id, code, name, description, host_user_id, visibility, invite_only, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at`

const insertHostMemberSQL = `
INSERT INTO room_members (room_id, user_id, role)
VALUES ($1, $2, 'HOST')`

const insertPlaybackRowSQL = `
INSERT INTO playback_state (room_id, track_id, position_ms, status)
VALUES ($1, '', 0, 'PAUSED')`

const selectRoomSQL = `
SELECT id, code, name, description, host_user_id, visibility, invite_only, status, created_at
FROM rooms
WHERE id = $1`

const selectRoomByCodeSQL = `
SELECT id, code, name, description, host_user_id, visibility, invite_only, status, created_at
FROM rooms
WHERE code = $1`

const listActiveRoomsSQL = `
SELECT id, code, name, description, host_user_id, visibility, invite_only, status, created_at
FROM rooms
WHERE status = 'ACTIVE'
  AND ($1::TEXT IS NULL OR visibility = $1)
  AND ($2::UUID IS NULL OR host_user_id = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

const insertParticipantSQL = `
INSERT INTO room_members (room_id, user_id, role)
VALUES ($1, $2, 'PARTICIPANT')
ON CONFLICT (room_id, user_id) WHERE left_at IS NULL DO NOTHING`

const closeMemberSQL = `
UPDATE room_members SET left_at = now()
WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL
RETURNING role`

const closeAllMembersSQL = `
UPDATE room_members SET left_at = now()
WHERE room_id = $1 AND left_at IS NULL`

const markRoomInactiveSQL = `
UPDATE rooms SET status = 'INACTIVE'
WHERE id = $1`

const selectActiveMembersSQL = `
SELECT id, room_id, user_id, role, joined_at, left_at
FROM get_active_room_members($1)`

const countActiveMembersSQL = `
SELECT count(*) FROM room_members
WHERE room_id = $1 AND left_at IS NULL`

// RoomStore is the durable store for rooms and memberships.
type RoomStore interface {
	// CreateRoom inserts the room, its HOST membership and the initial
	// playback row in one transaction.
	CreateRoom(ctx context.Context, room *models.Room) error

	// GetRoom returns a room by ID.
	GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error)

	// GetRoomByCode resolves a join code to its room.
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)

	// ListActiveRooms returns active rooms matching the filter, newest first.
	ListActiveRooms(ctx context.Context, filter models.RoomFilter) ([]*models.Room, error)

	// JoinRoom inserts a PARTICIPANT membership unless the user already has
	// an active row. A user who rejoins after leaving gets a fresh row; the
	// closed one stays as history. Reports whether a new row was created.
	JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (created bool, err error)

	// LeaveRoom closes the user's active membership. When the leaver holds
	// the HOST role the room is marked INACTIVE and every remaining active
	// membership is closed in the same transaction.
	LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) (wasHost bool, err error)

	// CloseRoom marks the room INACTIVE and closes all active memberships.
	CloseRoom(ctx context.Context, roomID uuid.UUID) error

	// GetActiveMembers returns active memberships ordered by join time.
	GetActiveMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error)

	// CountActiveMembers returns the number of active memberships.
	CountActiveMembers(ctx context.Context, roomID uuid.UUID) (int64, error)
}

// roomStore implements RoomStore using PostgreSQL.
type roomStore struct {
	db     *postgres.Client
	logger *utils.Logger
}

// NewRoomStore creates a new room store.
func NewRoomStore(db *postgres.Client, logger *utils.Logger) RoomStore {
	return &roomStore{
		db:     db,
		logger: logger.Named("room_store"),
	}
}

func (s *roomStore) CreateRoom(ctx context.Context, room *models.Room) error {
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertRoomSQL,
			room.ID, room.Code, room.Name, room.Description,
			room.HostUserID, room.Visibility, room.InviteOnly, room.Status,
		).Scan(&room.CreatedAt)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertHostMemberSQL, room.ID, room.HostUserID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insertPlaybackRowSQL, room.ID)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			if pgErr.ConstraintName == "rooms_code_idx" {
				return models.NewConflict(models.ErrRoomCodeTaken, "room code already in use")
			}
			return models.NewConflict(err, "room already exists")
		}
		s.logger.Error("Failed to create room", err, "roomId", room.ID)
		return mapQueryError(err, models.ErrRoomNotFound, "")
	}
	return nil
}

func (s *roomStore) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	room, err := scanRoom(s.db.Pool().QueryRow(ctx, selectRoomSQL, roomID))
	if err != nil {
		return nil, mapQueryError(err, models.ErrRoomNotFound, "room not found")
	}
	return room, nil
}

func (s *roomStore) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	room, err := scanRoom(s.db.Pool().QueryRow(ctx, selectRoomByCodeSQL, code))
	if err != nil {
		return nil, mapQueryError(err, models.ErrRoomNotFound, "no room with that code")
	}
	return room, nil
}

func (s *roomStore) ListActiveRooms(ctx context.Context, filter models.RoomFilter) ([]*models.Room, error) {
	filter.Normalize()

	var visibility *string
	if filter.Visibility != nil {
		v := string(*filter.Visibility)
		visibility = &v
	}
	offset := (filter.Page - 1) * filter.PageSize

	rows, err := s.db.Pool().Query(ctx, listActiveRoomsSQL,
		visibility, filter.HostUserID, filter.PageSize, offset)
	if err != nil {
		s.logger.Error("Failed to list rooms", err)
		return nil, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	defer rows.Close()

	var result []*models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, mapQueryError(err, models.ErrRoomNotFound, "")
		}
		result = append(result, room)
	}
	if err := rows.Err(); err != nil {
		return nil, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	return result, nil
}

func (s *roomStore) JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	tag, err := s.db.Pool().Exec(ctx, insertParticipantSQL, roomID, userID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, models.NewNotFound(models.ErrRoomNotFound, "room not found")
		}
		s.logger.Error("Failed to join room", err, "roomId", roomID, "userId", userID)
		return false, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *roomStore) LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var wasHost bool
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var role models.MemberRole
		if err := tx.QueryRow(ctx, closeMemberSQL, roomID, userID).Scan(&role); err != nil {
			return err
		}
		if role != models.RoleHost {
			return nil
		}
		wasHost = true
		if _, err := tx.Exec(ctx, markRoomInactiveSQL, roomID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, closeAllMembersSQL, roomID)
		return err
	})
	if err != nil {
		return false, mapQueryError(err, models.ErrMemberNotFound, "no active membership")
	}
	return wasHost, nil
}

func (s *roomStore) CloseRoom(ctx context.Context, roomID uuid.UUID) error {
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, markRoomInactiveSQL, roomID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		_, err = tx.Exec(ctx, closeAllMembersSQL, roomID)
		return err
	})
	if err != nil {
		return mapQueryError(err, models.ErrRoomNotFound, "room not found")
	}
	return nil
}

func (s *roomStore) GetActiveMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error) {
	rows, err := s.db.Pool().Query(ctx, selectActiveMembersSQL, roomID)
	if err != nil {
		s.logger.Error("Failed to get active members", err, "roomId", roomID)
		return nil, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	defer rows.Close()

	var members []models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Role, &m.JoinedAt, &m.LeftAt); err != nil {
			return nil, mapQueryError(err, models.ErrRoomNotFound, "")
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	return members, nil
}

func (s *roomStore) CountActiveMembers(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var count int64
	if err := s.db.Pool().QueryRow(ctx, countActiveMembersSQL, roomID).Scan(&count); err != nil {
		return 0, mapQueryError(err, models.ErrRoomNotFound, "")
	}
	return count, nil
}

// scanRoom reads one room row from either a Row or Rows source.
func scanRoom(row pgx.Row) (*models.Room, error) {
	var room models.Room
	err := row.Scan(
		&room.ID, &room.Code, &room.Name, &room.Description,
		&room.HostUserID, &room.Visibility, &room.InviteOnly,
		&room.Status, &room.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &room, nil
}
