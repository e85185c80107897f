package postgres

import (
	"context"
	"fmt"
)

const roomsSchema = `
CREATE TABLE IF NOT EXISTS rooms (
    id UUID PRIMARY KEY,
    -- Short human-shareable join code.
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    host_user_id UUID NOT NULL,
    visibility TEXT NOT NULL DEFAULT 'PUBLIC',
    invite_only BOOLEAN NOT NULL DEFAULT FALSE,
    -- Durable lifecycle status, ACTIVE or INACTIVE. INACTIVE is terminal.
    status TEXT NOT NULL DEFAULT 'ACTIVE',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS rooms_code_idx ON rooms (code);
CREATE INDEX IF NOT EXISTS rooms_status_idx ON rooms (status);
CREATE INDEX IF NOT EXISTS rooms_host_idx ON rooms (host_user_id);
`

const roomMembersSchema = `
CREATE TABLE IF NOT EXISTS room_members (
    id BIGSERIAL PRIMARY KEY,
    room_id UUID NOT NULL REFERENCES rooms (id),
    user_id UUID NOT NULL,
    role TEXT NOT NULL DEFAULT 'PARTICIPANT',
    joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    -- NULL while the membership is active; set exactly once on leave.
    left_at TIMESTAMPTZ
);

-- One active membership per user per room; closed rows stay as history.
CREATE UNIQUE INDEX IF NOT EXISTS room_members_active_idx
    ON room_members (room_id, user_id) WHERE left_at IS NULL;
CREATE INDEX IF NOT EXISTS room_members_user_idx
    ON room_members (user_id) WHERE left_at IS NULL;
`

const playbackStateSchema = `
CREATE TABLE IF NOT EXISTS playback_state (
    room_id UUID PRIMARY KEY REFERENCES rooms (id),
    -- Empty string means no track loaded.
    track_id TEXT NOT NULL DEFAULT '',
    position_ms BIGINT NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'PAUSED',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const roomQueueSchema = `
CREATE TABLE IF NOT EXISTS room_queue (
    room_id UUID NOT NULL REFERENCES rooms (id),
    position INTEGER NOT NULL,
    track_id TEXT NOT NULL,
    added_by UUID NOT NULL,
    added_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    -- Deferred so a removal can shift later entries down in one statement.
    CONSTRAINT room_queue_position_unique UNIQUE (room_id, position)
        DEFERRABLE INITIALLY DEFERRED
);
`

const playbackEventLogSchema = `
CREATE TABLE IF NOT EXISTS playback_event_log (
    id BIGSERIAL PRIMARY KEY,
    room_id UUID NOT NULL REFERENCES rooms (id),
    user_id UUID NOT NULL,
    event_type TEXT NOT NULL,
    payload JSONB NOT NULL DEFAULT '{}'::JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS playback_event_log_room_idx
    ON playback_event_log (room_id, created_at DESC);
`

const activeMembersFunction = `
CREATE OR REPLACE FUNCTION get_active_room_members(room_uuid UUID)
RETURNS SETOF room_members AS $$
    SELECT * FROM room_members
    WHERE room_id = room_uuid AND left_at IS NULL
    ORDER BY joined_at, id;
$$ LANGUAGE sql STABLE;
`

// EnsureSchema creates all tables, indexes and functions if they do not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	c.logger.Info("Ensuring Postgres schema")

	schemas := []struct {
		name string
		ddl  string
	}{
		{"rooms", roomsSchema},
		{"room_members", roomMembersSchema},
		{"playback_state", playbackStateSchema},
		{"room_queue", roomQueueSchema},
		{"playback_event_log", playbackEventLogSchema},
		{"get_active_room_members", activeMembersFunction},
	}

	for _, s := range schemas {
		if _, err := c.pool.Exec(ctx, s.ddl); err != nil {
			c.logger.Error("Failed to apply schema", err, "schema", s.name)
			return fmt.Errorf("apply schema %s: %w", s.name, err)
		}
	}

	c.logger.Info("Postgres schema ready")
	return nil
}
