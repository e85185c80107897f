package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRoomEventIsFlat(t *testing.T) {
	roomID := uuid.New()
	userID := uuid.New()
	at := time.UnixMilli(1700000000000)

	data, err := EncodeRoomEvent(roomID, HostDisconnected{
		UserID:         userID,
		TimeoutSeconds: 180,
	}, at)
	require.NoError(t, err)

	// Variant fields sit beside the envelope fields, not under a payload
	// key.
	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "host_disconnected", wire["type"])
	assert.Equal(t, roomID.String(), wire["room_id"])
	assert.EqualValues(t, 1700000000000, wire["timestamp"])
	assert.Equal(t, userID.String(), wire["user_id"])
	assert.EqualValues(t, 180, wire["timeout_seconds"])
	assert.NotContains(t, wire, "payload")
	assert.NotContains(t, wire, "event")
}

func TestDecodeRoomEventRoundTrip(t *testing.T) {
	roomID := uuid.New()
	at := time.Now()

	data, err := EncodeRoomEvent(roomID, QueueUpdate{
		Action:   QueueActionAdd,
		Position: 3,
		TrackID:  "track-42",
	}, at)
	require.NoError(t, err)

	envelope, err := DecodeRoomEvent(data)
	require.NoError(t, err)
	assert.Equal(t, EventTypeQueueUpdate, envelope.Type)
	assert.Equal(t, roomID, envelope.RoomID)
	assert.Equal(t, at.UnixMilli(), envelope.Timestamp)

	queue, ok := envelope.Event.(QueueUpdate)
	require.True(t, ok, "decoded variant should be QueueUpdate, got %T", envelope.Event)
	assert.Equal(t, QueueActionAdd, queue.Action)
	assert.Equal(t, 3, queue.Position)
	assert.Equal(t, "track-42", queue.TrackID)
}

func TestDecodeRoomEventStatusUpdate(t *testing.T) {
	data, err := EncodeRoomEvent(uuid.New(), RoomStatusUpdate{
		Status: RoomInactive,
		Reason: "host_disconnected",
	}, time.Now())
	require.NoError(t, err)

	envelope, err := DecodeRoomEvent(data)
	require.NoError(t, err)

	status, ok := envelope.Event.(RoomStatusUpdate)
	require.True(t, ok)
	assert.Equal(t, RoomInactive, status.Status)
	assert.Equal(t, "host_disconnected", status.Reason)
}

func TestDecodeRoomEventUnknownType(t *testing.T) {
	data := []byte(`{"type":"dance_break","room_id":"` + uuid.New().String() + `","timestamp":1}`)

	_, err := DecodeRoomEvent(data)
	require.Error(t, err)
	assert.True(t, IsInvalid(err))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeRoomEventMalformed(t *testing.T) {
	_, err := DecodeRoomEvent([]byte(`{"type":`))
	require.Error(t, err)
	assert.True(t, IsInvalid(err))
}
