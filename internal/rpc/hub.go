package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"norelock.dev/syncroom/backend/internal/db/redis/managers"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/utils"
)

// StreamMode selects which push framing a subscriber receives for a room.
type StreamMode int

const (
	// StreamModeUpdates delivers room:update frames.
	StreamModeUpdates StreamMode = iota + 1

	// StreamModeBroadcast delivers sync:broadcast frames.
	StreamModeBroadcast
)

// Hub fans room events out to stream subscribers. A room with at least one
// subscriber holds exactly one pub/sub subscription regardless of how many
// connections watch it; events fan out to per-connection bounded queues
// without ever blocking on a slow consumer.
type Hub struct {
	// session provides room channel subscriptions and the shutdown publish.
	session *managers.RoomSessionManager

	// logger is the hub's logger.
	logger *utils.Logger

	// mutex guards rooms.
	mutex sync.RWMutex

	// rooms maps room IDs to their live streams.
	rooms map[uuid.UUID]*roomStream

	// wg tracks room pump goroutines.
	wg sync.WaitGroup
}

// roomStream is one room's subscription and its watchers.
type roomStream struct {
	roomID uuid.UUID
	sub    *managers.Subscription

	// mutex guards subscribers.
	mutex       sync.RWMutex
	subscribers map[*Client]bool

	// shutdownSeen closes once the pump has delivered a server_shutdown
	// status update, so shutdown can tell the frame reached the queues.
	shutdownSeen chan struct{}
	shutdownOnce sync.Once
}

// NewHub creates a hub.
func NewHub(session *managers.RoomSessionManager, logger *utils.Logger) *Hub {
	return &Hub{
		session: session,
		logger:  logger.Named("hub"),
		rooms:   make(map[uuid.UUID]*roomStream),
	}
}

// Subscribe registers a connection for a room's events. The first
// subscriber opens the room's pub/sub subscription; the registration is
// visible to the fan-out before Subscribe returns, so callers can hand the
// client a state snapshot knowing no later event will be missed.
func (h *Hub) Subscribe(ctx context.Context, client *Client, roomID uuid.UUID, mode StreamMode) error {
	// Mode first: a subscriber present in the room map always has one.
	client.setStreamMode(roomID, mode)

	h.mutex.Lock()
	rs, ok := h.rooms[roomID]
	if !ok {
		sub, err := h.session.Subscribe(ctx, roomID)
		if err != nil {
			h.mutex.Unlock()
			client.clearStreamMode(roomID)
			return err
		}
		rs = &roomStream{
			roomID:       roomID,
			sub:          sub,
			subscribers:  make(map[*Client]bool),
			shutdownSeen: make(chan struct{}),
		}
		h.rooms[roomID] = rs
		h.wg.Add(1)
		go h.pump(rs)
	}
	rs.mutex.Lock()
	rs.subscribers[client] = true
	rs.mutex.Unlock()
	h.mutex.Unlock()

	h.logger.Debug("Subscribed client to room", "roomId", roomID, "clientId", client.ID, "mode", int(mode))
	return nil
}

// Unsubscribe removes a connection from a room. When the last subscriber
// leaves, the room's pub/sub subscription closes and the map entry is
// freed.
func (h *Hub) Unsubscribe(client *Client, roomID uuid.UUID) {
	client.clearStreamMode(roomID)

	h.mutex.Lock()
	rs, ok := h.rooms[roomID]
	if !ok {
		h.mutex.Unlock()
		return
	}
	rs.mutex.Lock()
	delete(rs.subscribers, client)
	empty := len(rs.subscribers) == 0
	rs.mutex.Unlock()
	if empty {
		delete(h.rooms, roomID)
	}
	h.mutex.Unlock()

	if empty {
		rs.sub.Close()
		h.logger.Debug("Closed room stream", "roomId", roomID)
	}
}

// RemoveClient removes a connection from every room it watches.
func (h *Hub) RemoveClient(client *Client) {
	for _, roomID := range client.StreamRooms() {
		h.Unsubscribe(client, roomID)
	}
}

// RoomCount returns the number of rooms with live streams.
func (h *Hub) RoomCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms)
}

// SubscriberCount returns the number of connections watching a room.
func (h *Hub) SubscriberCount(roomID uuid.UUID) int {
	h.mutex.RLock()
	rs, ok := h.rooms[roomID]
	h.mutex.RUnlock()
	if !ok {
		return 0
	}
	rs.mutex.RLock()
	defer rs.mutex.RUnlock()
	return len(rs.subscribers)
}

// pump delivers one room's events in publish order until the subscription
// closes.
func (h *Hub) pump(rs *roomStream) {
	defer h.wg.Done()

	for envelope := range rs.sub.Events() {
		h.deliver(rs, envelope)

		if update, ok := envelope.Event.(models.RoomStatusUpdate); ok {
			if update.Reason == CloseReasonServerShutdown {
				rs.shutdownOnce.Do(func() { close(rs.shutdownSeen) })
			}
			if update.Status == models.RoomInactive {
				// The room is gone; subscribers got the final event.
				h.closeRoom(rs)
			}
		}
	}
}

// deliver fans one event out to the room's subscribers. Frames enqueue
// without blocking; a subscriber whose queue is full is dropped with a
// slow_subscriber close and removed before the next event.
func (h *Hub) deliver(rs *roomStream, envelope *models.EventEnvelope) {
	frame, err := StreamUpdateFrame(envelope)
	if err != nil {
		h.logger.Error("Failed to frame room event", err, "roomId", rs.roomID, "type", envelope.Type)
		return
	}
	updateData, err := json.Marshal(NewNotification(NotifyRoomUpdate, frame))
	if err != nil {
		h.logger.Error("Failed to marshal room update", err, "roomId", rs.roomID)
		return
	}

	broadcast, err := BroadcastFrame(envelope)
	if err != nil {
		h.logger.Error("Failed to frame broadcast event", err, "roomId", rs.roomID, "type", envelope.Type)
		return
	}
	broadcastData, err := json.Marshal(NewNotification(NotifySyncBroadcast, broadcast))
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", err, "roomId", rs.roomID)
		return
	}

	streamEventsTotal.WithLabelValues(envelope.Type).Inc()

	var slow []*Client
	rs.mutex.RLock()
	for client := range rs.subscribers {
		mode, ok := client.streamMode(rs.roomID)
		if !ok {
			continue
		}
		data := updateData
		if mode == StreamModeBroadcast {
			data = broadcastData
		}
		if !client.trySend(data) {
			slow = append(slow, client)
		}
	}
	rs.mutex.RUnlock()

	for _, client := range slow {
		if client.markSlow() {
			slowSubscribersTotal.Inc()
			h.logger.Warn("Dropping slow subscriber",
				"roomId", rs.roomID, "clientId", client.ID, "userId", client.UserID)
			client.closeWithReason(websocket.ClosePolicyViolation, CloseReasonSlowSubscriber)
		}
		h.Unsubscribe(client, rs.roomID)
	}
}

// closeRoom tears down a room stream after its terminal event.
func (h *Hub) closeRoom(rs *roomStream) {
	h.mutex.Lock()
	if h.rooms[rs.roomID] == rs {
		delete(h.rooms, rs.roomID)
	}
	rs.mutex.Lock()
	clients := make([]*Client, 0, len(rs.subscribers))
	for client := range rs.subscribers {
		clients = append(clients, client)
	}
	rs.subscribers = make(map[*Client]bool)
	rs.mutex.Unlock()
	h.mutex.Unlock()

	for _, client := range clients {
		client.clearStreamMode(rs.roomID)
	}
	rs.sub.Close()
}

// Shutdown pushes a final status update into every room with a live
// stream, waits until those frames reach the subscriber queues, then
// closes all subscriptions. The context bounds the wait.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mutex.RLock()
	streams := make([]*roomStream, 0, len(h.rooms))
	for _, rs := range h.rooms {
		streams = append(streams, rs)
	}
	h.mutex.RUnlock()

	for _, rs := range streams {
		status := models.RoomActive
		if host, err := h.session.GetHost(ctx, rs.roomID); err == nil && !host.Connected {
			status = models.RoomAwaitingHost
		}
		event := models.RoomStatusUpdate{Status: status, Reason: CloseReasonServerShutdown}
		if err := h.session.Publish(ctx, rs.roomID, event); err != nil {
			h.logger.Error("Failed to publish shutdown update", err, "roomId", rs.roomID)
			rs.shutdownOnce.Do(func() { close(rs.shutdownSeen) })
		}
	}

	for _, rs := range streams {
		select {
		case <-rs.shutdownSeen:
		case <-ctx.Done():
		}
	}

	h.mutex.Lock()
	for roomID, rs := range h.rooms {
		delete(h.rooms, roomID)
		rs.sub.Close()
	}
	h.mutex.Unlock()
	h.wg.Wait()

	h.logger.Info("Hub stopped", "rooms", len(streams))
}
