package rpc

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"norelock.dev/syncroom/backend/internal/utils"
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client represents a WebSocket client connection.
type Client struct {
	// ID is a unique identifier for the connection.
	ID string

	// UserID is the authenticated user behind the connection.
	UserID uuid.UUID

	// Username is the authenticated user's display name.
	Username string

	// server is the server the client is connected to.
	server *Server

	// conn is the underlying WebSocket connection.
	conn *websocket.Conn

	// send is the bounded outbound frame queue. An enqueue that finds it
	// full marks the connection slow and the server drops it rather than
	// block the room fan-out.
	send chan []byte

	// rooms maps room IDs to the push framing this connection receives
	// for that room.
	rooms map[uuid.UUID]StreamMode

	// hostRooms tracks rooms this connection is host-attached to. A close
	// of the connection starts the host grace window for each.
	hostRooms map[uuid.UUID]bool

	// logger is the client's logger.
	logger *utils.Logger

	// mutex guards rooms, hostRooms, closed and slow.
	mutex sync.RWMutex

	// closed indicates that send has been closed.
	closed bool

	// slow indicates the connection was dropped for a full queue.
	slow bool
}

// NewClient creates a client for an upgraded connection.
func NewClient(server *Server, conn *websocket.Conn, userID uuid.UUID, username string) *Client {
	return &Client{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		server:    server,
		conn:      conn,
		send:      make(chan []byte, server.cfg.Stream.QueueCapacity),
		rooms:     make(map[uuid.UUID]StreamMode),
		hostRooms: make(map[uuid.UUID]bool),
		logger:    server.logger.Named("client").With("clientId", conn.RemoteAddr().String(), "userId", userID),
	}
}

// readPump reads messages from the connection and dispatches them to the
// router. It runs in its own goroutine; when it returns the client is
// unregistered and the connection closed.
func (c *Client) readPump() {
	defer func() {
		c.server.unregisterClient(c)
		c.conn.Close()
	}()

	cfg := c.server.cfg
	c.conn.SetReadLimit(cfg.WebSocket.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait())); err != nil {
		c.logger.Error("Failed to set read deadline", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait()))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Unexpected close", "error", err.Error())
			}
			break
		}

		message = bytes.TrimSpace(bytes.ReplaceAll(message, newline, space))
		c.handleMessage(message)
	}
}

// writePump writes queued frames to the connection and keeps the
// connection alive with periodic pings. It runs in its own goroutine.
func (c *Client) writePump() {
	cfg := c.server.cfg
	ticker := time.NewTicker(cfg.WebSocket.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(cfg.WebSocket.WriteWait)); err != nil {
				return
			}
			if !ok {
				// The server closed the queue.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				w.Close()
				return
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(cfg.WebSocket.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one inbound frame and routes it.
func (c *Client) handleMessage(message []byte) {
	if len(message) == 0 {
		return
	}

	var request Request
	if err := json.Unmarshal(message, &request); err != nil {
		c.logger.Warn("Failed to parse message", "error", err.Error())
		c.sendResponse(NewErrorResponse(nil, NewParseError(err.Error())))
		return
	}

	response := c.server.router.Route(c.server.ctx, c, &request)
	if response != nil {
		c.sendResponse(response)
	}
}

// sendResponse marshals and enqueues a response frame.
func (c *Client) sendResponse(response *Response) {
	data, err := json.Marshal(response)
	if err != nil {
		c.logger.Error("Failed to marshal response", err)
		return
	}
	c.trySend(data)
}

// SendNotification enqueues a server push frame. It reports false when
// the frame was dropped because the queue was full or the client closed.
func (c *Client) SendNotification(method string, params any) bool {
	data, err := json.Marshal(NewNotification(method, params))
	if err != nil {
		c.logger.Error("Failed to marshal notification", err, "method", method)
		return false
	}
	return c.trySend(data)
}

// trySend enqueues a frame without blocking. A full queue reports false;
// the caller decides whether that makes the connection slow.
func (c *Client) trySend(data []byte) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound queue exactly once.
func (c *Client) closeSend() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// closeWithReason sends a close frame with the given code and reason and
// then drops the connection. Control writes are safe concurrently with
// the write pump.
func (c *Client) closeWithReason(code int, reason string) {
	deadline := time.Now().Add(c.server.cfg.WebSocket.WriteWait)
	if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		c.logger.Debug("Failed to write close frame", "reason", reason, "error", err.Error())
	}
	c.conn.Close()
}

// markSlow flags the connection as dropped for backpressure. It reports
// whether this call was the one that set the flag.
func (c *Client) markSlow() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.slow {
		return false
	}
	c.slow = true
	return true
}

// setStreamMode records the push framing for a room.
func (c *Client) setStreamMode(roomID uuid.UUID, mode StreamMode) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.rooms[roomID] = mode
}

// clearStreamMode removes a room registration.
func (c *Client) clearStreamMode(roomID uuid.UUID) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.rooms, roomID)
}

// streamMode returns the push framing for a room, if registered.
func (c *Client) streamMode(roomID uuid.UUID) (StreamMode, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	mode, ok := c.rooms[roomID]
	return mode, ok
}

// Watching reports whether this connection is registered for a room's
// events.
func (c *Client) Watching(roomID uuid.UUID) bool {
	_, ok := c.streamMode(roomID)
	return ok
}

// StreamRooms returns a snapshot of the rooms this connection streams.
func (c *Client) StreamRooms() []uuid.UUID {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	rooms := make([]uuid.UUID, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// MarkHostAttached records a host attachment for this connection.
func (c *Client) MarkHostAttached(roomID uuid.UUID) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.hostRooms[roomID] = true
}

// ClearHostAttached removes a host attachment record.
func (c *Client) ClearHostAttached(roomID uuid.UUID) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.hostRooms, roomID)
}

// HostRooms returns a snapshot of the rooms this connection hosts.
func (c *Client) HostRooms() []uuid.UUID {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	rooms := make([]uuid.UUID, 0, len(c.hostRooms))
	for roomID := range c.hostRooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// IsHostOf reports whether this connection is host-attached to the room.
func (c *Client) IsHostOf(roomID uuid.UUID) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.hostRooms[roomID]
}

// pendingSends reports the number of frames waiting in the queue.
func (c *Client) pendingSends() int {
	return len(c.send)
}
