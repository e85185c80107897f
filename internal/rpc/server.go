package rpc

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"norelock.dev/syncroom/backend/internal/auth"
	"norelock.dev/syncroom/backend/internal/config"
	"norelock.dev/syncroom/backend/internal/db/redis"
	"norelock.dev/syncroom/backend/internal/db/redis/managers"
	"norelock.dev/syncroom/backend/internal/models"
	"norelock.dev/syncroom/backend/internal/services/room"
	"norelock.dev/syncroom/backend/internal/utils"
)

// cleanupTimeout bounds the store calls made while detaching a dead
// connection from its rooms.
const cleanupTimeout = 10 * time.Second

// Server owns the WebSocket endpoint: it authenticates upgrades, runs the
// client registry, and routes JSON-RPC traffic to the engine.
type Server struct {
	// hub fans room events out to subscribed connections.
	hub *Hub

	// router dispatches requests to method handlers.
	router *Router

	// rooms is the room lifecycle engine.
	rooms room.RoomManager

	// status collects member sync reports.
	status *room.StatusAggregator

	// authProvider verifies bearer tokens on upgrade.
	authProvider auth.Provider

	// limiter throttles connection attempts per user. Optional.
	limiter *redis.RateLimiter

	// cfg is the server configuration.
	cfg *config.Config

	// logger is the server's logger.
	logger *utils.Logger

	// clients is the set of connected clients.
	clients map[*Client]bool

	// register and unregister carry clients in and out of the registry.
	register   chan *Client
	unregister chan *Client

	// mutex guards clients.
	mutex sync.RWMutex

	// ctx cancels in-flight handlers and the run loop.
	ctx    context.Context
	cancel context.CancelFunc

	// draining rejects new connections and suppresses per-room leave
	// semantics once shutdown begins.
	draining atomic.Bool

	upgrader websocket.Upgrader
}

// NewServer creates a new RPC server.
func NewServer(
	cfg *config.Config,
	rooms room.RoomManager,
	status *room.StatusAggregator,
	session *managers.RoomSessionManager,
	authProvider auth.Provider,
	limiter *redis.RateLimiter,
	logger *utils.Logger,
) *Server {
	serverLogger := logger.Named("rpc")
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		router:       NewRouter(serverLogger),
		rooms:        rooms,
		status:       status,
		authProvider: authProvider,
		limiter:      limiter,
		cfg:          cfg,
		logger:       serverLogger,
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		ctx:          ctx,
		cancel:       cancel,
	}
	s.hub = NewHub(session, serverLogger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router returns the server's method router for registration.
func (s *Server) Router() *Router {
	return s.router
}

// Hub returns the server's room stream hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run processes client registration until Shutdown. It must run in its
// own goroutine.
func (s *Server) Run() {
	for {
		select {
		case client := <-s.register:
			s.mutex.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.mutex.Unlock()
			s.logger.Debug("Client connected", "clientId", client.ID, "userId", client.UserID, "clients", count)

		case client := <-s.unregister:
			s.removeClient(client)

		case <-s.ctx.Done():
			return
		}
	}
}

// removeClient drops a client from the registry and detaches it from its
// rooms.
func (s *Server) removeClient(client *Client) {
	s.mutex.Lock()
	if !s.clients[client] {
		s.mutex.Unlock()
		return
	}
	delete(s.clients, client)
	count := len(s.clients)
	s.mutex.Unlock()

	client.closeSend()
	s.logger.Debug("Client disconnected", "clientId", client.ID, "userId", client.UserID, "clients", count)

	// Room detachment talks to the stores; keep it off the run loop.
	go s.cleanupClient(client)
}

// cleanupClient applies the engine's disconnect semantics: hosted rooms
// enter their grace window, member rooms get a leave. During shutdown only
// the stream registrations are dropped; room state stays as it is.
func (s *Server) cleanupClient(client *Client) {
	streamRooms := client.StreamRooms()
	hostRooms := client.HostRooms()
	s.hub.RemoveClient(client)

	if s.draining.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	hosted := make(map[string]bool, len(hostRooms))
	for _, roomID := range hostRooms {
		hosted[roomID.String()] = true
		if err := s.rooms.HostDetached(ctx, roomID); err != nil {
			if !models.IsNotFound(err) && !models.IsFailedPrecondition(err) {
				s.logger.Error("Failed to detach host on disconnect", err, "roomId", roomID, "userId", client.UserID)
			}
		}
		s.status.Remove(roomID, client.UserID)
	}

	for _, roomID := range streamRooms {
		if hosted[roomID.String()] {
			continue
		}
		if err := s.rooms.Leave(ctx, roomID, client.UserID); err != nil {
			if !models.IsNotFound(err) && !models.IsFailedPrecondition(err) {
				s.logger.Error("Failed to leave room on disconnect", err, "roomId", roomID, "userId", client.UserID)
			}
		}
		s.status.Remove(roomID, client.UserID)
	}
}

// unregisterClient hands a client to the run loop, or removes it directly
// once the loop has stopped.
func (s *Server) unregisterClient(client *Client) {
	select {
	case s.unregister <- client:
	case <-s.ctx.Done():
		s.removeClient(client)
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.clients)
}

// IsUserConnected reports whether the user holds at least one live
// connection on this instance.
func (s *Server) IsUserConnected(userID uuid.UUID) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for client := range s.clients {
		if client.UserID == userID {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades an HTTP request to a WebSocket connection.
// The request must carry a valid bearer token in the token query
// parameter or the Authorization header.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := s.authProvider.ValidateToken(token)
	if err != nil {
		s.logger.Debug("Rejected connection", "error", err.Error())
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if s.limiter != nil {
		result, err := s.limiter.Allow(r.Context(), redis.ConnectLimit(), claims.UserID.String())
		if err != nil {
			s.logger.Error("Connect rate limit check failed", err, "userId", claims.UserID)
			// Continue anyway, connects should not depend on the limiter.
		} else if !result.Allowed {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	if max := s.cfg.WebSocket.MaxConnections; max > 0 && s.ClientCount() >= max {
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", err, "remote", r.RemoteAddr)
		return
	}
	wsConnectionsTotal.Inc()

	client := NewClient(s, conn, claims.UserID, claims.Username)
	s.register <- client

	go client.writePump()
	go client.readPump()
}

// checkOrigin accepts requests whose Origin is in the configured allow
// list. An empty list or a "*" entry accepts any origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := s.cfg.Auth.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	for _, entry := range allowed {
		if entry == "*" || strings.EqualFold(entry, origin) {
			return true
		}
	}
	return false
}

// Shutdown closes the server: new connections are rejected, every room
// with a live stream gets a final status update, subscriber queues drain
// within the configured window, and then all connections close. Durable
// room state is left untouched.
func (s *Server) Shutdown(ctx context.Context) {
	s.draining.Store(true)

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.Stream.DrainTimeout)
	defer cancel()

	s.hub.Shutdown(drainCtx)
	s.drainClients(drainCtx)

	s.mutex.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mutex.RUnlock()

	for _, client := range clients {
		client.closeWithReason(websocket.CloseGoingAway, CloseReasonServerShutdown)
	}

	s.cancel()
	s.logger.Info("RPC server stopped", "clients", len(clients))
}

// drainClients waits until every outbound queue has flushed or the
// context expires.
func (s *Server) drainClients(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mutex.RLock()
		pending := 0
		for client := range s.clients {
			pending += client.pendingSends()
		}
		s.mutex.RUnlock()

		if pending == 0 {
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
