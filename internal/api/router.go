// Package api provides the REST surface of the engine: room lifecycle and
// audit reads, health and metrics. Realtime sync runs over the stream
// endpoint, which listens separately.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"norelock.dev/syncroom/backend/internal/api/handlers"
	appMiddleware "norelock.dev/syncroom/backend/internal/api/middleware"
	"norelock.dev/syncroom/backend/internal/auth"
	"norelock.dev/syncroom/backend/internal/config"
	"norelock.dev/syncroom/backend/internal/services/room"
	"norelock.dev/syncroom/backend/internal/services/system"
	"norelock.dev/syncroom/backend/internal/utils"
)

// Router is the main HTTP router for the API.
type Router struct {
	*chi.Mux
	logger *utils.Logger
}

// NewRouter creates a new API router.
func NewRouter(
	authProvider auth.Provider,
	rooms room.RoomManager,
	healthSvc *system.HealthService,
	metricsSvc *system.MetricsService,
	cfg *config.Config,
	logger *utils.Logger,
) *Router {
	r := chi.NewRouter()

	// Application middleware
	recoveryMiddleware := appMiddleware.NewRecoveryMiddleware(logger)
	loggerMiddleware := appMiddleware.NewLoggerMiddleware(logger)
	corsMiddleware := appMiddleware.NewCORSMiddleware(
		appMiddleware.CORSConfigFromOrigins(cfg.Auth.AllowedOrigins), logger)
	metricsMiddleware := appMiddleware.NewMetricsMiddleware(metricsSvc)
	authMiddleware := appMiddleware.NewAuthMiddleware(authProvider, logger)

	// Handlers
	healthHandler := handlers.NewHealthHandler(healthSvc, logger)
	roomHandler := handlers.NewRoomHandler(rooms, logger)

	// Global middleware
	r.Use(recoveryMiddleware.Recovery)
	r.Use(loggerMiddleware.Logger)
	r.Use(corsMiddleware.CORS)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(metricsMiddleware.Collect)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get("/health", healthHandler.Check)
		r.Method(http.MethodGet, "/metrics", metricsSvc.Handler())
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireAuth)

		r.Route("/api/rooms", func(r chi.Router) {
			r.Get("/", roomHandler.List)
			r.Post("/", roomHandler.Create)
			r.Get("/code/{code}", roomHandler.GetByCode)

			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", roomHandler.Get)
				r.Delete("/", roomHandler.Close)
				r.Get("/snapshot", roomHandler.Snapshot)
				r.Get("/queue", roomHandler.Queue)
				r.Get("/events", roomHandler.Events)
				r.Post("/join", roomHandler.Join)
				r.Post("/leave", roomHandler.Leave)
			})
		})
	})

	return &Router{
		Mux:    r,
		logger: logger.Named("api_router"),
	}
}
