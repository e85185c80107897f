package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap/zapcore"

	"norelock.dev/syncroom/backend/internal/api"
	"norelock.dev/syncroom/backend/internal/auth"
	"norelock.dev/syncroom/backend/internal/clock"
	"norelock.dev/syncroom/backend/internal/config"
	"norelock.dev/syncroom/backend/internal/db/postgres"
	"norelock.dev/syncroom/backend/internal/db/postgres/stores"
	"norelock.dev/syncroom/backend/internal/db/redis"
	"norelock.dev/syncroom/backend/internal/db/redis/managers"
	"norelock.dev/syncroom/backend/internal/rpc"
	"norelock.dev/syncroom/backend/internal/rpc/methods"
	"norelock.dev/syncroom/backend/internal/services/room"
	"norelock.dev/syncroom/backend/internal/services/system"
	"norelock.dev/syncroom/backend/internal/utils"
)

// hLevel converts a configured level name to a zapcore.Level.
func hLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	case "panic":
		return zapcore.PanicLevel
	default:
		return zapcore.InfoLevel
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("Received shutdown signal")
		cancel()
	}()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(utils.LoggerOptions{
		Development: cfg.Environment == "development",
		Level:       hLevel(cfg.Logging.Level),
		OutputPaths: cfg.Logging.OutputPaths,
	})
	defer logger.Sync()
	logger.Info("Starting syncroom server", "environment", cfg.Environment)

	// Durable store
	pgClient, err := postgres.NewClient(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", err)
	}
	defer pgClient.Close()

	if err := pgClient.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to ensure Postgres schema", err)
	}

	// Ephemeral state store
	redisClient, err := redis.NewClient(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close Redis client", err)
		}
	}()

	// Engine core
	clk := clock.New()
	store := stores.NewStore(pgClient, logger)
	sessionMgr := managers.NewRoomSessionManager(redisClient, clk, logger)
	graceTimers := room.NewGraceTimers(cfg.Room.HostGraceWindow, logger)
	limiter := redis.NewRateLimiter(redisClient)
	roomManager := room.NewManager(store, sessionMgr, graceTimers, limiter, cfg, logger)
	statusAggregator := room.NewStatusAggregator(clk)

	// Token verification
	jwtProvider := auth.NewJWTProvider(auth.JWTConfig{
		Secret:              cfg.Auth.JWTSecret,
		Issuer:              cfg.Auth.TokenIssuer,
		Audience:            cfg.Auth.TokenAudience,
		AccessTokenDuration: cfg.Auth.AccessTokenExpiry,
	}, logger)

	// Stream server
	rpcServer := rpc.NewServer(cfg, roomManager, statusAggregator, sessionMgr, jwtProvider, limiter, logger)
	methods.RegisterAllMethods(rpcServer, roomManager, statusAggregator, clk, logger)
	go rpcServer.Run()

	// System services
	healthService := system.NewHealthService(pgClient, redisClient, logger, system.HealthServiceConfig{
		Version:     "1.0.0",
		Environment: cfg.Environment,
	})
	healthService.Start(ctx)

	metricsService := system.NewMetricsService(logger)
	metricsService.StartCollector(ctx, rpcServer, rpcServer.Hub())

	maintenanceService := system.NewMaintenanceService(
		cfg, sessionMgr, roomManager, store.Playback, rpcServer, logger)
	maintenanceService.Start(ctx)

	// REST surface
	router := api.NewRouter(jwtProvider, roomManager, healthService, metricsService, cfg, logger)

	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	apiServer := &http.Server{
		Addr:         apiAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// The stream endpoint listens on its own port with no HTTP middleware
	// in front of the WebSocket upgrade.
	wsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1)
	wsServer := &http.Server{
		Addr:        wsAddr,
		Handler:     http.HandlerFunc(rpcServer.HandleWebSocket),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server", "address", apiAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", err)
		}
	}()

	go func() {
		logger.Info("Starting stream server", "address", wsAddr)
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Stream server error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting first, then drain the stream clients, then stop the
	// background services. Store connections close via the defers above,
	// after everything that uses them has stopped.
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Stream server shutdown error", err)
	}

	rpcServer.Shutdown(shutdownCtx)
	maintenanceService.Stop()
	roomManager.Shutdown()

	logger.Info("Server shutdown complete")
}
