package methods

import (
	"context"

	"norelock.dev/syncroom/backend/internal/clock"
	"norelock.dev/syncroom/backend/internal/rpc"
	"norelock.dev/syncroom/backend/internal/services/room"
	"norelock.dev/syncroom/backend/internal/utils"
)

// RegisterAllMethods initializes all RPC method handlers and registers
// them with the server's router.
func RegisterAllMethods(
	server *rpc.Server,
	rooms room.RoomManager,
	status *room.StatusAggregator,
	clk *clock.Clock,
	logger *utils.Logger,
) {
	roomHandler := NewRoomHandler(rooms, server.Hub(), status, clk, logger)
	syncHandler := NewSyncHandler(rooms, server.Hub(), status, clk, logger)

	hr := server.Router().Wrap(rpc.RecoveryMiddleware(logger)).Wrap(rpc.LoggingMiddleware(logger))

	rpc.RegisterNoParams(hr, "ping", handlePing)

	roomHandler.RegisterMethods(hr)
	syncHandler.RegisterMethods(hr)
	logger.Info("Registered all RPC methods")
}

func handlePing(ctx context.Context, client *rpc.Client) (any, error) {
	return "pong", nil
}
