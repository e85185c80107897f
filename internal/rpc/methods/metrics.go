package methods

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"norelock.dev/syncroom/backend/internal/rpc"
)

var hostCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "syncroom_host_commands_total",
	Help: "Host playback commands by type and outcome",
}, []string{"type", "status"})

// commandTypeLabel keeps the type label bounded; anything the pipeline does
// not know collapses to one value.
func commandTypeLabel(commandType string) string {
	switch commandType {
	case rpc.CommandTypeTrack, rpc.CommandTypePosition, rpc.CommandTypeControl:
		return commandType
	default:
		return "invalid"
	}
}
