package rpc

// RPC method constants
const (
	// Room lifecycle methods
	MethodRoomCreate    = "room.create"
	MethodRoomGet       = "room.get"
	MethodRoomGetByCode = "room.getByCode"
	MethodRoomJoin      = "room.join"
	MethodRoomLeave     = "room.leave"
	MethodRoomList      = "room.list"
	MethodRoomClose     = "room.close"

	// Room stream methods
	MethodRoomJoinStream = "room.joinStream"

	// Queue methods
	MethodRoomQueueAdd    = "room.queueAdd"
	MethodRoomQueueRemove = "room.queueRemove"
	MethodRoomGetQueue    = "room.getQueue"

	// Audit methods
	MethodRoomGetEvents = "room.getEvents"

	// Sync methods
	MethodSyncTiming      = "sync.timing"
	MethodSyncHostAttach  = "sync.host.attach"
	MethodSyncHostCommand = "sync.host.command"
	MethodSyncMemberJoin  = "sync.member.join"

	// Client notification methods (no response expected)
	MethodSyncMemberStatus = "sync.member.status"
)

// Server push notification methods
const (
	// NotifyRoomUpdate delivers room stream updates to room.joinStream
	// subscribers.
	NotifyRoomUpdate = "room:update"

	// NotifySyncBroadcast delivers raw room events to sync.member.join
	// subscribers.
	NotifySyncBroadcast = "sync:broadcast"
)

// Room stream update frame types
const (
	StreamTypeMemberUpdate     = "member_update"
	StreamTypePlaybackUpdate   = "playback_update"
	StreamTypeRoomStatusUpdate = "room_status_update"
	StreamTypeQueueUpdate      = "queue_update"
)

// Member update actions
const (
	MemberActionJoin  = "join"
	MemberActionLeave = "leave"
)

// Host command types
const (
	CommandTypeTrack    = "track"
	CommandTypePosition = "position"
	CommandTypeControl  = "control"
)

// Server response statuses for host command acknowledgements
const (
	ResponseAcknowledged = "ACKNOWLEDGED"
	ResponseError        = "ERROR"
)

// WebSocket close reasons
const (
	// CloseReasonSlowSubscriber is sent when a client's delivery queue
	// overflows and the server drops the stream rather than block the room.
	CloseReasonSlowSubscriber = "slow_subscriber"

	// CloseReasonServerShutdown is sent when the server closes connections
	// during graceful shutdown.
	CloseReasonServerShutdown = "server_shutdown"
)
