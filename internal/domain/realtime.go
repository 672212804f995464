package domain

import "encoding/json"

// ConnectionState is the realtime channel's lifecycle state.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Event is one realtime frame: a name plus an arbitrary JSON payload.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventHandler receives the payload of a dispatched inbound event.
type EventHandler func(data json.RawMessage)

// Control events exchanged with the realtime backend.
const (
	EventPing       = "ping"
	EventPong       = "pong"
	EventDisconnect = "disconnect" // server-initiated disconnect notice
	EventAuth       = "auth"       // handshake auth payload
	EventAuthUpdate = "auth:update"
	EventRoomJoin   = "room:join"
	EventRoomLeave  = "room:leave"

	// EventConnectionFailed is emitted locally (never sent on the wire)
	// when the reconnect loop gives up after its maximum attempt count.
	EventConnectionFailed = "connection:failed"
)

// Server-pushed domain events the channel subscribes to.
const (
	EventWorkoutFriendStarted   = "workout:friend_started"
	EventWorkoutFriendCompleted = "workout:friend_completed"
	EventSocialReactionReceived = "social:reaction_received"
	EventSocialCommentReceived  = "social:comment_received"
	EventSocialFriendRequest    = "social:friend_request"
	EventSocialFriendAccepted   = "social:friend_accepted"
	EventUserStatusUpdate       = "user:status_update"
	EventSystemNotification     = "system:notification"
)

// Outbound domain events emitted by calling code.
const (
	EventWorkoutStart          = "workout:start"
	EventWorkoutComplete       = "workout:complete"
	EventWorkoutSetLogged      = "workout:set:logged"
	EventWorkoutMilestone      = "workout:milestone"
	EventFriendRequestSent     = "friend:request:sent"
	EventActivityReactionAdded = "activity:reaction:added"
	EventActivityCommentAdded  = "activity:comment:added"
	EventUserStatusEmit        = "user:status:update"
)
