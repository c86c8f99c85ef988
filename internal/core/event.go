package core

import "github.com/vovakirdan/supportline/internal/proto"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRoomJoined confirms a join with the room and its history.
	EventRoomJoined EventKind = iota
	// EventMessageNew carries a committed message.
	EventMessageNew
	EventMessageEdited
	EventMessageDeleted
	// EventTyping relays a peer's typing state.
	EventTyping
	// EventRoomClaimed announces the supporter that won a room.
	EventRoomClaimed
	// EventRoomStatus announces a terminal transition.
	EventRoomStatus
	// EventClaimRejected answers a claimant that did not win.
	EventClaimRejected
	EventAccessDenied
	// EventQueueSnapshot delivers the whole waiting queue.
	EventQueueSnapshot
	EventQueueNewRequest
	EventQueueCount
	EventMetrics
	// EventError notifies clients about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
// Events are shared between recipients and must not be mutated after broadcast.
type Event struct {
	Kind EventKind

	RoomID string
	// UserID is the typing peer for EventTyping.
	UserID string
	Typing bool

	Room     proto.Room      // joined, claimed, status
	Message  proto.Message   // new, edited
	Messages []proto.Message // joined

	Entry   proto.QueueEntry
	Entries []proto.QueueEntry
	Count   int

	// Scope and Reason describe access denials and claim rejections.
	Scope  string
	Reason string

	Metrics proto.MetricsSnapshot
	Error   *CoreError
}
