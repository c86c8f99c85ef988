package proto

import (
	"encoding/json"
	"fmt"
)

// Outbound event tags.
const (
	EventRoomJoined      = "room:joined"
	EventMessageNew      = "message:new"
	EventMessageEdited   = "message:edited"
	EventMessageDeleted  = "message:deleted"
	EventTypingUpdate    = "typing:update"
	EventRoomClaimed     = "room:claimed"
	EventRoomStatus      = "room:status"
	EventClaimRejected   = "claim:rejected"
	EventAccessDenied    = "access:denied"
	EventQueueUpdate     = "queue:update"
	EventQueueNewRequest = "queue:new-request"
	EventQueueCount      = "queue:count"
	EventMetricsUpdate   = "metrics:update"
)

// Access scopes carried by AccessDenied.
const (
	ScopeRoom  = "room"
	ScopeQueue = "queue"
	ScopeAdmin = "admin"
)

// Event is a server to client broadcast. The set of implementations is closed.
type Event interface {
	EventName() string
	isEvent()
}

// RoomJoined confirms a join. It carries the room as the server sees it and the
// room's log at join time, which closes the gap between a history fetch and the join.
type RoomJoined struct {
	Room     Room      `json:"room"`
	History  []Message `json:"history"`
	Protocol int       `json:"protocol"`
}

// MessageReceived carries a newly committed message.
type MessageReceived struct {
	Message Message `json:"message"`
}

// MessageEdited carries the message after an edit.
type MessageEdited struct {
	Message Message `json:"message"`
}

// MessageDeleted tombstones a message.
type MessageDeleted struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

// TypingUpdate reports a peer's typing state in a room.
type TypingUpdate struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// RoomClaimed announces the authoritative winner of a claim.
type RoomClaimed struct {
	RoomID        string `json:"roomId"`
	SupporterID   string `json:"supporterId"`
	SupporterName string `json:"supporterName,omitempty"`
}

// RoomStatusChanged announces resolution or closing of a room.
type RoomStatusChanged struct {
	RoomID string     `json:"roomId"`
	Status RoomStatus `json:"status"`
}

// ClaimRejected answers the claimant when its claim did not win.
type ClaimRejected struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

// AccessDenied refuses a join or subscription.
type AccessDenied struct {
	Scope  string `json:"scope"`
	RoomID string `json:"roomId,omitempty"`
	Reason string `json:"reason"`
}

// QueueUpdate is a full snapshot of the waiting queue.
type QueueUpdate struct {
	Entries []QueueEntry `json:"entries"`
}

// QueueNewRequest announces a room that just entered the queue.
type QueueNewRequest struct {
	Entry QueueEntry `json:"entry"`
}

// QueueCount reports the number of waiting rooms.
type QueueCount struct {
	Count int `json:"count"`
}

// MetricsUpdate replaces the dashboard snapshot.
type MetricsUpdate struct {
	Snapshot MetricsSnapshot `json:"snapshot"`
}

// ServerError is the decoded form of an error envelope.
type ServerError struct {
	Err Error
}

func (RoomJoined) EventName() string        { return EventRoomJoined }
func (MessageReceived) EventName() string   { return EventMessageNew }
func (MessageEdited) EventName() string     { return EventMessageEdited }
func (MessageDeleted) EventName() string    { return EventMessageDeleted }
func (TypingUpdate) EventName() string      { return EventTypingUpdate }
func (RoomClaimed) EventName() string       { return EventRoomClaimed }
func (RoomStatusChanged) EventName() string { return EventRoomStatus }
func (ClaimRejected) EventName() string     { return EventClaimRejected }
func (AccessDenied) EventName() string      { return EventAccessDenied }
func (QueueUpdate) EventName() string       { return EventQueueUpdate }
func (QueueNewRequest) EventName() string   { return EventQueueNewRequest }
func (QueueCount) EventName() string        { return EventQueueCount }
func (MetricsUpdate) EventName() string     { return EventMetricsUpdate }
func (ServerError) EventName() string       { return OutboundTypeError }

func (RoomJoined) isEvent()        {}
func (MessageReceived) isEvent()   {}
func (MessageEdited) isEvent()     {}
func (MessageDeleted) isEvent()    {}
func (TypingUpdate) isEvent()      {}
func (RoomClaimed) isEvent()       {}
func (RoomStatusChanged) isEvent() {}
func (ClaimRejected) isEvent()     {}
func (AccessDenied) isEvent()      {}
func (QueueUpdate) isEvent()       {}
func (QueueNewRequest) isEvent()   {}
func (QueueCount) isEvent()        {}
func (MetricsUpdate) isEvent()     {}
func (ServerError) isEvent()       {}

// EncodeEvent wraps an event into its wire envelope.
func EncodeEvent(ev Event) (Outbound, error) {
	switch e := ev.(type) {
	case ServerError:
		errCopy := e.Err
		return Outbound{Type: OutboundTypeError, Error: &errCopy}, nil
	case RoomJoined, MessageReceived, MessageEdited, MessageDeleted, TypingUpdate,
		RoomClaimed, RoomStatusChanged, ClaimRejected, AccessDenied, QueueUpdate,
		QueueNewRequest, QueueCount, MetricsUpdate:
		data, err := json.Marshal(ev)
		if err != nil {
			return Outbound{}, fmt.Errorf("marshal %s: %w", ev.EventName(), err)
		}
		return Outbound{Type: OutboundTypeEvent, Event: ev.EventName(), Data: data}, nil
	default:
		return Outbound{}, fmt.Errorf("%w: %T", ErrUnknownType, ev)
	}
}

// DecodeEvent parses an envelope into its concrete event.
func DecodeEvent(out Outbound) (Event, error) {
	if out.Type == OutboundTypeError {
		if out.Error == nil {
			return ServerError{Err: Error{Code: "unknown", Msg: "unknown error"}}, nil
		}
		return ServerError{Err: *out.Error}, nil
	}
	if out.Type != OutboundTypeEvent {
		return nil, fmt.Errorf("%w: envelope %q", ErrUnknownType, out.Type)
	}

	switch out.Event {
	case EventRoomJoined:
		return decodeEvent[RoomJoined](out)
	case EventMessageNew:
		return decodeEvent[MessageReceived](out)
	case EventMessageEdited:
		return decodeEvent[MessageEdited](out)
	case EventMessageDeleted:
		return decodeEvent[MessageDeleted](out)
	case EventTypingUpdate:
		return decodeEvent[TypingUpdate](out)
	case EventRoomClaimed:
		return decodeEvent[RoomClaimed](out)
	case EventRoomStatus:
		return decodeEvent[RoomStatusChanged](out)
	case EventClaimRejected:
		return decodeEvent[ClaimRejected](out)
	case EventAccessDenied:
		return decodeEvent[AccessDenied](out)
	case EventQueueUpdate:
		return decodeEvent[QueueUpdate](out)
	case EventQueueNewRequest:
		return decodeEvent[QueueNewRequest](out)
	case EventQueueCount:
		return decodeEvent[QueueCount](out)
	case EventMetricsUpdate:
		return decodeEvent[MetricsUpdate](out)
	default:
		return nil, fmt.Errorf("%w: event %q", ErrUnknownType, out.Event)
	}
}

func decodeEvent[T Event](out Outbound) (Event, error) {
	var v T
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("decode %s: missing data", out.Event)
	}
	if err := json.Unmarshal(out.Data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", out.Event, err)
	}
	return v, nil
}
