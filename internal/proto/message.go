package proto

import "encoding/json"

// ProtocolVersion is advertised by the server in room:joined and checked by clients.
const ProtocolVersion = 1

const (
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return e.Code + ": " + e.Msg
}

// Error codes shared by the server and the client controllers.
const (
	CodeBadRequest     = "bad_request"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeRoomNotFound   = "room_not_found"
	CodeNotInRoom      = "not_in_room"
	CodeMessageUnknown = "message_not_found"
	CodeMessageDeleted = "message_deleted"
	CodeNotSender      = "not_sender"
	CodeRoomClosed     = "room_closed"
	CodeAlreadyClaimed = "already_claimed"
	CodeNotWaiting     = "not_waiting"
	CodeRateLimited    = "rate_limited"
	CodeInvalidMessage = "invalid_message"
)
