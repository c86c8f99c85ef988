package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType is returned when an envelope carries a tag outside the vocabulary.
var ErrUnknownType = errors.New("unknown message type")

// Inbound command tags.
const (
	TypeJoin             = "room:join"
	TypeLeave            = "room:leave"
	TypeSend             = "message:send"
	TypeEdit             = "message:edit"
	TypeDelete           = "message:delete"
	TypeTypingStart      = "typing:start"
	TypeTypingStop       = "typing:stop"
	TypeClaim            = "room:claim"
	TypeQueueSubscribe   = "queue:subscribe"
	TypeQueueUnsubscribe = "queue:unsubscribe"
	TypeAdminSubscribe   = "admin:subscribe"
)

// Command is a client to server request. The set of implementations is closed.
type Command interface {
	CommandType() string
	isCommand()
}

// JoinRoom subscribes the connection to a room scope.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

// LeaveRoom drops the room scope.
type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

// SendMessage posts a new message to a room.
type SendMessage struct {
	RoomID string `json:"roomId"`
	Body   string `json:"body"`
}

// EditMessage replaces the body of a message the caller sent.
type EditMessage struct {
	MessageID string `json:"messageId"`
	Body      string `json:"body"`
}

// DeleteMessage tombstones a message the caller sent.
type DeleteMessage struct {
	MessageID string `json:"messageId"`
}

// TypingStart announces local input activity in a room.
type TypingStart struct {
	RoomID string `json:"roomId"`
}

// TypingStop announces the end of local input activity.
type TypingStop struct {
	RoomID string `json:"roomId"`
}

// ClaimRoom asks the server to assign a waiting room to the caller.
type ClaimRoom struct {
	RoomID string `json:"roomId"`
}

// QueueSubscribe registers interest in queue broadcasts and asks for a snapshot.
type QueueSubscribe struct{}

// QueueUnsubscribe deregisters queue interest.
type QueueUnsubscribe struct{}

// AdminSubscribe registers interest in metrics broadcasts.
type AdminSubscribe struct{}

func (JoinRoom) CommandType() string         { return TypeJoin }
func (LeaveRoom) CommandType() string        { return TypeLeave }
func (SendMessage) CommandType() string      { return TypeSend }
func (EditMessage) CommandType() string      { return TypeEdit }
func (DeleteMessage) CommandType() string    { return TypeDelete }
func (TypingStart) CommandType() string      { return TypeTypingStart }
func (TypingStop) CommandType() string       { return TypeTypingStop }
func (ClaimRoom) CommandType() string        { return TypeClaim }
func (QueueSubscribe) CommandType() string   { return TypeQueueSubscribe }
func (QueueUnsubscribe) CommandType() string { return TypeQueueUnsubscribe }
func (AdminSubscribe) CommandType() string   { return TypeAdminSubscribe }

func (JoinRoom) isCommand()         {}
func (LeaveRoom) isCommand()        {}
func (SendMessage) isCommand()      {}
func (EditMessage) isCommand()      {}
func (DeleteMessage) isCommand()    {}
func (TypingStart) isCommand()      {}
func (TypingStop) isCommand()       {}
func (ClaimRoom) isCommand()        {}
func (QueueSubscribe) isCommand()   {}
func (QueueUnsubscribe) isCommand() {}
func (AdminSubscribe) isCommand()   {}

// EncodeCommand wraps a command into its wire envelope.
func EncodeCommand(cmd Command) (Inbound, error) {
	switch cmd.(type) {
	case QueueSubscribe, QueueUnsubscribe, AdminSubscribe:
		return Inbound{Type: cmd.CommandType()}, nil
	case JoinRoom, LeaveRoom, SendMessage, EditMessage, DeleteMessage,
		TypingStart, TypingStop, ClaimRoom:
		data, err := json.Marshal(cmd)
		if err != nil {
			return Inbound{}, fmt.Errorf("marshal %s: %w", cmd.CommandType(), err)
		}
		return Inbound{Type: cmd.CommandType(), Data: data}, nil
	default:
		return Inbound{}, fmt.Errorf("%w: %T", ErrUnknownType, cmd)
	}
}

// DecodeCommand parses an envelope into its concrete command.
func DecodeCommand(in Inbound) (Command, error) {
	switch in.Type {
	case TypeJoin:
		return decodeInto[JoinRoom](in)
	case TypeLeave:
		return decodeInto[LeaveRoom](in)
	case TypeSend:
		return decodeInto[SendMessage](in)
	case TypeEdit:
		return decodeInto[EditMessage](in)
	case TypeDelete:
		return decodeInto[DeleteMessage](in)
	case TypeTypingStart:
		return decodeInto[TypingStart](in)
	case TypeTypingStop:
		return decodeInto[TypingStop](in)
	case TypeClaim:
		return decodeInto[ClaimRoom](in)
	case TypeQueueSubscribe:
		return QueueSubscribe{}, nil
	case TypeQueueUnsubscribe:
		return QueueUnsubscribe{}, nil
	case TypeAdminSubscribe:
		return AdminSubscribe{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
}

func decodeInto[T Command](in Inbound) (Command, error) {
	var v T
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("decode %s: missing data", in.Type)
	}
	if err := json.Unmarshal(in.Data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", in.Type, err)
	}
	return v, nil
}
