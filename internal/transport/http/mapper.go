package http

import (
	"fmt"

	"github.com/vovakirdan/supportline/internal/core"
	"github.com/vovakirdan/supportline/internal/proto"
)

// inboundToCommand decodes an envelope into a hub command. A non-nil *proto.Error
// is answered to the client; the connection stays open.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	decoded, err := proto.DecodeCommand(inbound)
	if err != nil {
		return nil, &proto.Error{Code: proto.CodeInvalidMessage, Msg: err.Error()}
	}

	badRequest := func(field string) (*core.Command, *proto.Error) {
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: field + " is required"}
	}

	switch cmd := decoded.(type) {
	case proto.JoinRoom:
		if cmd.RoomID == "" {
			return badRequest("roomId")
		}
		return &core.Command{Kind: core.CommandJoinRoom, RoomID: cmd.RoomID}, nil
	case proto.LeaveRoom:
		if cmd.RoomID == "" {
			return badRequest("roomId")
		}
		return &core.Command{Kind: core.CommandLeaveRoom, RoomID: cmd.RoomID}, nil
	case proto.SendMessage:
		if cmd.RoomID == "" {
			return badRequest("roomId")
		}
		return &core.Command{Kind: core.CommandSendMessage, RoomID: cmd.RoomID, Body: cmd.Body}, nil
	case proto.EditMessage:
		if cmd.MessageID == "" {
			return badRequest("messageId")
		}
		return &core.Command{Kind: core.CommandEditMessage, MessageID: cmd.MessageID, Body: cmd.Body}, nil
	case proto.DeleteMessage:
		if cmd.MessageID == "" {
			return badRequest("messageId")
		}
		return &core.Command{Kind: core.CommandDeleteMessage, MessageID: cmd.MessageID}, nil
	case proto.TypingStart:
		if cmd.RoomID == "" {
			return badRequest("roomId")
		}
		return &core.Command{Kind: core.CommandTypingStart, RoomID: cmd.RoomID}, nil
	case proto.TypingStop:
		if cmd.RoomID == "" {
			return badRequest("roomId")
		}
		return &core.Command{Kind: core.CommandTypingStop, RoomID: cmd.RoomID}, nil
	case proto.ClaimRoom:
		if cmd.RoomID == "" {
			return badRequest("roomId")
		}
		return &core.Command{Kind: core.CommandClaimRoom, RoomID: cmd.RoomID}, nil
	case proto.QueueSubscribe:
		return &core.Command{Kind: core.CommandQueueSubscribe}, nil
	case proto.QueueUnsubscribe:
		return &core.Command{Kind: core.CommandQueueUnsubscribe}, nil
	case proto.AdminSubscribe:
		return &core.Command{Kind: core.CommandAdminSubscribe}, nil
	default:
		return nil, &proto.Error{Code: proto.CodeInvalidMessage, Msg: "unknown message type"}
	}
}

// eventToProto converts a hub event into its wire form.
func eventToProto(event *core.Event) (proto.Event, error) {
	switch event.Kind {
	case core.EventRoomJoined:
		history := event.Messages
		if history == nil {
			history = []proto.Message{}
		}
		return proto.RoomJoined{Room: event.Room, History: history, Protocol: proto.ProtocolVersion}, nil
	case core.EventMessageNew:
		return proto.MessageReceived{Message: event.Message}, nil
	case core.EventMessageEdited:
		return proto.MessageEdited{Message: event.Message}, nil
	case core.EventMessageDeleted:
		return proto.MessageDeleted{RoomID: event.RoomID, MessageID: event.Message.ID}, nil
	case core.EventTyping:
		return proto.TypingUpdate{RoomID: event.RoomID, UserID: event.UserID, IsTyping: event.Typing}, nil
	case core.EventRoomClaimed:
		return proto.RoomClaimed{
			RoomID:        event.RoomID,
			SupporterID:   event.Room.SupporterID,
			SupporterName: event.Room.SupporterName,
		}, nil
	case core.EventRoomStatus:
		return proto.RoomStatusChanged{RoomID: event.RoomID, Status: event.Room.Status}, nil
	case core.EventClaimRejected:
		return proto.ClaimRejected{RoomID: event.RoomID, Reason: event.Reason}, nil
	case core.EventAccessDenied:
		return proto.AccessDenied{Scope: event.Scope, RoomID: event.RoomID, Reason: event.Reason}, nil
	case core.EventQueueSnapshot:
		entries := event.Entries
		if entries == nil {
			entries = []proto.QueueEntry{}
		}
		return proto.QueueUpdate{Entries: entries}, nil
	case core.EventQueueNewRequest:
		return proto.QueueNewRequest{Entry: event.Entry}, nil
	case core.EventQueueCount:
		return proto.QueueCount{Count: event.Count}, nil
	case core.EventMetrics:
		return proto.MetricsUpdate{Snapshot: event.Metrics}, nil
	case core.EventError:
		if event.Error == nil {
			return proto.ServerError{Err: proto.Error{Code: "unknown", Msg: "unknown error"}}, nil
		}
		return proto.ServerError{Err: proto.Error{Code: event.Error.Code, Msg: event.Error.Message}}, nil
	default:
		return nil, fmt.Errorf("unmapped event kind %d", event.Kind)
	}
}

func outboundFromEvent(event *core.Event) (proto.Outbound, error) {
	ev, err := eventToProto(event)
	if err != nil {
		return proto.Outbound{}, err
	}
	return proto.EncodeEvent(ev)
}
