package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/supportline/internal/metrics"
	"github.com/vovakirdan/supportline/internal/proto"
)

// MaxBodyLength bounds message bodies in bytes.
const MaxBodyLength = 4000

func (h *Hub) handleCommand(ctx context.Context, c *Client, cmd *Command) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	var err *CoreError
	switch cmd.Kind {
	case CommandJoinRoom:
		err = h.join(ctx, c, cmd.RoomID)
	case CommandLeaveRoom:
		err = h.leave(c, cmd.RoomID)
	case CommandSendMessage:
		err = h.sendMessage(ctx, c, cmd.RoomID, cmd.Body)
	case CommandEditMessage:
		err = h.editMessage(ctx, c, cmd.MessageID, cmd.Body)
	case CommandDeleteMessage:
		err = h.deleteMessage(ctx, c, cmd.MessageID)
	case CommandTypingStart:
		err = h.typing(c, cmd.RoomID, true)
	case CommandTypingStop:
		err = h.typing(c, cmd.RoomID, false)
	case CommandClaimRoom:
		h.claim(ctx, c, cmd.RoomID)
	case CommandQueueSubscribe:
		h.subscribeQueue(c)
	case CommandQueueUnsubscribe:
		delete(h.queueSubs, c)
	case CommandAdminSubscribe:
		h.subscribeAdmin(c)
	default:
		err = coreError(ErrCodeBadRequest, "unknown command")
	}

	result := "ok"
	if err != nil {
		result = err.Code
		h.deliver(c, &Event{Kind: EventError, RoomID: cmd.RoomID, Error: err})
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Kind.String(), result).Inc()
}

func (h *Hub) join(ctx context.Context, c *Client, roomID string) *CoreError {
	room, ok := h.rooms[roomID]
	if !ok {
		return coreError(ErrCodeRoomNotFound, "room not found")
	}
	if !room.Participant(c.User) {
		h.deliver(c, &Event{
			Kind:   EventAccessDenied,
			Scope:  proto.ScopeRoom,
			RoomID: roomID,
			Reason: "not a participant of this room",
		})
		return nil
	}
	h.loadHistory(ctx, room)

	room.AddClient(c)
	h.deliver(c, &Event{
		Kind:     EventRoomJoined,
		RoomID:   roomID,
		Room:     room.Room,
		Messages: room.log.tail(h.historyLimit),
	})
	return nil
}

func (h *Hub) leave(c *Client, roomID string) *CoreError {
	room, ok := h.rooms[roomID]
	if !ok {
		return coreError(ErrCodeRoomNotFound, "room not found")
	}
	if room.RemoveClient(c) {
		// peers drop the indicator right away instead of waiting for decay
		h.broadcastRoom(room, &Event{Kind: EventTyping, RoomID: roomID, UserID: c.User.ID}, c)
	}
	return nil
}

// memberRoom resolves a room the client has joined and may still write to.
func (h *Hub) memberRoom(c *Client, roomID string) (*Room, *CoreError) {
	room, ok := h.rooms[roomID]
	if !ok {
		return nil, coreError(ErrCodeRoomNotFound, "room not found")
	}
	if !room.Has(c) {
		return nil, coreError(ErrCodeNotInRoom, "join the room first")
	}
	if room.Status.Terminal() {
		return nil, coreError(ErrCodeRoomClosed, "room is "+strings.ToLower(string(room.Status)))
	}
	return room, nil
}

func validBody(body string) *CoreError {
	if strings.TrimSpace(body) == "" {
		return coreError(ErrCodeBadRequest, "message body is required")
	}
	if len(body) > MaxBodyLength {
		return coreError(ErrCodeBadRequest, "message body is too long")
	}
	return nil
}

func (h *Hub) sendMessage(ctx context.Context, c *Client, roomID, body string) *CoreError {
	room, err := h.memberRoom(c, roomID)
	if err != nil {
		return err
	}
	if err := validBody(body); err != nil {
		return err
	}

	msg := proto.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Sender:    c.User,
		Body:      body,
		CreatedAt: h.now(),
	}
	room.log.append(msg)
	h.messages[msg.ID] = room
	h.messagesTotal++
	h.dirty = true
	metrics.MessagesPosted.Inc()
	h.saveMessage(ctx, msg)

	h.broadcastRoom(room, &Event{Kind: EventMessageNew, RoomID: roomID, Message: msg}, nil)
	return nil
}

// ownMessage resolves a live message sent by c in a room c has joined.
func (h *Hub) ownMessage(c *Client, messageID string) (*Room, *proto.Message, *CoreError) {
	room, ok := h.messages[messageID]
	if !ok {
		return nil, nil, coreError(ErrCodeMessageUnknown, "message not found")
	}
	if _, err := h.memberRoom(c, room.ID); err != nil {
		return nil, nil, err
	}
	msg, _ := room.log.get(messageID)
	if msg.Sender.ID != c.User.ID {
		return nil, nil, coreError(ErrCodeNotSender, "only the sender may change a message")
	}
	return room, msg, nil
}

func (h *Hub) editMessage(ctx context.Context, c *Client, messageID, body string) *CoreError {
	room, msg, err := h.ownMessage(c, messageID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return coreError(ErrCodeMessageDeleted, "message was deleted")
	}
	if err := validBody(body); err != nil {
		return err
	}

	// edit timestamps must strictly increase; clients keep the newest edit
	editedAt := h.now()
	if msg.EditedAt != nil && !editedAt.After(*msg.EditedAt) {
		editedAt = msg.EditedAt.Add(time.Millisecond)
	}
	msg.Body = body
	msg.EditedAt = &editedAt
	updated := *msg
	h.saveMessage(ctx, updated)

	h.broadcastRoom(room, &Event{Kind: EventMessageEdited, RoomID: room.ID, Message: updated}, nil)
	return nil
}

func (h *Hub) deleteMessage(ctx context.Context, c *Client, messageID string) *CoreError {
	room, msg, err := h.ownMessage(c, messageID)
	if err != nil {
		return err
	}
	ev := &Event{Kind: EventMessageDeleted, RoomID: room.ID, Message: proto.Message{ID: messageID, RoomID: room.ID}}
	if msg.IsDeleted {
		h.deliver(c, ev)
		return nil
	}

	msg.IsDeleted = true
	msg.Body = proto.DeletedPlaceholder
	h.saveMessage(ctx, *msg)

	h.broadcastRoom(room, ev, nil)
	return nil
}

func (h *Hub) typing(c *Client, roomID string, isTyping bool) *CoreError {
	room, err := h.memberRoom(c, roomID)
	if err != nil {
		return err
	}
	h.broadcastRoom(room, &Event{Kind: EventTyping, RoomID: roomID, UserID: c.User.ID, Typing: isTyping}, c)
	return nil
}

func (h *Hub) rejectClaim(c *Client, roomID, reason string) {
	metrics.Claims.WithLabelValues("rejected").Inc()
	h.deliver(c, &Event{Kind: EventClaimRejected, RoomID: roomID, Reason: reason})
}

// claim assigns a waiting room to the first supporter whose claim is processed.
func (h *Hub) claim(ctx context.Context, c *Client, roomID string) {
	if c.User.Role != proto.RoleSupporter {
		h.rejectClaim(c, roomID, ErrCodeForbidden)
		return
	}
	room, ok := h.rooms[roomID]
	if !ok {
		h.rejectClaim(c, roomID, ErrCodeRoomNotFound)
		return
	}

	switch {
	case room.Status == proto.StatusWaiting:
		now := h.now()
		room.Status = proto.StatusActive
		room.SupporterID = c.User.ID
		room.SupporterName = c.User.Name
		room.ClaimedAt = &now
		h.saveRoom(ctx, room.Room)
		h.dirty = true
		metrics.Claims.WithLabelValues("won").Inc()
		metrics.WaitSeconds.Observe(now.Sub(room.CreatedAt).Seconds())
		h.log.Info().Str("room_id", roomID).Str("supporter_id", c.User.ID).Msg("room claimed")

		room.AddClient(c)
		h.fanout(&Event{Kind: EventRoomClaimed, RoomID: roomID, Room: room.Room}, room.clients, h.queueSubs)
		h.fanout(&Event{Kind: EventQueueCount, Count: h.waitingCount()}, h.queueSubs)
	case room.Status == proto.StatusActive && room.SupporterID == c.User.ID:
		// a retry after a lost reply; confirm again
		h.deliver(c, &Event{Kind: EventRoomClaimed, RoomID: roomID, Room: room.Room})
	case room.Status == proto.StatusActive:
		h.rejectClaim(c, roomID, ErrCodeAlreadyClaimed)
	default:
		h.rejectClaim(c, roomID, ErrCodeNotWaiting)
	}
}

func (h *Hub) subscribeQueue(c *Client) {
	if c.User.Role != proto.RoleSupporter && c.User.Role != proto.RoleAdmin {
		h.deliver(c, &Event{Kind: EventAccessDenied, Scope: proto.ScopeQueue, Reason: "supporters only"})
		return
	}
	h.queueSubs[c] = struct{}{}
	entries := h.queueEntries()
	h.deliver(c, &Event{Kind: EventQueueSnapshot, Entries: entries})
	h.deliver(c, &Event{Kind: EventQueueCount, Count: len(entries)})
}

func (h *Hub) subscribeAdmin(c *Client) {
	if c.User.Role != proto.RoleAdmin {
		h.deliver(c, &Event{Kind: EventAccessDenied, Scope: proto.ScopeAdmin, Reason: "admins only"})
		return
	}
	h.adminSubs[c] = struct{}{}
	h.deliver(c, &Event{Kind: EventMetrics, Metrics: h.snapshot()})
}
