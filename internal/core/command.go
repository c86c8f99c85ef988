package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the client to a room it participates in.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom unsubscribes the client from a room.
	CommandLeaveRoom
	// CommandSendMessage posts a message to a joined room.
	CommandSendMessage
	// CommandEditMessage replaces the body of the client's own message.
	CommandEditMessage
	// CommandDeleteMessage tombstones the client's own message.
	CommandDeleteMessage
	CommandTypingStart
	CommandTypingStop
	// CommandClaimRoom asks to become the supporter of a waiting room.
	CommandClaimRoom
	CommandQueueSubscribe
	CommandQueueUnsubscribe
	CommandAdminSubscribe
)

var commandNames = [...]string{
	CommandJoinRoom:         "room:join",
	CommandLeaveRoom:        "room:leave",
	CommandSendMessage:      "message:send",
	CommandEditMessage:      "message:edit",
	CommandDeleteMessage:    "message:delete",
	CommandTypingStart:      "typing:start",
	CommandTypingStop:       "typing:stop",
	CommandClaimRoom:        "room:claim",
	CommandQueueSubscribe:   "queue:subscribe",
	CommandQueueUnsubscribe: "queue:unsubscribe",
	CommandAdminSubscribe:   "admin:subscribe",
}

func (k CommandKind) String() string {
	if k >= 0 && int(k) < len(commandNames) {
		return commandNames[k]
	}
	return "unknown"
}

// Command represents an action requested by a client.
type Command struct {
	Kind      CommandKind
	RoomID    string
	MessageID string
	Body      string
}
