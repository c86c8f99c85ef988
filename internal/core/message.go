package core

import "github.com/vovakirdan/supportline/internal/proto"

// messageLog is the server's copy of a room's messages in commit order.
type messageLog struct {
	messages []proto.Message
	index    map[string]int
}

func (l *messageLog) append(m proto.Message) {
	if l.index == nil {
		l.index = make(map[string]int)
	}
	if i, ok := l.index[m.ID]; ok {
		l.messages[i] = m
		return
	}
	l.index[m.ID] = len(l.messages)
	l.messages = append(l.messages, m)
}

// get returns a pointer into the log; it is only valid until the next append.
func (l *messageLog) get(id string) (*proto.Message, bool) {
	i, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return &l.messages[i], true
}

// tail copies the newest limit messages, oldest first. limit <= 0 means all.
func (l *messageLog) tail(limit int) []proto.Message {
	src := l.messages
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]proto.Message, len(src))
	copy(out, src)
	return out
}

func (l *messageLog) len() int {
	return len(l.messages)
}
