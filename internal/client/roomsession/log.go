package roomsession

import (
	"errors"
	"slices"
	"sort"

	"github.com/vovakirdan/supportline/internal/proto"
)

var (
	// ErrForeignRoom marks an event scoped to a different room.
	ErrForeignRoom = errors.New("event for another room")
	// ErrUnknownMessage marks a mutation for a message the log never saw.
	ErrUnknownMessage = errors.New("unknown message")
)

// MessageLog is one room's ordered message set. Every mutation is keyed by
// message id and monotonic, so applying an event twice equals applying it once:
// bodies only move to newer edits and tombstones are never lifted.
type MessageLog struct {
	roomID string
	byID   map[string]*proto.Message
	order  []*proto.Message
}

// NewMessageLog returns an empty log for roomID.
func NewMessageLog(roomID string) *MessageLog {
	return &MessageLog{
		roomID: roomID,
		byID:   make(map[string]*proto.Message),
	}
}

// Merge folds a history page into the log. Messages for other rooms are skipped.
func (l *MessageLog) Merge(history []proto.Message) (changed bool, skipped int) {
	for _, m := range history {
		if m.RoomID != "" && m.RoomID != l.roomID {
			skipped++
			continue
		}
		if l.upsert(m) {
			changed = true
		}
	}
	return changed, skipped
}

// Apply folds one broadcast into the log. Non-message events are ignored.
func (l *MessageLog) Apply(ev proto.Event) (bool, error) {
	switch e := ev.(type) {
	case proto.MessageReceived:
		if e.Message.RoomID != l.roomID {
			return false, ErrForeignRoom
		}
		return l.upsert(e.Message), nil
	case proto.MessageEdited:
		if e.Message.RoomID != l.roomID {
			return false, ErrForeignRoom
		}
		return l.upsert(e.Message), nil
	case proto.MessageDeleted:
		if e.RoomID != l.roomID {
			return false, ErrForeignRoom
		}
		m, ok := l.byID[e.MessageID]
		if !ok {
			return false, ErrUnknownMessage
		}
		return tombstone(m), nil
	default:
		return false, nil
	}
}

// Get returns a copy of the message with id.
func (l *MessageLog) Get(id string) (proto.Message, bool) {
	m, ok := l.byID[id]
	if !ok {
		return proto.Message{}, false
	}
	return copyMessage(m), true
}

// Len returns the number of messages, tombstones included.
func (l *MessageLog) Len() int {
	return len(l.order)
}

// Messages returns the log in display order.
func (l *MessageLog) Messages() []proto.Message {
	out := make([]proto.Message, 0, len(l.order))
	for _, m := range l.order {
		out = append(out, copyMessage(m))
	}
	return out
}

func (l *MessageLog) upsert(in proto.Message) bool {
	if in.ID == "" {
		return false
	}
	in.RoomID = l.roomID

	existing, ok := l.byID[in.ID]
	if !ok {
		m := copyMessage(&in)
		if m.IsDeleted {
			m.Body = proto.DeletedPlaceholder
		}
		idx := sort.Search(len(l.order), func(i int) bool {
			return !l.order[i].Before(m)
		})
		l.order = slices.Insert(l.order, idx, &m)
		l.byID[m.ID] = &m
		return true
	}

	return reconcile(existing, in)
}

// reconcile moves existing forward to in. Creation time and sender never change,
// so the message keeps its position.
func reconcile(existing *proto.Message, in proto.Message) bool {
	if existing.IsDeleted {
		return false
	}
	if in.IsDeleted {
		if in.EditedAt != nil {
			t := *in.EditedAt
			existing.EditedAt = &t
		}
		return tombstone(existing)
	}

	changed := false
	if in.EditedAt != nil && (existing.EditedAt == nil || in.EditedAt.After(*existing.EditedAt)) {
		t := *in.EditedAt
		existing.EditedAt = &t
		existing.Body = in.Body
		changed = true
	}
	if in.Read && !existing.Read {
		existing.Read = true
		changed = true
	}
	return changed
}

func tombstone(m *proto.Message) bool {
	if m.IsDeleted {
		return false
	}
	m.IsDeleted = true
	m.Body = proto.DeletedPlaceholder
	return true
}

func copyMessage(m *proto.Message) proto.Message {
	out := *m
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	return out
}
