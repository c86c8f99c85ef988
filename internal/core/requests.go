package core

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/vovakirdan/supportline/internal/metrics"
	"github.com/vovakirdan/supportline/internal/proto"
)

// MaxTopicLength bounds the topic of a support request.
const MaxTopicLength = 200

// CreateRoom opens a support request for a student and puts it in the queue.
func (h *Hub) CreateRoom(ctx context.Context, student proto.Sender, topic string, urgency proto.Urgency) (proto.Room, error) {
	if student.Role != proto.RoleStudent {
		return proto.Room{}, coreError(ErrCodeForbidden, "only students open support requests")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" || len(topic) > MaxTopicLength {
		return proto.Room{}, coreError(ErrCodeBadRequest, "topic is required and must be at most 200 bytes")
	}
	u, ok := proto.ParseUrgency(string(urgency))
	if !ok {
		return proto.Room{}, coreError(ErrCodeBadRequest, "unknown urgency")
	}

	var created proto.Room
	err := h.do(ctx, func(ctx context.Context) {
		room := NewRoom(proto.Room{
			ID:          uuid.NewString(),
			Topic:       topic,
			Urgency:     u,
			Status:      proto.StatusWaiting,
			StudentID:   student.ID,
			StudentName: student.Name,
			CreatedAt:   h.now(),
		}, nil)
		h.rooms[room.ID] = room
		h.saveRoom(ctx, room.Room)
		h.dirty = true
		h.log.Info().Str("room_id", room.ID).Str("urgency", string(u)).Msg("support request queued")

		h.fanout(&Event{Kind: EventQueueNewRequest, RoomID: room.ID, Entry: room.Entry()}, h.queueSubs)
		h.fanout(&Event{Kind: EventQueueCount, Count: h.waitingCount()}, h.queueSubs)
		created = room.Room
	})
	if err != nil {
		return proto.Room{}, err
	}
	return created, nil
}

// Transition moves a room to RESOLVED or CLOSED. Supporters resolve their own
// rooms, students may close theirs, admins may do both.
func (h *Hub) Transition(ctx context.Context, who proto.Sender, roomID string, status proto.RoomStatus) (proto.Room, error) {
	if !status.Terminal() {
		return proto.Room{}, coreError(ErrCodeBadRequest, "status must be RESOLVED or CLOSED")
	}

	var (
		result proto.Room
		cerr   *CoreError
	)
	err := h.do(ctx, func(ctx context.Context) {
		room, ok := h.rooms[roomID]
		if !ok {
			cerr = coreError(ErrCodeRoomNotFound, "room not found")
			return
		}
		if cerr = mayTransition(room, who, status); cerr != nil {
			return
		}

		wasWaiting := room.Status == proto.StatusWaiting
		now := h.now()
		room.Status = status
		room.ClosedAt = &now
		h.saveRoom(ctx, room.Room)
		h.dirty = true
		h.log.Info().Str("room_id", roomID).Str("status", string(status)).Str("by", who.ID).Msg("room finished")

		h.fanout(&Event{Kind: EventRoomStatus, RoomID: roomID, Room: room.Room}, room.clients, h.queueSubs)
		if wasWaiting {
			h.fanout(&Event{Kind: EventQueueCount, Count: h.waitingCount()}, h.queueSubs)
		}
		result = room.Room
	})
	if err != nil {
		return proto.Room{}, err
	}
	if cerr != nil {
		return proto.Room{}, cerr
	}
	return result, nil
}

func mayTransition(room *Room, who proto.Sender, status proto.RoomStatus) *CoreError {
	if room.Status.Terminal() {
		return coreError(ErrCodeRoomClosed, "room is already "+strings.ToLower(string(room.Status)))
	}
	allowed := false
	switch {
	case who.Role == proto.RoleAdmin:
		allowed = true
	case room.SupporterID != "" && who.ID == room.SupporterID:
		allowed = true
	case who.ID == room.StudentID:
		allowed = status == proto.StatusClosed
	}
	if !allowed {
		return coreError(ErrCodeForbidden, "not allowed to change this room")
	}
	if status == proto.StatusResolved && room.Status != proto.StatusActive {
		return coreError(ErrCodeNotWaiting, "only active rooms can be resolved")
	}
	return nil
}

// History returns the newest messages of a room for one of its participants.
func (h *Hub) History(ctx context.Context, who proto.Sender, roomID string) ([]proto.Message, error) {
	var (
		history []proto.Message
		cerr    *CoreError
	)
	err := h.do(ctx, func(ctx context.Context) {
		room, ok := h.rooms[roomID]
		if !ok {
			cerr = coreError(ErrCodeRoomNotFound, "room not found")
			return
		}
		if !room.Participant(who) {
			cerr = coreError(ErrCodeForbidden, "not a participant of this room")
			return
		}
		h.loadHistory(ctx, room)
		if !room.loaded {
			cerr = coreError(ErrCodeInternal, "history unavailable")
			return
		}
		history = room.log.tail(h.historyLimit)
	})
	if err != nil {
		return nil, err
	}
	if cerr != nil {
		return nil, cerr
	}
	return history, nil
}

// Rooms lists the rooms visible to who: a student's own rooms, a supporter's
// assigned rooms, or every room for admins. Newest first.
func (h *Hub) Rooms(ctx context.Context, who proto.Sender) ([]proto.Room, error) {
	var rooms []proto.Room
	err := h.do(ctx, func(context.Context) {
		rooms = make([]proto.Room, 0)
		for _, room := range h.rooms {
			if room.Participant(who) {
				rooms = append(rooms, room.Room)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(rooms, func(a, b proto.Room) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return rooms, nil
}

// QueueSnapshot returns the waiting queue, most urgent first.
func (h *Hub) QueueSnapshot(ctx context.Context, who proto.Sender) ([]proto.QueueEntry, error) {
	if who.Role != proto.RoleSupporter && who.Role != proto.RoleAdmin {
		return nil, coreError(ErrCodeForbidden, "supporters only")
	}
	var entries []proto.QueueEntry
	if err := h.do(ctx, func(context.Context) { entries = h.queueEntries() }); err != nil {
		return nil, err
	}
	return entries, nil
}

// Metrics returns the current dashboard snapshot.
func (h *Hub) Metrics(ctx context.Context, who proto.Sender) (proto.MetricsSnapshot, error) {
	if who.Role != proto.RoleAdmin {
		return proto.MetricsSnapshot{}, coreError(ErrCodeForbidden, "admins only")
	}
	var snap proto.MetricsSnapshot
	if err := h.do(ctx, func(context.Context) { snap = h.snapshot() }); err != nil {
		return proto.MetricsSnapshot{}, err
	}
	return snap, nil
}

func (h *Hub) queueEntries() []proto.QueueEntry {
	entries := make([]proto.QueueEntry, 0)
	for _, room := range h.rooms {
		if room.Status == proto.StatusWaiting {
			entries = append(entries, room.Entry())
		}
	}
	slices.SortFunc(entries, func(a, b proto.QueueEntry) int {
		if wa, wb := a.Urgency.Weight(), b.Urgency.Weight(); wa != wb {
			return wb - wa
		}
		if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
			return c
		}
		return strings.Compare(a.RoomID, b.RoomID)
	})
	return entries
}

func (h *Hub) waitingCount() int {
	n := 0
	for _, room := range h.rooms {
		if room.Status == proto.StatusWaiting {
			n++
		}
	}
	return n
}

func (h *Hub) snapshot() proto.MetricsSnapshot {
	snap := proto.MetricsSnapshot{
		WaitingByUrgency: map[proto.Urgency]int{
			proto.UrgencyLow:    0,
			proto.UrgencyMedium: 0,
			proto.UrgencyHigh:   0,
			proto.UrgencyCrisis: 0,
		},
		ConnectedClients: len(h.clients),
		MessagesTotal:    h.messagesTotal,
		GeneratedAt:      h.now(),
	}
	var (
		waitSum float64
		claimed int
	)
	for _, room := range h.rooms {
		switch room.Status {
		case proto.StatusWaiting:
			snap.Waiting++
			snap.WaitingByUrgency[room.Urgency]++
		case proto.StatusActive:
			snap.Active++
		case proto.StatusResolved:
			snap.Resolved++
		case proto.StatusClosed:
			snap.Closed++
		}
		if room.ClaimedAt != nil {
			waitSum += room.ClaimedAt.Sub(room.CreatedAt).Seconds()
			claimed++
		}
	}
	if claimed > 0 {
		snap.AvgWaitSeconds = waitSum / float64(claimed)
	}
	return snap
}

// publishMetrics refreshes the prometheus gauges and pushes a snapshot to admins.
func (h *Hub) publishMetrics() {
	snap := h.snapshot()
	metrics.RoomsByStatus.WithLabelValues(string(proto.StatusWaiting)).Set(float64(snap.Waiting))
	metrics.RoomsByStatus.WithLabelValues(string(proto.StatusActive)).Set(float64(snap.Active))
	metrics.RoomsByStatus.WithLabelValues(string(proto.StatusResolved)).Set(float64(snap.Resolved))
	metrics.RoomsByStatus.WithLabelValues(string(proto.StatusClosed)).Set(float64(snap.Closed))

	if len(h.adminSubs) == 0 {
		return
	}
	h.fanout(&Event{Kind: EventMetrics, Metrics: snap}, h.adminSubs)
}
