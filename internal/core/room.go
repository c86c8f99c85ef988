package core

import (
	"github.com/vovakirdan/supportline/internal/metrics"
	"github.com/vovakirdan/supportline/internal/proto"
)

// Room is a support room plus the clients currently joined to it.
type Room struct {
	proto.Room

	clients map[*Client]struct{}
	log     messageLog
	// loaded is false for rooms restored without their messages.
	loaded bool
}

// NewRoom constructs a room with no clients and the given history.
func NewRoom(room proto.Room, history []proto.Message) *Room {
	r := &Room{
		Room:    room,
		clients: make(map[*Client]struct{}),
		loaded:  true,
	}
	for _, m := range history {
		r.log.append(m)
	}
	return r
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	c.rooms[r.ID] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	delete(c.rooms, r.ID)
	return true
}

// Has reports whether c is joined.
func (r *Room) Has(c *Client) bool {
	_, ok := r.clients[c]
	return ok
}

// Broadcast sends an event to all clients in the room except skip, which may be nil.
// Returns the number of events dropped for slow consumers.
func (r *Room) Broadcast(event *Event, skip *Client) int {
	dropped := 0
	for client := range r.clients {
		if client == skip {
			continue
		}
		if !client.send(event) {
			dropped++
		}
	}
	if dropped > 0 {
		metrics.DroppedEvents.Add(float64(dropped))
	}
	return dropped
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

// Participant reports whether the identity may read and write in the room.
// Admins may observe every room.
func (r *Room) Participant(who proto.Sender) bool {
	switch {
	case who.Role == proto.RoleAdmin:
		return true
	case who.ID == r.StudentID:
		return true
	case r.SupporterID != "" && who.ID == r.SupporterID:
		return true
	default:
		return false
	}
}

// Entry renders a waiting room as a queue entry.
func (r *Room) Entry() proto.QueueEntry {
	return proto.QueueEntry{
		RoomID:      r.ID,
		StudentName: r.StudentName,
		Topic:       r.Topic,
		Urgency:     r.Urgency,
		EnqueuedAt:  r.CreatedAt,
	}
}
