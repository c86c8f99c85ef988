package proto

import (
	"strings"
	"time"
)

// RoomStatus is the lifecycle state of a support room.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "WAITING"
	StatusActive   RoomStatus = "ACTIVE"
	StatusResolved RoomStatus = "RESOLVED"
	StatusClosed   RoomStatus = "CLOSED"
)

// Terminal reports whether no further transitions are possible.
func (s RoomStatus) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Rank orders statuses along the only direction they may move.
func (s RoomStatus) Rank() int {
	switch s {
	case StatusWaiting:
		return 1
	case StatusActive:
		return 2
	case StatusResolved, StatusClosed:
		return 3
	default:
		return 0
	}
}

// Urgency is the triage tier of a support request.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
	UrgencyCrisis Urgency = "crisis"
)

// Weight sorts urgencies so that crisis comes first.
func (u Urgency) Weight() int {
	switch u {
	case UrgencyCrisis:
		return 4
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	default:
		return 0
	}
}

// ParseUrgency normalises user input, defaulting to medium.
func ParseUrgency(s string) (Urgency, bool) {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(s))); u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCrisis:
		return u, true
	case "":
		return UrgencyMedium, true
	default:
		return UrgencyMedium, false
	}
}

// Role is what an identity is allowed to do.
type Role string

const (
	RoleStudent   Role = "student"
	RoleSupporter Role = "supporter"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleSupporter || r == RoleAdmin
}

// DeletedPlaceholder replaces the body of tombstoned messages.
const DeletedPlaceholder = "This message has been deleted"

// Sender identifies who wrote a message.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Message is one entry of a room's ordered log.
type Message struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"roomId"`
	Sender    Sender     `json:"sender"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	Read      bool       `json:"read"`
	IsDeleted bool       `json:"isDeleted"`
}

// Before reports whether m sorts before other: created timestamp, then id.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Room is a private support conversation.
type Room struct {
	ID            string     `json:"id"`
	Topic         string     `json:"topic"`
	Urgency       Urgency    `json:"urgency"`
	Status        RoomStatus `json:"status"`
	StudentID     string     `json:"studentId"`
	StudentName   string     `json:"studentName"`
	SupporterID   string     `json:"supporterId,omitempty"`
	SupporterName string     `json:"supporterName,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ClaimedAt     *time.Time `json:"claimedAt,omitempty"`
	ClosedAt      *time.Time `json:"closedAt,omitempty"`
}

// QueueEntry is a waiting room surfaced to supporters.
type QueueEntry struct {
	RoomID      string    `json:"roomId"`
	StudentName string    `json:"studentName"`
	Topic       string    `json:"topic"`
	Urgency     Urgency   `json:"urgency"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// MetricsSnapshot is the admin dashboard view pushed by the server.
type MetricsSnapshot struct {
	Waiting          int             `json:"waiting"`
	Active           int             `json:"active"`
	Resolved         int             `json:"resolved"`
	Closed           int             `json:"closed"`
	WaitingByUrgency map[Urgency]int `json:"waitingByUrgency"`
	ConnectedClients int             `json:"connectedClients"`
	MessagesTotal    int64           `json:"messagesTotal"`
	AvgWaitSeconds   float64         `json:"avgWaitSeconds"`
	GeneratedAt      time.Time       `json:"generatedAt"`
}
