package store

import (
	"context"
	"errors"
	"time"

	"github.com/vovakirdan/supportline/internal/proto"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects an insert.
	ErrConflict = errors.New("already exists")
)

// User is an account able to obtain a credential.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         proto.Role
	CreatedAt    time.Time
}

// Sender returns the identity stamped on messages written by u.
func (u *User) Sender() proto.Sender {
	return proto.Sender{ID: u.ID, Name: u.Username, Role: u.Role}
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser inserts a user; ErrConflict when the username is taken.
	CreateUser(ctx context.Context, username, passwordHash string, role proto.Role) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RoomStore handles support room persistence.
type RoomStore interface {
	// SaveRoom inserts or replaces a room.
	SaveRoom(ctx context.Context, room proto.Room) error

	// GetRoom retrieves a room by ID.
	GetRoom(ctx context.Context, id string) (*proto.Room, error)

	// ListRooms lists rooms in creation order, optionally filtered by status.
	ListRooms(ctx context.Context, statuses ...proto.RoomStatus) ([]proto.Room, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage inserts or replaces a message. Edits and tombstones are saves.
	SaveMessage(ctx context.Context, msg proto.Message) error

	// ListMessages returns up to limit of the newest messages of a room,
	// oldest first. limit <= 0 means all.
	ListMessages(ctx context.Context, roomID string, limit int) ([]proto.Message, error)

	// CountMessages returns the number of messages ever posted, tombstones included.
	CountMessages(ctx context.Context) (int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
