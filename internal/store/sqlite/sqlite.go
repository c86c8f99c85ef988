package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/supportline/internal/proto"
	"github.com/vovakirdan/supportline/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Migrate applies the schema. It is idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Tests pass ":memory:" with Migrate.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser inserts a user with a generated ID.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string, role proto.Role) (*store.User, error) {
	user := store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	query := `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.PasswordHash, string(user.Role), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user %q: %w", username, store.ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var (
		user store.User
		role string
	)
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.Role = proto.Role(role)
	return &user, nil
}

// ==== RoomStore implementation ====

// SaveRoom inserts or replaces a room.
func (s *SQLiteStore) SaveRoom(ctx context.Context, room proto.Room) error {
	query := `
		INSERT INTO rooms (id, topic, urgency, status, student_id, student_name,
			supporter_id, supporter_name, created_at, claimed_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			topic = excluded.topic,
			urgency = excluded.urgency,
			status = excluded.status,
			supporter_id = excluded.supporter_id,
			supporter_name = excluded.supporter_name,
			claimed_at = excluded.claimed_at,
			closed_at = excluded.closed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		room.ID,
		room.Topic,
		string(room.Urgency),
		string(room.Status),
		room.StudentID,
		room.StudentName,
		nullString(room.SupporterID),
		nullString(room.SupporterName),
		room.CreatedAt,
		nullTime(room.ClaimedAt),
		nullTime(room.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}
	return nil
}

const roomColumns = `id, topic, urgency, status, student_id, student_name,
	COALESCE(supporter_id, ''), COALESCE(supporter_name, ''), created_at, claimed_at, closed_at`

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*proto.Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	return &room, nil
}

// ListRooms lists rooms in creation order, optionally filtered by status.
func (s *SQLiteStore) ListRooms(ctx context.Context, statuses ...proto.RoomStatus) ([]proto.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, 0, len(statuses))
		for _, st := range statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []proto.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(sc scanner) (proto.Room, error) {
	var (
		room                proto.Room
		urgency, status     string
		claimedAt, closedAt sql.NullTime
	)
	err := sc.Scan(
		&room.ID,
		&room.Topic,
		&urgency,
		&status,
		&room.StudentID,
		&room.StudentName,
		&room.SupporterID,
		&room.SupporterName,
		&room.CreatedAt,
		&claimedAt,
		&closedAt,
	)
	if err != nil {
		return proto.Room{}, err
	}
	room.Urgency = proto.Urgency(urgency)
	room.Status = proto.RoomStatus(status)
	room.ClaimedAt = timePtr(claimedAt)
	room.ClosedAt = timePtr(closedAt)
	return room, nil
}

// ==== MessageStore implementation ====

// SaveMessage inserts or replaces a message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg proto.Message) error {
	query := `
		INSERT INTO messages (id, room_id, sender_id, sender_name, sender_role, body,
			created_at, edited_at, is_read, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			edited_at = excluded.edited_at,
			is_read = excluded.is_read,
			is_deleted = excluded.is_deleted
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.RoomID,
		msg.Sender.ID,
		msg.Sender.Name,
		string(msg.Sender.Role),
		msg.Body,
		msg.CreatedAt,
		nullTime(msg.EditedAt),
		msg.Read,
		msg.IsDeleted,
	)
	if err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return nil
}

// ListMessages returns the newest limit messages of a room, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int) ([]proto.Message, error) {
	query := `
		SELECT id, room_id, sender_id, sender_name, sender_role, body,
			created_at, edited_at, is_read, is_deleted
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []any{roomID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []proto.Message
	for rows.Next() {
		var (
			msg      proto.Message
			role     string
			editedAt sql.NullTime
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.Sender.ID,
			&msg.Sender.Name,
			&role,
			&msg.Body,
			&msg.CreatedAt,
			&editedAt,
			&msg.Read,
			&msg.IsDeleted,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Sender.Role = proto.Role(role)
		msg.EditedAt = timePtr(editedAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}
	return messages, nil
}

// CountMessages counts every stored message.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
