// Package roomsession keeps one support room's message log in step with the
// server: a history fetch seeds it and room-scoped broadcasts mutate it.
package roomsession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/supportline/internal/client/connection"
	"github.com/vovakirdan/supportline/internal/client/typing"
	"github.com/vovakirdan/supportline/internal/proto"
)

var (
	// ErrHistoryUnavailable wraps a failed history fetch; Open may be retried.
	ErrHistoryUnavailable = errors.New("room history unavailable")
	// ErrNotOpen rejects commands on a session that is not open.
	ErrNotOpen = errors.New("room session is not open")
	// ErrRoomMismatch rejects opening a second room on one session.
	ErrRoomMismatch = errors.New("session is bound to another room")
	// ErrRoomClosed rejects commands after the room reached a terminal status.
	ErrRoomClosed = errors.New("room is resolved or closed")
	// ErrMessageDeleted rejects edits of tombstoned messages.
	ErrMessageDeleted = errors.New("message has been deleted")
	// ErrEmptyBody rejects blank message bodies.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrAccessDenied is recorded when the server refuses the join.
	ErrAccessDenied = errors.New("access denied")
)

// HistoryFetcher is the REST collaborator returning a room's log, oldest first.
type HistoryFetcher interface {
	History(ctx context.Context, roomID string) ([]proto.Message, error)
}

// Options configures a Session.
type Options struct {
	// Self is the local identity; its own typing events are ignored.
	Self        proto.Sender
	TypingDecay time.Duration
	TypingIdle  time.Duration
	Clock       clock.Clock
	Logger      *zerolog.Logger
}

type phase int

const (
	phaseIdle phase = iota
	phaseOpening
	phaseOpen
	phaseTerminal
)

// Session is the controller for one room. The log is only ever mutated by
// broadcasts observed on the channel; local commands are fire-and-forget.
type Session struct {
	ch      connection.Channel
	history HistoryFetcher
	opts    Options
	log     *zerolog.Logger
	updates chan struct{}
	peer    *typing.Indicator

	mu      sync.Mutex
	roomID  string
	room    proto.Room
	status  proto.RoomStatus
	msgs    *MessageLog
	phase   phase
	gen     uint64
	buffer  []proto.Event
	stale   bool
	err     error
	unsub   func()
	unwatch func()
	emitter *typing.Emitter
}

// New builds an idle session.
func New(ch connection.Channel, history HistoryFetcher, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	s := &Session{
		ch:      ch,
		history: history,
		opts:    opts,
		log:     opts.Logger,
		updates: make(chan struct{}, 1),
	}
	s.peer = typing.NewIndicator(opts.TypingDecay, opts.Clock, func(bool) { s.notify() })
	return s
}

// Open seeds the log from history and joins the room scope. The listener is
// attached before the fetch and buffers until the history has been merged, so
// nothing broadcast during the fetch is lost. A session is bound to the first
// room it opens.
func (s *Session) Open(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return fmt.Errorf("%w: empty room id", ErrNotOpen)
	}

	s.mu.Lock()
	if s.roomID != "" && s.roomID != roomID {
		s.mu.Unlock()
		return ErrRoomMismatch
	}
	switch s.phase {
	case phaseOpen, phaseOpening:
		s.mu.Unlock()
		return nil
	case phaseTerminal:
		s.mu.Unlock()
		return ErrRoomClosed
	}
	s.roomID = roomID
	if s.msgs == nil {
		s.msgs = NewMessageLog(roomID)
	}
	if s.emitter == nil {
		s.emitter = typing.NewEmitter(s.ch.Send, roomID, s.opts.TypingIdle, s.opts.Clock, s.log)
	}
	s.gen++
	gen := s.gen
	s.phase = phaseOpening
	s.buffer = nil
	s.err = nil
	s.unsub = s.ch.Subscribe(s.handler(gen))
	s.unwatch = s.ch.Watch(s.watcher(gen))
	s.mu.Unlock()

	history, err := s.history.History(ctx, roomID)
	if err != nil {
		s.detach(gen, phaseIdle)
		return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrNotOpen
	}
	if _, skipped := s.msgs.Merge(history); skipped > 0 {
		s.log.Warn().Str("room_id", roomID).Int("skipped", skipped).Msg("history contained foreign messages")
	}
	pending := s.buffer
	s.buffer = nil
	s.phase = phaseOpen
	next := phaseOpen
	for _, ev := range pending {
		if p := s.applyLocked(ev); p != phaseOpen {
			next = p
			break
		}
	}
	s.mu.Unlock()
	s.notify()

	if next != phaseOpen {
		s.detach(gen, next)
		if next == phaseTerminal {
			return nil
		}
		return s.Err()
	}

	if err := s.ch.Send(ctx, proto.JoinRoom{RoomID: roomID}); err != nil {
		s.detach(gen, phaseIdle)
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	return nil
}

// Close leaves the room and detaches synchronously; late events are inert.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != phaseOpen && s.phase != phaseOpening {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	roomID := s.roomID
	s.mu.Unlock()

	s.detach(gen, phaseIdle)

	err := s.ch.Send(ctx, proto.LeaveRoom{RoomID: roomID})
	if err != nil && !errors.Is(err, connection.ErrOffline) {
		return err
	}
	return nil
}

// Send posts a message. The log changes only when the broadcast comes back.
func (s *Session) Send(ctx context.Context, body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	roomID, emitter, err := s.ready()
	if err != nil {
		return err
	}
	if err := s.ch.Send(ctx, proto.SendMessage{RoomID: roomID, Body: body}); err != nil {
		return err
	}
	// the message is out; the burst ends now rather than at the peer's decay
	if err := emitter.Flush(ctx); err != nil {
		s.log.Debug().Err(err).Str("room_id", roomID).Msg("typing stop after send failed")
	}
	return nil
}

// EditMessage asks the server to replace a message body.
func (s *Session) EditMessage(ctx context.Context, messageID, body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if _, _, err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	m, ok := s.msgs.Get(messageID)
	s.mu.Unlock()
	if !ok {
		return ErrUnknownMessage
	}
	if m.IsDeleted {
		return ErrMessageDeleted
	}
	return s.ch.Send(ctx, proto.EditMessage{MessageID: messageID, Body: body})
}

// DeleteMessage asks the server to tombstone a message. Deleting a tombstone is a no-op.
func (s *Session) DeleteMessage(ctx context.Context, messageID string) error {
	if _, _, err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	m, ok := s.msgs.Get(messageID)
	s.mu.Unlock()
	if !ok {
		return ErrUnknownMessage
	}
	if m.IsDeleted {
		return nil
	}
	return s.ch.Send(ctx, proto.DeleteMessage{MessageID: messageID})
}

// Keystroke reports local input activity for the typing protocol.
func (s *Session) Keystroke(ctx context.Context) error {
	_, emitter, err := s.ready()
	if err != nil {
		return err
	}
	return emitter.Keystroke(ctx)
}

// StopTyping ends the local typing burst immediately.
func (s *Session) StopTyping(ctx context.Context) error {
	_, emitter, err := s.ready()
	if err != nil {
		return err
	}
	return emitter.Flush(ctx)
}

// Messages returns the log in display order.
func (s *Session) Messages() []proto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msgs == nil {
		return nil
	}
	return s.msgs.Messages()
}

// Room returns the last known room metadata.
func (s *Session) Room() proto.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room
	r.Status = s.status
	return r
}

// Status returns the room status as observed from broadcasts.
func (s *Session) Status() proto.RoomStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PeerTyping reports whether another participant is typing.
func (s *Session) PeerTyping() bool {
	return s.peer.Typing()
}

// Stale reports whether the connection dropped since the last join.
func (s *Session) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// Attached reports whether the session is listening to the channel.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == phaseOpen || s.phase == phaseOpening
}

// Err returns the last error recorded from the server, e.g. ErrAccessDenied.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Updates delivers a coalesced signal whenever visible state changes.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

func (s *Session) ready() (string, *typing.Emitter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case phaseOpen:
		return s.roomID, s.emitter, nil
	case phaseTerminal:
		return "", nil, ErrRoomClosed
	default:
		return "", nil, ErrNotOpen
	}
}

func (s *Session) handler(gen uint64) func(proto.Event) {
	return func(ev proto.Event) {
		roomID, scoped := scopeOf(ev)
		if !scoped {
			return
		}

		s.mu.Lock()
		if s.gen != gen || (s.phase != phaseOpen && s.phase != phaseOpening) {
			s.mu.Unlock()
			return
		}
		if roomID != s.roomID {
			s.mu.Unlock()
			return
		}
		if s.phase == phaseOpening {
			s.buffer = append(s.buffer, ev)
			s.mu.Unlock()
			return
		}
		next := s.applyLocked(ev)
		s.mu.Unlock()

		if next != phaseOpen {
			s.detach(gen, next)
		}
		s.notify()
	}
}

func (s *Session) watcher(gen uint64) func(connection.State) {
	return func(state connection.State) {
		s.mu.Lock()
		if s.gen != gen || s.phase != phaseOpen {
			s.mu.Unlock()
			return
		}
		roomID := s.roomID
		switch state {
		case connection.Disconnected:
			s.stale = true
			s.mu.Unlock()
			s.peer.Reset()
			s.emitter.Reset()
			s.notify()
		case connection.Connected:
			rejoin := s.stale
			s.mu.Unlock()
			if !rejoin {
				return
			}
			// The server forgets subscriptions with the connection; room:joined
			// brings the log back and is merged by id.
			if err := s.ch.Send(context.Background(), proto.JoinRoom{RoomID: roomID}); err != nil {
				s.log.Warn().Err(err).Str("room_id", roomID).Msg("rejoin after reconnect failed")
			}
		default:
			s.mu.Unlock()
		}
	}
}

// applyLocked folds one event into the session. A non-open result means the
// session must detach into that phase.
func (s *Session) applyLocked(ev proto.Event) phase {
	switch e := ev.(type) {
	case proto.RoomJoined:
		s.room = e.Room
		s.advance(e.Room.Status)
		if _, skipped := s.msgs.Merge(e.History); skipped > 0 {
			s.log.Warn().Str("room_id", s.roomID).Int("skipped", skipped).Msg("join snapshot contained foreign messages")
		}
		s.stale = false
		return s.afterStatus()

	case proto.MessageReceived, proto.MessageEdited, proto.MessageDeleted:
		if _, err := s.msgs.Apply(ev); err != nil {
			s.log.Warn().Err(err).Str("room_id", s.roomID).Str("event", ev.EventName()).Msg("discarding event")
		}
		return phaseOpen

	case proto.TypingUpdate:
		if e.UserID == s.opts.Self.ID {
			return phaseOpen
		}
		if e.IsTyping {
			s.peer.Start()
		} else {
			s.peer.Stop()
		}
		return phaseOpen

	case proto.RoomClaimed:
		s.advance(proto.StatusActive)
		s.room.SupporterID = e.SupporterID
		s.room.SupporterName = e.SupporterName
		return phaseOpen

	case proto.RoomStatusChanged:
		s.advance(e.Status)
		return s.afterStatus()

	case proto.AccessDenied:
		s.err = fmt.Errorf("%w: %s", ErrAccessDenied, e.Reason)
		return phaseIdle

	default:
		return phaseOpen
	}
}

func (s *Session) afterStatus() phase {
	if s.status.Terminal() {
		return phaseTerminal
	}
	return phaseOpen
}

// advance moves the status forward only; WAITING -> ACTIVE -> RESOLVED|CLOSED.
func (s *Session) advance(next proto.RoomStatus) {
	if next.Rank() > s.status.Rank() {
		s.status = next
	}
}

func (s *Session) detach(gen uint64, next phase) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	if s.phase == phaseTerminal {
		next = phaseTerminal
	}
	s.phase = next
	s.buffer = nil
	unsub, unwatch, emitter := s.unsub, s.unwatch, s.emitter
	s.unsub, s.unwatch = nil, nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if unwatch != nil {
		unwatch()
	}
	s.peer.Reset()
	if emitter != nil {
		emitter.Reset()
	}
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// scopeOf returns the room an event belongs to, if it is room-scoped.
func scopeOf(ev proto.Event) (string, bool) {
	switch e := ev.(type) {
	case proto.RoomJoined:
		return e.Room.ID, true
	case proto.MessageReceived:
		return e.Message.RoomID, true
	case proto.MessageEdited:
		return e.Message.RoomID, true
	case proto.MessageDeleted:
		return e.RoomID, true
	case proto.TypingUpdate:
		return e.RoomID, true
	case proto.RoomClaimed:
		return e.RoomID, true
	case proto.RoomStatusChanged:
		return e.RoomID, true
	case proto.AccessDenied:
		return e.RoomID, e.Scope == proto.ScopeRoom
	default:
		return "", false
	}
}
