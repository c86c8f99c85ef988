package core

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/supportline/internal/metrics"
	"github.com/vovakirdan/supportline/internal/proto"
	"github.com/vovakirdan/supportline/internal/store"
)

const hubCommandBuffer = 256

// Store is the persistence the hub writes through to.
type Store interface {
	store.RoomStore
	store.MessageStore
}

// Options configures a Hub. The zero value runs in memory with a real clock.
type Options struct {
	Store           Store
	Logger          *zerolog.Logger
	Clock           clock.Clock
	MetricsInterval time.Duration
	// HistoryLimit caps the history carried by room:joined and History. 0 means all.
	HistoryLimit int
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

// Hub owns every room, the waiting queue and all subscriptions. All state is
// touched only by the Run goroutine, so commands are applied in one total order
// and the first claim processed for a waiting room wins.
type Hub struct {
	store           Store
	log             *zerolog.Logger
	clock           clock.Clock
	metricsInterval time.Duration
	historyLimit    int

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	requests   chan func(context.Context)
	done       chan struct{}

	clients       map[*Client]struct{}
	rooms         map[string]*Room
	messages      map[string]*Room
	queueSubs     map[*Client]struct{}
	adminSubs     map[*Client]struct{}
	messagesTotal int64
	dirty         bool
}

// NewHub creates a hub. Nothing is processed until Run is called.
func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		store:           opts.Store,
		log:             logger,
		clock:           clk,
		metricsInterval: opts.MetricsInterval,
		historyLimit:    opts.HistoryLimit,
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		commands:        make(chan clientCommand, hubCommandBuffer),
		requests:        make(chan func(context.Context)),
		done:            make(chan struct{}),
		clients:         make(map[*Client]struct{}),
		rooms:           make(map[string]*Room),
		messages:        make(map[string]*Room),
		queueSubs:       make(map[*Client]struct{}),
		adminSubs:       make(map[*Client]struct{}),
	}
}

// Run processes registrations, commands and requests until ctx is cancelled.
// It restores persisted rooms first.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	h.restore(ctx)

	var tick <-chan time.Time
	if h.metricsInterval > 0 {
		ticker := h.clock.Ticker(h.metricsInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case cc := <-h.commands:
			h.handleCommand(ctx, cc.client, cc.cmd)
		case fn := <-h.requests:
			fn(ctx)
		case <-tick:
			h.publishMetrics()
		}
		if h.dirty {
			h.dirty = false
			h.publishMetrics()
		}
	}
}

// RegisterClient attaches a client and starts forwarding its Commands.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.done)
		close(c.Events)
		return
	}
	go h.pump(c)
}

// UnregisterClient detaches a client from every room and subscription and closes its Events.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) pump(c *Client) {
	for {
		select {
		case cmd, ok := <-c.Commands:
			if !ok {
				return
			}
			if cmd == nil {
				continue
			}
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-h.done:
				return
			}
		case <-c.done:
			return
		case <-h.done:
			return
		}
	}
}

// do runs fn on the hub goroutine and waits for it.
func (h *Hub) do(ctx context.Context, fn func(context.Context)) error {
	finished := make(chan struct{})
	task := func(loopCtx context.Context) {
		defer close(finished)
		fn(loopCtx)
	}
	select {
	case h.requests <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) addClient(c *Client) {
	h.clients[c] = struct{}{}
	metrics.ConnectedClients.Inc()
	h.dirty = true
	h.log.Debug().Str("client_id", c.ID).Str("user_id", c.User.ID).Msg("client registered")
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for roomID := range c.rooms {
		if room, ok := h.rooms[roomID]; ok {
			room.RemoveClient(c)
		}
	}
	delete(h.queueSubs, c)
	delete(h.adminSubs, c)
	delete(h.clients, c)
	close(c.done)
	close(c.Events)
	metrics.ConnectedClients.Dec()
	h.dirty = true
	h.log.Debug().Str("client_id", c.ID).Msg("client unregistered")
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		close(c.done)
		close(c.Events)
		metrics.ConnectedClients.Dec()
	}
	clear(h.clients)
	clear(h.queueSubs)
	clear(h.adminSubs)
}

// restore loads persisted rooms. Messages are loaded for open rooms only;
// terminal rooms load theirs on first access.
func (h *Hub) restore(ctx context.Context) {
	if h.store == nil {
		return
	}
	rooms, err := h.store.ListRooms(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("restore rooms")
		return
	}
	for _, r := range rooms {
		room := NewRoom(r, nil)
		room.loaded = false
		if !r.Status.Terminal() {
			h.loadHistory(ctx, room)
		}
		h.rooms[r.ID] = room
	}
	if n, err := h.store.CountMessages(ctx); err != nil {
		h.log.Warn().Err(err).Msg("count messages")
	} else {
		h.messagesTotal = n
	}
	h.dirty = true
	h.log.Info().Int("rooms", len(rooms)).Int64("messages", h.messagesTotal).Msg("hub state restored")
}

func (h *Hub) loadHistory(ctx context.Context, room *Room) {
	if room.loaded || h.store == nil {
		return
	}
	msgs, err := h.store.ListMessages(ctx, room.ID, 0)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", room.ID).Msg("load room history")
		return
	}
	for _, m := range msgs {
		room.log.append(m)
		h.messages[m.ID] = room
	}
	room.loaded = true
}

func (h *Hub) saveRoom(ctx context.Context, room proto.Room) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveRoom(ctx, room); err != nil {
		h.log.Error().Err(err).Str("room_id", room.ID).Msg("persist room")
	}
}

func (h *Hub) saveMessage(ctx context.Context, msg proto.Message) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Str("room_id", msg.RoomID).Str("message_id", msg.ID).Msg("persist message")
	}
}

func (h *Hub) now() time.Time {
	return h.clock.Now().UTC()
}

// deliver sends to one client, dropping the event if its buffer is full.
func (h *Hub) deliver(c *Client, ev *Event) {
	if c.send(ev) {
		return
	}
	metrics.DroppedEvents.Inc()
	h.log.Warn().Str("client_id", c.ID).Int("kind", int(ev.Kind)).Msg("dropping event for slow consumer")
}

// fanout delivers ev once to every client of the given sets.
func (h *Hub) fanout(ev *Event, groups ...map[*Client]struct{}) {
	seen := make(map[*Client]struct{})
	for _, g := range groups {
		for c := range g {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			h.deliver(c, ev)
		}
	}
}

func (h *Hub) broadcastRoom(room *Room, ev *Event, skip *Client) {
	if dropped := room.Broadcast(ev, skip); dropped > 0 {
		h.log.Warn().Str("room_id", room.ID).Int("dropped", dropped).Msg("dropping event for slow consumers")
	}
}
