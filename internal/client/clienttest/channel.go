// Package clienttest provides an in-memory connection.Channel for controller tests.
package clienttest

import (
	"context"
	"slices"
	"sync"

	"github.com/vovakirdan/supportline/internal/client/connection"
	"github.com/vovakirdan/supportline/internal/proto"
)

// Channel records sent commands and lets tests inject events and state changes.
type Channel struct {
	mu       sync.Mutex
	state    connection.State
	sent     []proto.Command
	nextID   int
	handlers map[int]func(proto.Event)
	watchers map[int]func(connection.State)
	// OnSend, when set, runs after a command is recorded.
	OnSend func(cmd proto.Command)
}

// NewChannel returns a connected channel.
func NewChannel() *Channel {
	return &Channel{
		state:    connection.Connected,
		handlers: make(map[int]func(proto.Event)),
		watchers: make(map[int]func(connection.State)),
	}
}

// Send implements connection.Channel.
func (c *Channel) Send(_ context.Context, cmd proto.Command) error {
	c.mu.Lock()
	if c.state != connection.Connected {
		c.mu.Unlock()
		return connection.ErrOffline
	}
	c.sent = append(c.sent, cmd)
	hook := c.OnSend
	c.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	return nil
}

// Subscribe implements connection.Channel.
func (c *Channel) Subscribe(h func(proto.Event)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[id] = h
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// Watch implements connection.Channel.
func (c *Channel) Watch(w func(connection.State)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.watchers[id] = w
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// State implements connection.Channel.
func (c *Channel) State() connection.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Emit delivers an event to every handler synchronously, in subscription order.
func (c *Channel) Emit(ev proto.Event) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	hs := make([]func(proto.Event), 0, len(ids))
	for _, id := range ids {
		hs = append(hs, c.handlers[id])
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// SetState changes the transport state and notifies watchers.
func (c *Channel) SetState(s connection.State) {
	c.mu.Lock()
	c.state = s
	ids := make([]int, 0, len(c.watchers))
	for id := range c.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ws := make([]func(connection.State), 0, len(ids))
	for _, id := range ids {
		ws = append(ws, c.watchers[id])
	}
	c.mu.Unlock()

	for _, w := range ws {
		w(s)
	}
}

// Sent returns a copy of the commands sent so far.
func (c *Channel) Sent() []proto.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sent)
}

// SentTypes returns the tags of the commands sent so far.
func (c *Channel) SentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, cmd := range c.sent {
		out = append(out, cmd.CommandType())
	}
	return out
}

// Count returns how many commands with the given tag were sent.
func (c *Channel) Count(commandType string) int {
	n := 0
	for _, t := range c.SentTypes() {
		if t == commandType {
			n++
		}
	}
	return n
}

// Handlers returns the number of attached event handlers.
func (c *Channel) Handlers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

var _ connection.Channel = (*Channel)(nil)
