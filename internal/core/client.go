package core

import "github.com/vovakirdan/supportline/internal/proto"

const (
	clientCommandBuffer = 16
	clientEventBuffer   = 64
)

// Client is one live connection as seen by the core layer.
type Client struct {
	ID       string
	User     proto.Sender
	Commands chan *Command
	Events   chan *Event

	// owned by the hub loop
	rooms map[string]struct{}
	done  chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, user proto.Sender) *Client {
	if user.Name == "" {
		user.Name = user.ID
	}
	return &Client{
		ID:       id,
		User:     user,
		Commands: make(chan *Command, clientCommandBuffer),
		Events:   make(chan *Event, clientEventBuffer),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Done is closed once the hub has dropped the client. Events is closed at the same time.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) send(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}
