package core

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/supportline/internal/proto"
)

var (
	student   = proto.Sender{ID: "s1", Name: "sam", Role: proto.RoleStudent}
	stranger  = proto.Sender{ID: "s2", Name: "kim", Role: proto.RoleStudent}
	supporter = proto.Sender{ID: "h1", Name: "alice", Role: proto.RoleSupporter}
	rival     = proto.Sender{ID: "h2", Name: "bob", Role: proto.RoleSupporter}
	admin     = proto.Sender{ID: "a1", Name: "root", Role: proto.RoleAdmin}
)

// startHub runs a hub until the test ends. The returned stop func may be called earlier.
func startHub(t *testing.T, opts Options) (*Hub, func()) {
	t.Helper()

	if opts.Clock == nil {
		opts.Clock = clock.NewMock()
	}
	hub := NewHub(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return hub, stop
}

func connect(hub *Hub, user proto.Sender) *Client {
	c := NewClient("conn-"+user.ID, user)
	hub.RegisterClient(c)
	return c
}

func openRoom(t *testing.T, hub *Hub, topic string) proto.Room {
	t.Helper()

	room, err := hub.CreateRoom(context.Background(), student, topic, proto.UrgencyHigh)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

func join(t *testing.T, c *Client, roomID string) *Event {
	t.Helper()

	c.Commands <- &Command{Kind: CommandJoinRoom, RoomID: roomID}
	return mustEvent(t, c.Events, EventRoomJoined)
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// noEvent fails if an event of kind arrives within wait.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func mustCode(t *testing.T, c *Client, code string) {
	t.Helper()

	ev := mustEvent(t, c.Events, EventError)
	if ev.Error == nil || ev.Error.Code != code {
		t.Fatalf("expected %s error, got %+v", code, ev.Error)
	}
}
