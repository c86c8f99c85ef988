package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vovakirdan/supportline/internal/client/api"
	"github.com/vovakirdan/supportline/internal/proto"
)

// ws_smoke drives one support request through a running server over the raw
// websocket protocol: a student opens a request, a supporter claims it and
// both exchange a message.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	suffix := uuid.NewString()[:8]
	student, err := account(ctx, *server, "smoke-s-"+suffix, proto.RoleStudent)
	if err != nil {
		return err
	}
	supporter, err := account(ctx, *server, "smoke-h-"+suffix, proto.RoleSupporter)
	if err != nil {
		return err
	}

	room, err := student.CreateRoom(ctx, "smoke test request", proto.UrgencyHigh)
	if err != nil {
		return err
	}
	fmt.Printf("Created room %s (%s)\n", room.ID, room.Status)

	wsURL := strings.Replace(strings.TrimRight(*server, "/"), "http", "ws", 1) + "/ws"
	sconn, err := dial(ctx, wsURL, student.Token())
	if err != nil {
		return err
	}
	defer sconn.Close(websocket.StatusNormalClosure, "bye")
	hconn, err := dial(ctx, wsURL, supporter.Token())
	if err != nil {
		return err
	}
	defer hconn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, sconn, proto.JoinRoom{RoomID: room.ID}); err != nil {
		return err
	}
	if _, err := await[proto.RoomJoined](ctx, sconn); err != nil {
		return err
	}

	if err := send(ctx, hconn, proto.ClaimRoom{RoomID: room.ID}); err != nil {
		return err
	}
	claimed, err := await[proto.RoomClaimed](ctx, sconn)
	if err != nil {
		return err
	}
	fmt.Printf("Room claimed by %s\n", claimed.SupporterName)

	if err := send(ctx, sconn, proto.SendMessage{RoomID: room.ID, Body: *text}); err != nil {
		return err
	}
	got, err := await[proto.MessageReceived](ctx, hconn)
	if err != nil {
		return err
	}
	fmt.Printf("Supporter received: room=%s from=%s body=%q\n", got.Message.RoomID, got.Message.Sender.Name, got.Message.Body)

	resolved, err := supporter.Resolve(ctx, room.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Room %s\n", resolved.Status)
	return nil
}

func account(ctx context.Context, server, username string, role proto.Role) (*api.Client, error) {
	c, err := api.New(server, &http.Client{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	if _, err := c.Register(ctx, username, "smoke-password", role); err != nil {
		return nil, fmt.Errorf("register %s: %w", username, err)
	}
	return c, nil
}

func dial(ctx context.Context, url, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

func send(ctx context.Context, conn *websocket.Conn, cmd proto.Command) error {
	in, err := proto.EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	if err := wsjson.Write(ctx, conn, in); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// await prints every envelope until one of type T arrives.
func await[T proto.Event](ctx context.Context, conn *websocket.Conn) (T, error) {
	var zero T
	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return zero, fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received outbound: type=%s", outbound.Type)
		if outbound.Event != "" {
			fmt.Printf(" event=%s", outbound.Event)
		}
		fmt.Println()

		ev, err := proto.DecodeEvent(outbound)
		if err != nil {
			return zero, fmt.Errorf("decode: %w", err)
		}
		if se, ok := ev.(proto.ServerError); ok {
			return zero, fmt.Errorf("server error: %s: %s", se.Err.Code, se.Err.Msg)
		}
		if v, ok := ev.(T); ok {
			return v, nil
		}
	}
}
