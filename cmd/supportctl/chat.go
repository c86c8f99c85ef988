package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/supportline/internal/client/roomsession"
	"github.com/vovakirdan/supportline/internal/proto"
)

func newOpenCmd(flags *globalFlags) *cobra.Command {
	var urgency string
	cmd := &cobra.Command{
		Use:   "open <topic>",
		Short: "Open a support request and wait in its room",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(flags)
			if err != nil {
				return err
			}
			u, ok := proto.ParseUrgency(urgency)
			if !ok {
				return fmt.Errorf("unknown urgency %q", urgency)
			}
			room, err := e.api.CreateRoom(cmd.Context(), strings.Join(args, " "), u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "request %s queued (%s)\n", room.ID, room.Urgency)
			return interactive(cmd, func(ctx context.Context) error {
				return e.chat(ctx, room.ID, os.Stdin, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&urgency, "urgency", string(proto.UrgencyMedium), "low, medium, high or crisis")
	return cmd
}

func newChatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <room-id>",
		Short: "Join a room you take part in and chat",
		Long: strings.TrimSpace(`
Join a support room and chat line by line.

Lines are sent as messages. Commands:
  /typing             show the peer that you are typing until the next message
  /edit <id> <text>   replace one of your messages (id prefix is enough)
  /delete <id>        delete one of your messages
  /resolve            mark the room resolved (supporters)
  /close              close the room
  /quit               leave
`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(flags)
			if err != nil {
				return err
			}
			return interactive(cmd, func(ctx context.Context) error {
				return e.chat(ctx, args[0], os.Stdin, cmd.OutOrStdout())
			})
		},
	}
}

func (e *env) chat(ctx context.Context, roomID string, in io.Reader, out io.Writer) error {
	mgr, me, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer mgr.Disconnect()

	session := roomsession.New(mgr, e.api, roomsession.Options{
		Self:        me,
		TypingDecay: e.cfg.TypingDecay,
		TypingIdle:  e.cfg.TypingIdle,
		Logger:      e.logger,
	})
	if err := session.Open(ctx, roomID); err != nil {
		return err
	}
	defer session.Close(context.WithoutCancel(ctx))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	view := newTranscript(me.ID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Updates():
			view.render(out, session)
			if err := session.Err(); err != nil {
				return err
			}
			if !session.Attached() && session.Status().Terminal() {
				fmt.Fprintf(out, "room is %s\n", strings.ToLower(string(session.Status())))
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := e.handleLine(ctx, session, roomID, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (e *env) handleLine(ctx context.Context, s *roomsession.Session, roomID, line string) (quit bool, err error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.Send(ctx, line)
	}

	verb, rest, _ := strings.Cut(line, " ")
	switch verb {
	case "/quit":
		return true, nil
	case "/typing":
		return false, s.Keystroke(ctx)
	case "/edit":
		ref, body, _ := strings.Cut(strings.TrimSpace(rest), " ")
		id, err := lookupMessage(s.Messages(), ref)
		if err != nil {
			return false, err
		}
		return false, s.EditMessage(ctx, id, body)
	case "/delete":
		id, err := lookupMessage(s.Messages(), strings.TrimSpace(rest))
		if err != nil {
			return false, err
		}
		return false, s.DeleteMessage(ctx, id)
	case "/resolve":
		_, err := e.api.Resolve(ctx, roomID)
		return false, err
	case "/close":
		_, err := e.api.CloseRoom(ctx, roomID)
		return false, err
	default:
		return false, fmt.Errorf("unknown command %s", verb)
	}
}

var errAmbiguous = errors.New("ambiguous message id")

// lookupMessage resolves a message by id or unique id prefix.
func lookupMessage(msgs []proto.Message, ref string) (string, error) {
	if ref == "" {
		return "", roomsession.ErrUnknownMessage
	}
	found := ""
	for _, m := range msgs {
		if m.ID == ref {
			return m.ID, nil
		}
		if strings.HasPrefix(m.ID, ref) {
			if found != "" {
				return "", fmt.Errorf("%w: %s", errAmbiguous, ref)
			}
			found = m.ID
		}
	}
	if found == "" {
		return "", roomsession.ErrUnknownMessage
	}
	return found, nil
}

// transcript prints each message once and again whenever its rendering changes.
type transcript struct {
	self    string
	printed map[string]string
	status  proto.RoomStatus
	typing  bool
}

func newTranscript(self string) *transcript {
	return &transcript{self: self, printed: make(map[string]string)}
}

type roomView interface {
	Messages() []proto.Message
	Room() proto.Room
	PeerTyping() bool
}

func (t *transcript) render(out io.Writer, s roomView) {
	room := s.Room()
	if room.Status != "" && room.Status != t.status {
		t.status = room.Status
		switch room.Status {
		case proto.StatusActive:
			name := room.SupporterName
			if name == "" {
				name = "a supporter"
			}
			fmt.Fprintf(out, "* %s took the request\n", name)
		default:
			fmt.Fprintf(out, "* room %s: %s\n", room.ID, room.Status)
		}
	}
	for _, m := range s.Messages() {
		line := formatMessage(m, t.self)
		if t.printed[m.ID] == line {
			continue
		}
		t.printed[m.ID] = line
		fmt.Fprintln(out, line)
	}
	if typing := s.PeerTyping(); typing != t.typing {
		t.typing = typing
		if typing {
			fmt.Fprintln(out, "* typing...")
		}
	}
}

func formatMessage(m proto.Message, self string) string {
	short := m.ID
	if len(short) > 8 {
		short = short[:8]
	}
	who := m.Sender.Name
	if m.Sender.ID == self {
		who = "you"
	}
	suffix := ""
	if !m.IsDeleted && m.EditedAt != nil {
		suffix = " (edited)"
	}
	return fmt.Sprintf("[%s %s] %s: %s%s", m.CreatedAt.Local().Format("15:04"), short, who, m.Body, suffix)
}
