package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/supportline/internal/client/dashboard"
	"github.com/vovakirdan/supportline/internal/client/queue"
	"github.com/vovakirdan/supportline/internal/proto"
)

func newQueueCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Watch the waiting queue and claim requests",
		Long: strings.TrimSpace(`
Watch the waiting queue. Type "claim <room-id>" (a prefix is enough) to take a
request; the first claim the server processes wins. Type "quit" to leave.
`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(flags)
			if err != nil {
				return err
			}
			return interactive(cmd, func(ctx context.Context) error {
				return e.watchQueue(ctx, os.Stdin, cmd.OutOrStdout())
			})
		},
	}
}

func (e *env) watchQueue(ctx context.Context, in io.Reader, out io.Writer) error {
	mgr, me, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer mgr.Disconnect()

	resolver := queue.NewResolver(mgr, queue.Options{
		Self:         me,
		ClaimTimeout: e.cfg.ClaimTimeout,
		Logger:       e.logger,
	})
	if err := resolver.Subscribe(ctx); err != nil {
		return err
	}
	defer resolver.Unsubscribe(context.WithoutCancel(ctx))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-resolver.Updates():
			if err := resolver.Err(); err != nil {
				return err
			}
			printQueue(out, resolver.Entries(), resolver.Count(), time.Now())
		case res := <-resolver.Results():
			printClaim(out, res)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
			switch verb {
			case "":
			case "quit":
				return nil
			case "claim":
				roomID := matchEntry(resolver.Entries(), strings.TrimSpace(arg))
				if err := resolver.Claim(ctx, roomID); err != nil {
					fmt.Fprintf(out, "! %v\n", err)
				}
			default:
				fmt.Fprintf(out, "! unknown command %s\n", verb)
			}
		}
	}
}

// matchEntry expands a unique room id prefix; anything else is passed through.
func matchEntry(entries []proto.QueueEntry, ref string) string {
	match := ""
	for _, entry := range entries {
		if strings.HasPrefix(entry.RoomID, ref) {
			if match != "" {
				return ref
			}
			match = entry.RoomID
		}
	}
	if match == "" {
		return ref
	}
	return match
}

func printQueue(out io.Writer, entries []proto.QueueEntry, count int, now time.Time) {
	fmt.Fprintf(out, "--- %d waiting ---\n", count)
	for _, entry := range entries {
		waited := now.Sub(entry.EnqueuedAt).Truncate(time.Second)
		fmt.Fprintf(out, "%s  %-6s %-12s %8s  %s\n", entry.RoomID, entry.Urgency, entry.StudentName, waited, entry.Topic)
	}
}

func printClaim(out io.Writer, res queue.ClaimResult) {
	switch res.Outcome {
	case queue.OutcomeWon:
		fmt.Fprintf(out, "claimed %s; run: supportctl chat %s\n", res.RoomID, res.RoomID)
	case queue.OutcomeLost:
		fmt.Fprintf(out, "%s was taken by another supporter\n", res.RoomID)
	default:
		fmt.Fprintf(out, "claim %s: %s %s\n", res.RoomID, res.Outcome, res.Reason)
	}
}

func newDashboardCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Stream live support metrics (admins)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(flags)
			if err != nil {
				return err
			}
			return interactive(cmd, func(ctx context.Context) error {
				return e.dashboard(ctx, cmd.OutOrStdout())
			})
		},
	}
}

func (e *env) dashboard(ctx context.Context, out io.Writer) error {
	mgr, _, err := e.connect(ctx)
	if err != nil {
		return err
	}
	defer mgr.Disconnect()

	sub := dashboard.NewSubscriber(mgr, e.logger)
	if err := sub.Subscribe(ctx); err != nil {
		return err
	}
	defer sub.Unsubscribe()

	// a refusal arrives without a snapshot
	check := time.NewTicker(time.Second)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-check.C:
			if err := sub.Err(); err != nil {
				return err
			}
		case snap := <-sub.Updates():
			if err := sub.Err(); err != nil {
				return err
			}
			printSnapshot(out, snap)
		}
	}
}

func printSnapshot(out io.Writer, snap proto.MetricsSnapshot) {
	fmt.Fprintf(out, "%s  waiting=%d (crisis=%d high=%d medium=%d low=%d) active=%d resolved=%d closed=%d clients=%d messages=%d avg_wait=%.0fs\n",
		snap.GeneratedAt.Local().Format(time.TimeOnly),
		snap.Waiting,
		snap.WaitingByUrgency[proto.UrgencyCrisis],
		snap.WaitingByUrgency[proto.UrgencyHigh],
		snap.WaitingByUrgency[proto.UrgencyMedium],
		snap.WaitingByUrgency[proto.UrgencyLow],
		snap.Active, snap.Resolved, snap.Closed,
		snap.ConnectedClients, snap.MessagesTotal, snap.AvgWaitSeconds,
	)
}
