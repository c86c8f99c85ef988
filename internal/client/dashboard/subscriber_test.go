package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/supportline/internal/client/clienttest"
	"github.com/vovakirdan/supportline/internal/client/connection"
	"github.com/vovakirdan/supportline/internal/proto"
)

func snapshot(waiting, active int) proto.MetricsSnapshot {
	return proto.MetricsSnapshot{
		Waiting:          waiting,
		Active:           active,
		WaitingByUrgency: map[proto.Urgency]int{proto.UrgencyCrisis: waiting},
		GeneratedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSnapshotReplacedWholesale(t *testing.T) {
	ch := clienttest.NewChannel()
	s := NewSubscriber(ch, nil)
	if err := s.Subscribe(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if ch.Count(proto.TypeAdminSubscribe) != 1 {
		t.Fatalf("expected admin:subscribe, got %v", ch.SentTypes())
	}
	if _, ok := s.Snapshot(); ok {
		t.Fatalf("no snapshot expected before the first push")
	}

	ch.Emit(proto.MetricsUpdate{Snapshot: snapshot(3, 1)})
	ch.Emit(proto.MetricsUpdate{Snapshot: proto.MetricsSnapshot{Active: 2}})

	got, ok := s.Snapshot()
	if !ok || got.Waiting != 0 || got.Active != 2 || got.WaitingByUrgency != nil {
		t.Fatalf("expected wholesale replacement, got %+v", got)
	}

	select {
	case latest := <-s.Updates():
		if latest.Active != 2 {
			t.Fatalf("updates should carry the newest snapshot, got %+v", latest)
		}
	default:
		t.Fatalf("expected an update")
	}
}

func TestSnapshotSurvivesDisconnectAndResubscribes(t *testing.T) {
	ch := clienttest.NewChannel()
	s := NewSubscriber(ch, nil)
	_ = s.Subscribe(context.Background())
	ch.Emit(proto.MetricsUpdate{Snapshot: snapshot(2, 0)})

	ch.SetState(connection.Disconnected)
	got, ok := s.Snapshot()
	if !ok || got.Waiting != 2 || !s.Stale() {
		t.Fatalf("last snapshot should be kept and marked stale, got %+v", got)
	}

	ch.SetState(connection.Connected)
	if ch.Count(proto.TypeAdminSubscribe) != 2 {
		t.Fatalf("expected resubscribe, got %v", ch.SentTypes())
	}
	ch.Emit(proto.MetricsUpdate{Snapshot: snapshot(0, 2)})
	if s.Stale() {
		t.Fatalf("fresh push should clear stale")
	}
}

func TestAdminAccessDenied(t *testing.T) {
	ch := clienttest.NewChannel()
	s := NewSubscriber(ch, nil)
	_ = s.Subscribe(context.Background())

	ch.Emit(proto.AccessDenied{Scope: proto.ScopeQueue, Reason: "other scope"})
	if s.Err() != nil {
		t.Fatalf("foreign scope must be ignored")
	}

	ch.Emit(proto.AccessDenied{Scope: proto.ScopeAdmin, Reason: "admins only"})
	if !errors.Is(s.Err(), ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", s.Err())
	}
	if ch.Handlers() != 0 {
		t.Fatalf("denied subscriber should detach")
	}
}

func TestSubscribeOffline(t *testing.T) {
	ch := clienttest.NewChannel()
	ch.SetState(connection.Disconnected)
	s := NewSubscriber(ch, nil)

	if err := s.Subscribe(context.Background()); !errors.Is(err, connection.ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if ch.Handlers() != 0 {
		t.Fatalf("failed subscribe must detach")
	}
}
