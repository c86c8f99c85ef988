package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/supportline/internal/client/clienttest"
	"github.com/vovakirdan/supportline/internal/client/connection"
	"github.com/vovakirdan/supportline/internal/proto"
)

var (
	alex = proto.Sender{ID: "s-alex", Name: "Alex", Role: proto.RoleSupporter}
	bea  = proto.Sender{ID: "s-bea", Name: "Bea", Role: proto.RoleSupporter}
	t0   = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func entry(id string, u proto.Urgency, offset time.Duration) proto.QueueEntry {
	return proto.QueueEntry{RoomID: id, StudentName: "Sam", Topic: "exams", Urgency: u, EnqueuedAt: t0.Add(offset)}
}

func newResolver(t *testing.T, ch *clienttest.Channel, self proto.Sender) (*Resolver, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	r := NewResolver(ch, Options{Self: self, Clock: mock})
	if err := r.Subscribe(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return r, mock
}

func mustResult(t *testing.T, r *Resolver) ClaimResult {
	t.Helper()
	select {
	case res := <-r.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for claim result")
	}
	return ClaimResult{}
}

func assertNoResult(t *testing.T, r *Resolver) {
	t.Helper()
	select {
	case res := <-r.Results():
		t.Fatalf("unexpected claim result %+v", res)
	default:
	}
}

func roomIDs(es []proto.QueueEntry) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.RoomID)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestSubscribeSendsCommandAndAppliesSnapshot(t *testing.T) {
	ch := clienttest.NewChannel()
	r, _ := newResolver(t, ch, alex)

	if ch.Count(proto.TypeQueueSubscribe) != 1 {
		t.Fatalf("expected queue:subscribe, got %v", ch.SentTypes())
	}

	ch.Emit(proto.QueueUpdate{Entries: []proto.QueueEntry{
		entry("low", proto.UrgencyLow, 0),
		entry("crisis", proto.UrgencyCrisis, 5*time.Minute),
		entry("high-late", proto.UrgencyHigh, 3*time.Minute),
		entry("high-early", proto.UrgencyHigh, time.Minute),
	}})

	got := roomIDs(r.Entries())
	want := []string{"crisis", "high-early", "high-late", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", got, want)
		}
	}
	if r.Count() != 4 {
		t.Fatalf("expected count 4, got %d", r.Count())
	}
}

func TestNewRequestAppendsOnce(t *testing.T) {
	ch := clienttest.NewChannel()
	r, _ := newResolver(t, ch, alex)
	ch.Emit(proto.QueueUpdate{})

	e := entry("r1", proto.UrgencyMedium, 0)
	ch.Emit(proto.QueueNewRequest{Entry: e})
	ch.Emit(proto.QueueNewRequest{Entry: e})

	if len(r.Entries()) != 1 || r.Count() != 1 {
		t.Fatalf("expected one entry, got %v count=%d", roomIDs(r.Entries()), r.Count())
	}

	ch.Emit(proto.QueueCount{Count: 7})
	if r.Count() != 7 {
		t.Fatalf("queue:count should set the count, got %d", r.Count())
	}
}

func TestClaimWon(t *testing.T) {
	ch := clienttest.NewChannel()
	r, _ := newResolver(t, ch, alex)
	ch.Emit(proto.QueueUpdate{Entries: []proto.QueueEntry{entry("r1", proto.UrgencyHigh, 0)}})

	if err := r.Claim(context.Background(), "r1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(r.Entries()) != 0 {
		t.Fatalf("claimed entry should be hidden optimistically")
	}
	if err := r.Claim(context.Background(), "r1"); !errors.Is(err, ErrClaimInFlight) {
		t.Fatalf("expected ErrClaimInFlight, got %v", err)
	}

	ch.Emit(proto.RoomClaimed{RoomID: "r1", SupporterID: alex.ID, SupporterName: alex.Name})

	res := mustResult(t, r)
	if res.Outcome != OutcomeWon || res.RoomID != "r1" {
		t.Fatalf("expected won, got %+v", res)
	}
	if owned := r.Owned(); len(owned) != 1 || owned[0] != "r1" {
		t.Fatalf("expected r1 owned, got %v", owned)
	}
	if len(r.Pending()) != 0 {
		t.Fatalf("attempt should be resolved")
	}
}

func TestClaimLostIsNotAnError(t *testing.T) {
	ch := clienttest.NewChannel()
	r, _ := newResolver(t, ch, alex)
	ch.Emit(proto.QueueUpdate{Entries: []proto.QueueEntry{entry("r1", proto.UrgencyHigh, 0)}})

	if err := r.Claim(context.Background(), "r1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	ch.Emit(proto.RoomClaimed{RoomID: "r1", SupporterID: bea.ID})

	res := mustResult(t, r)
	if res.Outcome != OutcomeLost || res.Winner != bea.ID {
		t.Fatalf("expected lost to bea, got %+v", res)
	}
	if len(r.Owned()) != 0 {
		t.Fatalf("lost claim must not be owned")
	}
}

func TestClaimRejectedReasons(t *testing.T) {
	ch := clienttest.NewChannel()
	r, _ := newResolver(t, ch, alex)
	ch.Emit(proto.QueueUpdate{Entries: []proto.QueueEntry{
		entry("r1", proto.UrgencyHigh, 0),
		entry("r2", proto.UrgencyLow, 0),
	}})
	ctx := context.Background()

	_ = r.Claim(ctx, "r1")
	ch.Emit(proto.ClaimRejected{RoomID: "r1", Reason: proto.CodeAlreadyClaimed})
	if res := mustResult(t, r); res.Outcome != OutcomeLost {
		t.Fatalf("already_claimed should map to lost, got %+v", res)
	}

	_ = r.Claim(ctx, "r2")
	ch.Emit(proto.ClaimRejected{RoomID: "r2", Reason: "forbidden"})
	if res := mustResult(t, r); res.Outcome != OutcomeRejected || res.Reason != "forbidden" {
		t.Fatalf("expected rejected, got %+v", res)
	}
	if contains(roomIDs(r.Entries()), "r2") {
		t.Fatalf("rejected entry stays hidden until the next snapshot")
	}

	ch.Emit(proto.QueueUpdate{Entries: []proto.QueueEntry{entry("r2", proto.UrgencyLow, 0)}})
	if !contains(roomIDs(r.Entries()), "r2") {
		t.Fatalf("snapshot should restore r2")
	}
}

func TestClaimTimeoutRequestsResync(t *testing.T) {
	ch := clienttest.NewChannel()
	r, mock := newResolver(t, ch, alex)
	ch.Emit(proto.QueueUpdate{Entries: []proto.QueueEntry{entry("r1", proto.UrgencyHigh, 0)}})

	if err := r.Claim(context.Background(), "r1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	mock.Add(DefaultClaimTimeout)

	res := mustResult(t, r)
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if len(r.Entries()) != 0 {
		t.Fatalf("timed out entry stays hidden pending a snapshot")
	}
	deadline := time.Now().Add(2 * time.Second)
	for ch.Count(proto.TypeQueueSubscribe) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected a resync after timeout, got %v", ch.SentTypes())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A late room:claimed still settles ownership.
	ch.Emit(proto.RoomClaimed{RoomID: "r1", SupporterID: alex.ID})
	if owned := r.Owned(); len(owned) != 1 {
		t.Fatalf("late win should be recorded, got %v", owned)
	}
	assertNoResult(t, r)
}

func TestClaimOfflineFailsFast(t *testing.T) {
	ch := clienttest.NewChannel()
	r, _ := newResolver(t, ch, alex)
	ch.SetState(connection.Disconnected)

	if err := r.Claim(context.Background(), "r1"); !errors.Is(err, connection.ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if len(r.Pending()) != 0 {
		t.Fatalf("offline claim must not leave an attempt")
	}
}

func TestClaimRequiresSubscription(t *testing.T) {
	r := NewResolver(clienttest.NewChannel(), Options{Self: alex, Clock: clock.NewMock()})
	if err := r.Claim(context.Background(), "r1"); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
}

func TestDisconnectFailsAttemptsAndResubscribes(t *testing.T) {
	ch := clienttest.NewChannel()
	r, _ := newResolver(t, ch, alex)
	ch.Emit(proto.QueueUpdate{Entries: []proto.QueueEntry{entry("r1", proto.UrgencyHigh, 0)}})
	_ = r.Claim(context.Background(), "r1")

	ch.SetState(connection.Disconnected)
	if res := mustResult(t, r); res.Outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %+v", res)
	}
	if !r.Stale() {
		t.Fatalf("expected stale view")
	}

	ch.SetState(connection.Connected)
	if ch.Count(proto.TypeQueueSubscribe) != 2 {
		t.Fatalf("expected resubscribe on reconnect, got %v", ch.SentTypes())
	}
	ch.Emit(proto.QueueUpdate{Entries: []proto.QueueEntry{entry("r1", proto.UrgencyHigh, 0)}})
	if r.Stale() || len(r.Entries()) != 1 {
		t.Fatalf("snapshot should refresh the view")
	}
}

func TestUnsubscribeCancelsAttempts(t *testing.T) {
	ch := clienttest.NewChannel()
	r, _ := newResolver(t, ch, alex)
	_ = r.Claim(context.Background(), "r1")

	if err := r.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if res := mustResult(t, r); res.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %+v", res)
	}
	if ch.Count(proto.TypeQueueUnsubscribe) != 1 || ch.Handlers() != 0 {
		t.Fatalf("unsubscribe should send and detach")
	}

	ch.Emit(proto.QueueNewRequest{Entry: entry("r9", proto.UrgencyLow, 0)})
	if len(r.Entries()) != 0 {
		t.Fatalf("events after unsubscribe must be inert")
	}
}

func TestQueueAccessDenied(t *testing.T) {
	ch := clienttest.NewChannel()
	r, _ := newResolver(t, ch, alex)

	ch.Emit(proto.AccessDenied{Scope: proto.ScopeQueue, Reason: "supporters only"})
	if !errors.Is(r.Err(), ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", r.Err())
	}
	if ch.Handlers() != 0 {
		t.Fatalf("denied resolver should detach")
	}
}

// arbiter plays the server for two supporters: the first claim it sees wins.
type arbiter struct {
	mu      sync.Mutex
	owner   string
	clients map[string]*clienttest.Channel
}

func (a *arbiter) attach(self proto.Sender, ch *clienttest.Channel) {
	ch.OnSend = func(cmd proto.Command) {
		claim, ok := cmd.(proto.ClaimRoom)
		if !ok {
			return
		}
		go a.claim(self, ch, claim.RoomID)
	}
}

func (a *arbiter) claim(self proto.Sender, from *clienttest.Channel, roomID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner != "" {
		from.Emit(proto.ClaimRejected{RoomID: roomID, Reason: proto.CodeAlreadyClaimed})
		return
	}
	a.owner = self.ID
	for _, ch := range a.clients {
		ch.Emit(proto.RoomClaimed{RoomID: roomID, SupporterID: self.ID, SupporterName: self.Name})
	}
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	chA, chB := clienttest.NewChannel(), clienttest.NewChannel()
	arb := &arbiter{clients: map[string]*clienttest.Channel{alex.ID: chA, bea.ID: chB}}
	arb.attach(alex, chA)
	arb.attach(bea, chB)

	ra, _ := newResolver(t, chA, alex)
	rb, _ := newResolver(t, chB, bea)
	snapshot := proto.QueueUpdate{Entries: []proto.QueueEntry{entry("r1", proto.UrgencyCrisis, 0)}}
	chA.Emit(snapshot)
	chB.Emit(snapshot)

	var wg sync.WaitGroup
	for _, r := range []*Resolver{ra, rb} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Claim(context.Background(), "r1"); err != nil {
				t.Errorf("claim: %v", err)
			}
		}()
	}
	wg.Wait()

	resA, resB := mustResult(t, ra), mustResult(t, rb)

	won := 0
	for _, res := range []ClaimResult{resA, resB} {
		switch res.Outcome {
		case OutcomeWon:
			won++
		case OutcomeLost:
		default:
			t.Fatalf("unexpected outcome %+v", res)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %+v and %+v", resA, resB)
	}

	owners := len(ra.Owned()) + len(rb.Owned())
	if owners != 1 {
		t.Fatalf("expected exactly one owner, got %v and %v", ra.Owned(), rb.Owned())
	}
	if len(ra.Entries()) != 0 || len(rb.Entries()) != 0 {
		t.Fatalf("both queue views should lose r1")
	}
}

func TestClaimRejectedRequestsResync(t *testing.T) {
	ch := clienttest.NewChannel()
	r, _ := newResolver(t, ch, alex)
	ch.Emit(proto.QueueUpdate{Entries: []proto.QueueEntry{
		entry("r1", proto.UrgencyHigh, 0),
		entry("r2", proto.UrgencyLow, 0),
	}})
	ctx := context.Background()

	_ = r.Claim(ctx, "r1")
	ch.Emit(proto.ClaimRejected{RoomID: "r1", Reason: proto.CodeAlreadyClaimed})
	mustResult(t, r)
	if n := ch.Count(proto.TypeQueueSubscribe); n != 1 {
		t.Fatalf("a lost claim needs no resync, got %v", ch.SentTypes())
	}

	for _, reason := range []string{proto.CodeNotWaiting, proto.CodeRoomNotFound, "forbidden"} {
		before := ch.Count(proto.TypeQueueSubscribe)
		_ = r.Claim(ctx, "r2")
		ch.Emit(proto.ClaimRejected{RoomID: "r2", Reason: reason})
		if res := mustResult(t, r); res.Outcome != OutcomeRejected {
			t.Fatalf("%s: expected rejected, got %+v", reason, res)
		}
		if n := ch.Count(proto.TypeQueueSubscribe); n != before+1 {
			t.Fatalf("%s: expected a resync after rejection, got %v", reason, ch.SentTypes())
		}
		// the refetched snapshot brings r2 back for the next attempt
		ch.Emit(proto.QueueUpdate{Entries: []proto.QueueEntry{entry("r2", proto.UrgencyLow, 0)}})
	}
}

func TestServerErrorLeavesQueueUntouched(t *testing.T) {
	ch := clienttest.NewChannel()
	r, _ := newResolver(t, ch, alex)
	ch.Emit(proto.QueueUpdate{Entries: []proto.QueueEntry{entry("r1", proto.UrgencyHigh, 0)}})

	ch.Emit(proto.ServerError{Err: proto.Error{Code: proto.CodeRoomNotFound, Msg: "no such room"}})
	if n := ch.Count(proto.TypeQueueSubscribe); n != 1 {
		t.Fatalf("server errors are not claim replies, got %v", ch.SentTypes())
	}
	if ids := roomIDs(r.Entries()); len(ids) != 1 || ids[0] != "r1" {
		t.Fatalf("entries changed: %v", ids)
	}
}
