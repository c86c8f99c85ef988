package connection

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/supportline/internal/proto"
)

type fakeStream struct {
	in     chan proto.Outbound
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []proto.Inbound
}

func newFakeStream() *fakeStream {
	return &fakeStream{in: make(chan proto.Outbound, 16), closed: make(chan struct{})}
}

func (s *fakeStream) Read(ctx context.Context) (proto.Outbound, error) {
	select {
	case out := <-s.in:
		return out, nil
	case <-s.closed:
		return proto.Outbound{}, io.EOF
	case <-ctx.Done():
		return proto.Outbound{}, ctx.Err()
	}
}

func (s *fakeStream) Write(_ context.Context, in proto.Inbound) error {
	select {
	case <-s.closed:
		return io.ErrClosedPipe
	default:
	}
	s.mu.Lock()
	s.written = append(s.written, in)
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) push(t *testing.T, ev proto.Event) {
	t.Helper()
	out, err := proto.EncodeEvent(ev)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	s.in <- out
}

func (s *fakeStream) writtenTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.written))
	for _, in := range s.written {
		out = append(out, in.Type)
	}
	return out
}

type fakeTransport struct {
	mu      sync.Mutex
	fails   int
	dials   int
	creds   []string
	streams []*fakeStream
}

func (*fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Dial(_ context.Context, _, credential string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	f.creds = append(f.creds, credential)
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("connection refused")
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeTransport) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

func newTestManager(tr Transport, maxAttempts int) *Manager {
	return New(Options{
		Endpoint:    "ws://test/ws",
		Transports:  []Transport{tr},
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	})
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func TestConnectRequiresCredential(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, 3)

	if err := m.Connect(context.Background(), "  "); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if tr.dialCount() != 0 {
		t.Fatalf("nothing should be dialed without a credential")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, 3)
	t.Cleanup(m.Disconnect)
	ctx := context.Background()

	if err := m.Connect(ctx, "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Connect(ctx, "tok"); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if tr.dialCount() != 1 {
		t.Fatalf("expected one dial, got %d", tr.dialCount())
	}
	if m.State() != Connected {
		t.Fatalf("expected connected, got %s", m.State())
	}
	if err := m.Connect(ctx, "other"); !errors.Is(err, ErrCredentialMismatch) {
		t.Fatalf("expected ErrCredentialMismatch, got %v", err)
	}
}

func TestConnectGivesUpAfterMaxAttempts(t *testing.T) {
	tr := &fakeTransport{fails: 100}
	m := newTestManager(tr, 3)

	err := m.Connect(context.Background(), "tok")
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", err)
	}
	if tr.dialCount() != 3 || m.Attempts() != 3 {
		t.Fatalf("expected 3 attempts, got dials=%d attempts=%d", tr.dialCount(), m.Attempts())
	}
	eventually(t, func() bool { return m.State() == Disconnected }, "manager should settle disconnected")
	if !errors.Is(m.LastError(), ErrReconnectExhausted) {
		t.Fatalf("last error should be terminal, got %v", m.LastError())
	}
}

func TestConnectRecoversAfterTransientFailures(t *testing.T) {
	tr := &fakeTransport{fails: 2}
	m := newTestManager(tr, 5)
	t.Cleanup(m.Disconnect)

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if tr.dialCount() != 3 || m.Attempts() != 0 {
		t.Fatalf("expected success on third dial, got dials=%d attempts=%d", tr.dialCount(), m.Attempts())
	}
}

func TestSendOfflineFailsFast(t *testing.T) {
	m := newTestManager(&fakeTransport{}, 3)

	err := m.Send(context.Background(), proto.SendMessage{RoomID: "r1", Body: "hi"})
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
}

func TestSendWritesEnvelope(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, 3)
	t.Cleanup(m.Disconnect)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := m.Send(context.Background(), proto.ClaimRoom{RoomID: "r1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := tr.last().writtenTypes(); len(got) != 1 || got[0] != proto.TypeClaim {
		t.Fatalf("unexpected frames %v", got)
	}
}

func TestEventsReachSubscribersInOrder(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, 3)
	t.Cleanup(m.Disconnect)

	var mu sync.Mutex
	var got []string
	m.Subscribe(func(ev proto.Event) {
		mu.Lock()
		got = append(got, ev.EventName())
		mu.Unlock()
	})
	cancel := m.Subscribe(func(proto.Event) {
		t.Errorf("cancelled handler invoked")
	})
	cancel()

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	s := tr.last()
	s.push(t, proto.QueueCount{Count: 1})
	s.in <- proto.Outbound{Type: proto.OutboundTypeEvent, Event: "bogus", Data: []byte(`{}`)}
	s.push(t, proto.RoomClaimed{RoomID: "r1", SupporterID: "s1"})

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, "two events should be dispatched")

	mu.Lock()
	defer mu.Unlock()
	if got[0] != proto.EventQueueCount || got[1] != proto.EventRoomClaimed {
		t.Fatalf("unexpected dispatch order %v", got)
	}
}

func TestReconnectAfterStreamLoss(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, 3)
	t.Cleanup(m.Disconnect)

	var mu sync.Mutex
	var states []State
	m.Watch(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := tr.last()
	_ = first.Close()

	eventually(t, func() bool { return tr.dialCount() == 2 && m.State() == Connected }, "manager should reconnect")

	mu.Lock()
	defer mu.Unlock()
	want := []State{Connecting, Connected, Disconnected, Connecting, Connected}
	if !slices.Equal(states, want) {
		t.Fatalf("unexpected transitions %v, want %v", states, want)
	}
	if tr.creds[1] != "tok" {
		t.Fatalf("reconnect should reuse the credential")
	}
}

func TestDisconnectStopsLifecycle(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, 3)
	if err := m.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	m.Disconnect()
	if m.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
	if err := m.Send(context.Background(), proto.QueueSubscribe{}); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline after disconnect, got %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if tr.dialCount() != 1 {
		t.Fatalf("disconnect must cancel reconnection, dials=%d", tr.dialCount())
	}

	if err := m.Connect(context.Background(), "other"); err != nil {
		t.Fatalf("connect after disconnect may switch credential: %v", err)
	}
	m.Disconnect()
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	m := New(Options{BaseDelay: time.Second, MaxDelay: 30 * time.Second})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := m.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}
