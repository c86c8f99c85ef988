// Package connection owns the single authenticated real-time channel shared by
// room sessions, the queue resolver and the dashboard subscriber.
package connection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/supportline/internal/proto"
)

var (
	// ErrMissingCredential is returned synchronously when Connect gets no token.
	ErrMissingCredential = errors.New("missing credential")
	// ErrOffline rejects commands while no live connection exists.
	ErrOffline = errors.New("offline")
	// ErrReconnectExhausted is the terminal error after the attempt ceiling.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrCredentialMismatch rejects a second identity on a live manager.
	ErrCredentialMismatch = errors.New("connection is held by another credential")
	// ErrNoTransport is returned when no transport is configured.
	ErrNoTransport = errors.New("no transport configured")
)

// State is the transport state of a Manager.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Channel is what controllers need from the shared connection.
type Channel interface {
	Send(ctx context.Context, cmd proto.Command) error
	Subscribe(h func(proto.Event)) (cancel func())
	Watch(w func(State)) (cancel func())
	State() State
}

// Options configures a Manager.
type Options struct {
	Endpoint         string
	Transports       []Transport
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	HandshakeTimeout time.Duration
	Clock            clock.Clock
	Logger           *zerolog.Logger
}

func (o *Options) applyDefaults() {
	if len(o.Transports) == 0 {
		o.Transports = []Transport{WebSocket{}}
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
}

type handler struct {
	fn     func(proto.Event)
	active atomic.Bool
}

type watcher struct {
	fn     func(State)
	active atomic.Bool
}

// readiness resolves once per lifecycle with the outcome of the first connect.
type readiness struct {
	ch   chan struct{}
	once sync.Once
	err  error
}

func newReadiness() *readiness {
	return &readiness{ch: make(chan struct{})}
}

func (r *readiness) resolve(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.ch)
	})
}

// Manager owns one authenticated channel and its reconnection policy.
// State transitions and event dispatch both happen on the lifecycle goroutine,
// so dependents observe them in a single order.
type Manager struct {
	opts Options
	log  *zerolog.Logger

	mu         sync.Mutex
	state      State
	credential string
	lastErr    error
	attempts   int
	stream     Stream
	cancel     context.CancelFunc
	done       chan struct{}
	ready      *readiness

	subMu    sync.Mutex
	nextID   uint64
	handlers map[uint64]*handler
	watchers map[uint64]*watcher
}

// New builds a Manager. Nothing is dialed until Connect.
func New(opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		opts:     opts,
		log:      opts.Logger,
		handlers: make(map[uint64]*handler),
		watchers: make(map[uint64]*watcher),
	}
}

// Connect establishes the channel or reuses the running one. It blocks until the
// first handshake succeeds, the attempt ceiling is reached, or ctx is done.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return ErrMissingCredential
	}

	m.mu.Lock()
	if m.cancel != nil {
		if m.credential != credential {
			m.mu.Unlock()
			return ErrCredentialMismatch
		}
		ready := m.ready
		m.mu.Unlock()
		return waitReady(ctx, ready)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ready := newReadiness()
	m.credential = credential
	m.cancel = cancel
	m.done = done
	m.ready = ready
	m.lastErr = nil
	m.attempts = 0
	m.mu.Unlock()

	go m.run(runCtx, credential, done, ready)

	return waitReady(ctx, ready)
}

func waitReady(ctx context.Context, ready *readiness) error {
	select {
	case <-ready.ch:
		return ready.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect tears the channel down and cancels pending reconnection timers.
// It must not be called from an event handler or state watcher.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done, stream, ready := m.cancel, m.done, m.stream, m.ready
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if stream != nil {
		_ = stream.Close()
	}
	ready.resolve(context.Canceled)
	<-done
}

// State returns the current transport state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent connectivity error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Attempts returns the number of consecutive failed connection attempts.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Send emits a command. It never queues: without a live stream it fails with ErrOffline.
func (m *Manager) Send(ctx context.Context, cmd proto.Command) error {
	m.mu.Lock()
	stream := m.stream
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected || stream == nil {
		return ErrOffline
	}

	in, err := proto.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := stream.Write(ctx, in); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrOffline, in.Type, err)
	}
	return nil
}

// Subscribe registers an event handler. Handlers run sequentially on the
// lifecycle goroutine. After cancel returns the handler is not invoked again
// by new dispatches.
func (m *Manager) Subscribe(fn func(proto.Event)) func() {
	h := &handler{fn: fn}
	h.active.Store(true)

	m.subMu.Lock()
	m.nextID++
	id := m.nextID
	m.handlers[id] = h
	m.subMu.Unlock()

	return func() {
		h.active.Store(false)
		m.subMu.Lock()
		delete(m.handlers, id)
		m.subMu.Unlock()
	}
}

// Watch registers a state observer invoked on every transition.
func (m *Manager) Watch(fn func(State)) func() {
	w := &watcher{fn: fn}
	w.active.Store(true)

	m.subMu.Lock()
	m.nextID++
	id := m.nextID
	m.watchers[id] = w
	m.subMu.Unlock()

	return func() {
		w.active.Store(false)
		m.subMu.Lock()
		delete(m.watchers, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) run(ctx context.Context, credential string, done chan struct{}, ready *readiness) {
	defer close(done)
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.cancel = nil
			m.stream = nil
		}
		m.mu.Unlock()
		m.setState(Disconnected)
	}()

	failures := 0
	for {
		m.setState(Connecting)
		stream, err := m.dial(ctx, credential)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			m.recordFailure(err, failures)
			m.log.Warn().Err(err).Int("attempt", failures).Msg("connect attempt failed")

			if failures >= m.opts.MaxAttempts {
				terminal := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, failures, err)
				m.mu.Lock()
				m.lastErr = terminal
				m.mu.Unlock()
				m.log.Error().Err(terminal).Msg("giving up on connection")
				ready.resolve(terminal)
				return
			}

			m.setState(Disconnected)
			if !m.sleep(ctx, m.backoff(failures)) {
				return
			}
			continue
		}

		failures = 0
		m.mu.Lock()
		m.stream = stream
		m.attempts = 0
		m.lastErr = nil
		m.mu.Unlock()

		m.setState(Connected)
		m.log.Info().Str("endpoint", m.opts.Endpoint).Msg("connected")
		ready.resolve(nil)

		readErr := m.readLoop(ctx, stream)

		m.mu.Lock()
		m.stream = nil
		m.mu.Unlock()
		_ = stream.Close()

		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.lastErr = readErr
		m.mu.Unlock()
		m.log.Warn().Err(readErr).Msg("connection lost")
		m.setState(Disconnected)

		if !m.sleep(ctx, m.backoff(1)) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, credential string) (Stream, error) {
	var errs []error
	for _, tr := range m.opts.Transports {
		dialCtx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
		stream, err := tr.Dial(dialCtx, m.opts.Endpoint, credential)
		cancel()
		if err == nil {
			return stream, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", tr.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, ErrNoTransport
	}
	return nil, errors.Join(errs...)
}

func (m *Manager) readLoop(ctx context.Context, stream Stream) error {
	for {
		out, err := stream.Read(ctx)
		if err != nil {
			return err
		}

		ev, err := proto.DecodeEvent(out)
		if err != nil {
			m.log.Warn().Err(err).Str("event", out.Event).Msg("dropping undecodable frame")
			continue
		}
		m.dispatch(ev)
	}
}

func (m *Manager) dispatch(ev proto.Event) {
	m.subMu.Lock()
	ids := make([]uint64, 0, len(m.handlers))
	for id := range m.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	hs := make([]*handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, m.handlers[id])
	}
	m.subMu.Unlock()

	for _, h := range hs {
		if h.active.Load() {
			h.fn(ev)
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.subMu.Lock()
	ids := make([]uint64, 0, len(m.watchers))
	for id := range m.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ws := make([]*watcher, 0, len(ids))
	for _, id := range ids {
		ws = append(ws, m.watchers[id])
	}
	m.subMu.Unlock()

	for _, w := range ws {
		if w.active.Load() {
			w.fn(s)
		}
	}
}

func (m *Manager) recordFailure(err error, failures int) {
	m.mu.Lock()
	m.lastErr = err
	m.attempts = failures
	m.mu.Unlock()
}

// backoff doubles from BaseDelay per consecutive failure, capped at MaxDelay.
func (m *Manager) backoff(failures int) time.Duration {
	d := m.opts.BaseDelay
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= m.opts.MaxDelay {
			return m.opts.MaxDelay
		}
	}
	return d
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	timer := m.opts.Clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
