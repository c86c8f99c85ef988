// Package queue mirrors the server's waiting queue for supporters and resolves
// claim attempts against the server's authoritative room:claimed broadcast.
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/supportline/internal/client/connection"
	"github.com/vovakirdan/supportline/internal/proto"
)

// DefaultClaimTimeout bounds how long a claim waits for the server's answer.
const DefaultClaimTimeout = 10 * time.Second

var (
	// ErrClaimInFlight rejects a second claim for a room that is still pending.
	ErrClaimInFlight = errors.New("claim already in flight")
	// ErrNotSubscribed rejects claims before Subscribe.
	ErrNotSubscribed = errors.New("queue is not subscribed")
	// ErrAccessDenied is recorded when the server refuses the queue subscription.
	ErrAccessDenied = errors.New("queue access denied")
)

// Outcome is the terminal state of a claim attempt.
type Outcome int

const (
	OutcomeWon Outcome = iota + 1
	OutcomeLost
	OutcomeRejected
	OutcomeTimedOut
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWon:
		return "won"
	case OutcomeLost:
		return "lost"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ClaimResult reports how a claim attempt ended. Losing a race is a result,
// not an error.
type ClaimResult struct {
	RoomID  string
	Outcome Outcome
	// Winner is set for won and lost claims.
	Winner string
	Reason string
}

// Options configures a Resolver.
type Options struct {
	// Self is the local supporter; a room:claimed naming it is a win.
	Self         proto.Sender
	ClaimTimeout time.Duration
	Clock        clock.Clock
	Logger       *zerolog.Logger
}

type attempt struct {
	roomID string
	entry  *proto.QueueEntry
	timer  *clock.Timer
	gen    uint64
}

// Resolver is the supporter-side queue controller.
type Resolver struct {
	ch      connection.Channel
	opts    Options
	log     *zerolog.Logger
	results chan ClaimResult
	updates chan struct{}

	mu         sync.Mutex
	subscribed bool
	gen        uint64
	attemptGen uint64
	entries    map[string]proto.QueueEntry
	count      int
	pending    map[string]*attempt
	owned      map[string]bool
	stale      bool
	err        error
	unsub      func()
	unwatch    func()
}

// NewResolver builds an unsubscribed resolver.
func NewResolver(ch connection.Channel, opts Options) *Resolver {
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = DefaultClaimTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	return &Resolver{
		ch:      ch,
		opts:    opts,
		log:     opts.Logger,
		results: make(chan ClaimResult, 64),
		updates: make(chan struct{}, 1),
		entries: make(map[string]proto.QueueEntry),
		pending: make(map[string]*attempt),
		owned:   make(map[string]bool),
	}
}

// Subscribe attaches to the channel and asks for a queue snapshot.
func (r *Resolver) Subscribe(ctx context.Context) error {
	r.mu.Lock()
	if r.subscribed {
		r.mu.Unlock()
		return nil
	}
	r.gen++
	gen := r.gen
	r.subscribed = true
	r.err = nil
	r.unsub = r.ch.Subscribe(r.handler(gen))
	r.unwatch = r.ch.Watch(r.watcher(gen))
	r.mu.Unlock()

	if err := r.ch.Send(ctx, proto.QueueSubscribe{}); err != nil {
		r.detach(gen, OutcomeFailed)
		return fmt.Errorf("queue subscribe: %w", err)
	}
	return nil
}

// Unsubscribe detaches and cancels every pending claim.
func (r *Resolver) Unsubscribe(ctx context.Context) error {
	r.mu.Lock()
	if !r.subscribed {
		r.mu.Unlock()
		return nil
	}
	gen := r.gen
	r.mu.Unlock()

	r.detach(gen, OutcomeCancelled)

	err := r.ch.Send(ctx, proto.QueueUnsubscribe{})
	if err != nil && !errors.Is(err, connection.ErrOffline) {
		return err
	}
	return nil
}

// Claim asks the server for roomID. The entry is hidden at once; the outcome
// arrives on Results.
func (r *Resolver) Claim(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return fmt.Errorf("%w: empty room id", ErrNotSubscribed)
	}
	if r.ch.State() != connection.Connected {
		return connection.ErrOffline
	}

	r.mu.Lock()
	if !r.subscribed {
		r.mu.Unlock()
		return ErrNotSubscribed
	}
	if _, ok := r.pending[roomID]; ok {
		r.mu.Unlock()
		return ErrClaimInFlight
	}
	r.attemptGen++
	a := &attempt{roomID: roomID, gen: r.attemptGen}
	if e, ok := r.entries[roomID]; ok {
		a.entry = &e
		delete(r.entries, roomID)
	}
	a.timer = r.opts.Clock.AfterFunc(r.opts.ClaimTimeout, func() { r.expire(roomID, a.gen) })
	r.pending[roomID] = a
	r.mu.Unlock()
	r.notify()

	if err := r.ch.Send(ctx, proto.ClaimRoom{RoomID: roomID}); err != nil {
		r.mu.Lock()
		if cur, ok := r.pending[roomID]; ok && cur == a {
			a.timer.Stop()
			delete(r.pending, roomID)
			if a.entry != nil {
				r.entries[roomID] = *a.entry
			}
		}
		r.mu.Unlock()
		r.notify()
		return err
	}
	r.log.Debug().Str("room_id", roomID).Msg("claim sent")
	return nil
}

// Entries returns the visible queue, crisis first, then oldest first.
func (r *Resolver) Entries() []proto.QueueEntry {
	r.mu.Lock()
	out := make([]proto.QueueEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Urgency.Weight() != b.Urgency.Weight() {
			return a.Urgency.Weight() > b.Urgency.Weight()
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.RoomID < b.RoomID
	})
	return out
}

// Count returns the number of waiting rooms as last reported by the server.
func (r *Resolver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Pending returns the rooms with an unresolved claim.
func (r *Resolver) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pending))
	for id := range r.pending {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Owned returns the rooms this supporter won.
func (r *Resolver) Owned() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.owned))
	for id := range r.owned {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Stale reports whether the view may be out of date after a disconnect.
func (r *Resolver) Stale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale
}

// Err returns the last recorded server refusal.
func (r *Resolver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Results delivers claim outcomes.
func (r *Resolver) Results() <-chan ClaimResult {
	return r.results
}

// Updates delivers a coalesced signal whenever the visible queue changes.
func (r *Resolver) Updates() <-chan struct{} {
	return r.updates
}

func (r *Resolver) handler(gen uint64) func(proto.Event) {
	return func(ev proto.Event) {
		var (
			results []ClaimResult
			resync  bool
			denied  bool
		)

		r.mu.Lock()
		if r.gen != gen || !r.subscribed {
			r.mu.Unlock()
			return
		}
		switch e := ev.(type) {
		case proto.QueueUpdate:
			r.entries = make(map[string]proto.QueueEntry, len(e.Entries))
			for _, entry := range e.Entries {
				if _, hidden := r.pending[entry.RoomID]; hidden {
					continue
				}
				r.entries[entry.RoomID] = entry
			}
			r.count = len(e.Entries)
			r.stale = false

		case proto.QueueNewRequest:
			id := e.Entry.RoomID
			_, visible := r.entries[id]
			_, hidden := r.pending[id]
			if !visible && !hidden {
				r.entries[id] = e.Entry
				r.count++
			}

		case proto.QueueCount:
			r.count = e.Count

		case proto.RoomClaimed:
			delete(r.entries, e.RoomID)
			if e.SupporterID == r.opts.Self.ID {
				r.owned[e.RoomID] = true
			}
			if a, ok := r.pending[e.RoomID]; ok {
				a.timer.Stop()
				delete(r.pending, e.RoomID)
				res := ClaimResult{RoomID: e.RoomID, Outcome: OutcomeLost, Winner: e.SupporterID}
				if e.SupporterID == r.opts.Self.ID {
					res.Outcome = OutcomeWon
				}
				results = append(results, res)
			}

		case proto.ClaimRejected:
			if a, ok := r.pending[e.RoomID]; ok {
				a.timer.Stop()
				delete(r.pending, e.RoomID)
				res := ClaimResult{RoomID: e.RoomID, Outcome: OutcomeRejected, Reason: e.Reason}
				if e.Reason == proto.CodeAlreadyClaimed {
					res.Outcome = OutcomeLost
				} else {
					// the hidden entry may still be waiting; refetch the queue
					resync = true
				}
				results = append(results, res)
			}

		case proto.RoomStatusChanged:
			if e.Status.Terminal() {
				delete(r.entries, e.RoomID)
				delete(r.owned, e.RoomID)
			}

		case proto.AccessDenied:
			if e.Scope == proto.ScopeQueue {
				r.err = fmt.Errorf("%w: %s", ErrAccessDenied, e.Reason)
				denied = true
			}

		default:
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		if denied {
			r.detach(gen, OutcomeFailed)
		}
		r.deliver(results...)
		r.notify()
		if resync {
			r.resync()
		}
	}
}

func (r *Resolver) watcher(gen uint64) func(connection.State) {
	return func(state connection.State) {
		r.mu.Lock()
		if r.gen != gen || !r.subscribed {
			r.mu.Unlock()
			return
		}
		switch state {
		case connection.Disconnected:
			r.stale = true
			results := r.drainLocked(OutcomeFailed)
			r.mu.Unlock()
			r.deliver(results...)
			r.notify()
		case connection.Connected:
			rejoin := r.stale
			r.mu.Unlock()
			if rejoin {
				r.resync()
			}
		default:
			r.mu.Unlock()
		}
	}
}

func (r *Resolver) expire(roomID string, gen uint64) {
	r.mu.Lock()
	a, ok := r.pending[roomID]
	if !ok || a.gen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.pending, roomID)
	r.mu.Unlock()

	r.log.Warn().Str("room_id", roomID).Dur("timeout", r.opts.ClaimTimeout).Msg("claim timed out")
	r.deliver(ClaimResult{RoomID: roomID, Outcome: OutcomeTimedOut})
	r.notify()
	r.resync()
}

func (r *Resolver) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.ch.Send(ctx, proto.QueueSubscribe{}); err != nil {
		r.log.Warn().Err(err).Msg("queue resync failed")
	}
}

func (r *Resolver) detach(gen uint64, outcome Outcome) {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.gen++
	r.subscribed = false
	results := r.drainLocked(outcome)
	unsub, unwatch := r.unsub, r.unwatch
	r.unsub, r.unwatch = nil, nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if unwatch != nil {
		unwatch()
	}
	r.deliver(results...)
	r.notify()
}

func (r *Resolver) drainLocked(outcome Outcome) []ClaimResult {
	if len(r.pending) == 0 {
		return nil
	}
	out := make([]ClaimResult, 0, len(r.pending))
	for id, a := range r.pending {
		a.timer.Stop()
		out = append(out, ClaimResult{RoomID: id, Outcome: outcome})
	}
	clear(r.pending)
	slices.SortFunc(out, func(a, b ClaimResult) int { return strings.Compare(a.RoomID, b.RoomID) })
	return out
}

func (r *Resolver) deliver(results ...ClaimResult) {
	for _, res := range results {
		select {
		case r.results <- res:
		default:
			r.log.Warn().Str("room_id", res.RoomID).Str("outcome", res.Outcome.String()).Msg("claim result dropped, consumer too slow")
		}
	}
}

func (r *Resolver) notify() {
	select {
	case r.updates <- struct{}{}:
	default:
	}
}
