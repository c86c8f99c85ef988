// Package dashboard holds the admin view of live support metrics.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/supportline/internal/client/connection"
	"github.com/vovakirdan/supportline/internal/proto"
)

// ErrAccessDenied is recorded when the server refuses the admin subscription.
var ErrAccessDenied = errors.New("dashboard access denied")

// Subscriber keeps the last metrics snapshot pushed by the server. Each push
// replaces the previous one wholesale.
type Subscriber struct {
	ch      connection.Channel
	log     *zerolog.Logger
	updates chan proto.MetricsSnapshot

	mu         sync.Mutex
	subscribed bool
	gen        uint64
	snapshot   proto.MetricsSnapshot
	received   bool
	stale      bool
	err        error
	unsub      func()
	unwatch    func()
}

// NewSubscriber builds an unsubscribed dashboard.
func NewSubscriber(ch connection.Channel, logger *zerolog.Logger) *Subscriber {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Subscriber{ch: ch, log: logger, updates: make(chan proto.MetricsSnapshot, 1)}
}

// Subscribe attaches and sends admin:subscribe.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	if s.subscribed {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.subscribed = true
	s.err = nil
	s.unsub = s.ch.Subscribe(s.handler(gen))
	s.unwatch = s.ch.Watch(s.watcher(gen))
	s.mu.Unlock()

	if err := s.ch.Send(ctx, proto.AdminSubscribe{}); err != nil {
		s.detach(gen)
		return fmt.Errorf("admin subscribe: %w", err)
	}
	return nil
}

// Unsubscribe detaches. The last snapshot is kept.
func (s *Subscriber) Unsubscribe() {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.detach(gen)
}

// Snapshot returns the last known metrics and whether any were received.
func (s *Subscriber) Snapshot() (proto.MetricsSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.received
}

// Stale reports whether the snapshot predates the last disconnect.
func (s *Subscriber) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// Err returns the last recorded refusal.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Updates delivers the newest snapshot; older undelivered ones are replaced.
func (s *Subscriber) Updates() <-chan proto.MetricsSnapshot {
	return s.updates
}

func (s *Subscriber) handler(gen uint64) func(proto.Event) {
	return func(ev proto.Event) {
		switch e := ev.(type) {
		case proto.MetricsUpdate:
			s.mu.Lock()
			if s.gen != gen {
				s.mu.Unlock()
				return
			}
			s.snapshot = e.Snapshot
			s.received = true
			s.stale = false
			s.mu.Unlock()
			s.publish(e.Snapshot)

		case proto.AccessDenied:
			if e.Scope != proto.ScopeAdmin {
				return
			}
			s.mu.Lock()
			if s.gen != gen {
				s.mu.Unlock()
				return
			}
			s.err = fmt.Errorf("%w: %s", ErrAccessDenied, e.Reason)
			s.mu.Unlock()
			s.log.Warn().Str("reason", e.Reason).Msg("admin subscription refused")
			s.detach(gen)
		}
	}
}

func (s *Subscriber) watcher(gen uint64) func(connection.State) {
	return func(state connection.State) {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		switch state {
		case connection.Disconnected:
			s.stale = true
			s.mu.Unlock()
		case connection.Connected:
			resubscribe := s.stale
			s.mu.Unlock()
			if !resubscribe {
				return
			}
			if err := s.ch.Send(context.Background(), proto.AdminSubscribe{}); err != nil {
				s.log.Warn().Err(err).Msg("admin resubscribe failed")
			}
		default:
			s.mu.Unlock()
		}
	}
}

func (s *Subscriber) detach(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || !s.subscribed {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.subscribed = false
	unsub, unwatch := s.unsub, s.unwatch
	s.unsub, s.unwatch = nil, nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if unwatch != nil {
		unwatch()
	}
}

func (s *Subscriber) publish(snap proto.MetricsSnapshot) {
	for {
		select {
		case s.updates <- snap:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
