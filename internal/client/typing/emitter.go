package typing

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/supportline/internal/proto"
)

// DefaultIdle is how long input may pause before typing:stop is sent.
const DefaultIdle = 2 * time.Second

// SendFunc emits a command on the shared channel.
type SendFunc func(ctx context.Context, cmd proto.Command) error

// Emitter announces local typing for one room: one typing:start per burst of
// keystrokes and one typing:stop when the burst ends.
type Emitter struct {
	send   SendFunc
	roomID string
	idle   time.Duration
	clock  clock.Clock
	log    *zerolog.Logger

	mu     sync.Mutex
	active bool
	timer  *clock.Timer
	gen    uint64
}

// NewEmitter builds an emitter bound to roomID.
func NewEmitter(send SendFunc, roomID string, idle time.Duration, clk clock.Clock, logger *zerolog.Logger) *Emitter {
	if idle <= 0 {
		idle = DefaultIdle
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Emitter{send: send, roomID: roomID, idle: idle, clock: clk, log: logger}
}

// Keystroke records input activity. Only the first keystroke of a burst hits
// the channel; the rest just push the idle deadline out.
func (e *Emitter) Keystroke(ctx context.Context) error {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = e.clock.AfterFunc(e.idle, func() { e.expire(gen) })
	starting := !e.active
	e.active = true
	e.mu.Unlock()

	if !starting {
		return nil
	}
	if err := e.send(ctx, proto.TypingStart{RoomID: e.roomID}); err != nil {
		e.mu.Lock()
		if e.gen == gen {
			e.active = false
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
		}
		e.mu.Unlock()
		return err
	}
	return nil
}

// Flush ends the current burst immediately, e.g. when the message is sent.
func (e *Emitter) Flush(ctx context.Context) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return nil
	}
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.active = false
	e.mu.Unlock()

	return e.send(ctx, proto.TypingStop{RoomID: e.roomID})
}

// Reset forgets the burst without sending anything.
func (e *Emitter) Reset() {
	e.mu.Lock()
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.active = false
	e.mu.Unlock()
}

// Active reports whether a typing:start is outstanding.
func (e *Emitter) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Emitter) expire(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	e.timer = nil
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.send(ctx, proto.TypingStop{RoomID: e.roomID}); err != nil {
		e.log.Debug().Err(err).Str("room_id", e.roomID).Msg("typing stop not sent")
	}
}
