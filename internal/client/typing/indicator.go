// Package typing derives the "peer is typing" signal from start/stop events and
// debounces the local user's own typing announcements.
package typing

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultDecay is how long a start without a stop keeps the signal on.
const DefaultDecay = 3 * time.Second

// Indicator is a boolean with timeout-based decay. A start re-arms the single
// decay timer; superseded timers are made inert by a generation counter.
type Indicator struct {
	clock    clock.Clock
	decay    time.Duration
	onChange func(bool)

	mu     sync.Mutex
	typing bool
	timer  *clock.Timer
	gen    uint64
}

// NewIndicator builds an indicator. onChange may be nil.
func NewIndicator(decay time.Duration, clk clock.Clock, onChange func(bool)) *Indicator {
	if decay <= 0 {
		decay = DefaultDecay
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Indicator{clock: clk, decay: decay, onChange: onChange}
}

// Start turns the signal on and restarts the decay window.
func (i *Indicator) Start() {
	i.mu.Lock()
	i.gen++
	gen := i.gen
	if i.timer != nil {
		i.timer.Stop()
	}
	i.timer = i.clock.AfterFunc(i.decay, func() { i.expire(gen) })
	was := i.typing
	i.typing = true
	i.mu.Unlock()

	if !was {
		i.notify(true)
	}
}

// Stop turns the signal off and cancels the pending decay. Stop without a
// prior Start is a no-op.
func (i *Indicator) Stop() {
	i.mu.Lock()
	if !i.typing && i.timer == nil {
		i.mu.Unlock()
		return
	}
	i.gen++
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	was := i.typing
	i.typing = false
	i.mu.Unlock()

	if was {
		i.notify(false)
	}
}

// Typing reports the current signal.
func (i *Indicator) Typing() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.typing
}

// Reset clears the signal without notifying, used on teardown.
func (i *Indicator) Reset() {
	i.mu.Lock()
	i.gen++
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.typing = false
	i.mu.Unlock()
}

func (i *Indicator) expire(gen uint64) {
	i.mu.Lock()
	if gen != i.gen {
		i.mu.Unlock()
		return
	}
	i.timer = nil
	was := i.typing
	i.typing = false
	i.mu.Unlock()

	if was {
		i.notify(false)
	}
}

func (i *Indicator) notify(v bool) {
	if i.onChange != nil {
		i.onChange(v)
	}
}
