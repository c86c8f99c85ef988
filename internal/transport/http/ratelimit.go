package http

import (
	"time"

	"github.com/benbjohnson/clock"
)

// rateLimiter is a fixed-window counter owned by one connection's read loop.
type rateLimiter struct {
	limit   int
	window  time.Duration
	clock   clock.Clock
	started time.Time
	counter int
}

func newRateLimiter(limit int, window time.Duration, clk clock.Clock) *rateLimiter {
	if limit <= 0 {
		return &rateLimiter{limit: 0}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &rateLimiter{
		limit:   limit,
		window:  window,
		clock:   clk,
		started: clk.Now(),
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	if now := r.clock.Now(); now.Sub(r.started) >= r.window {
		r.started = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
