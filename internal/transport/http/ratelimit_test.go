package http

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestRateLimiterWindow(t *testing.T) {
	mock := clock.NewMock()
	limiter := newRateLimiter(2, time.Minute, mock)

	if !limiter.allow() || !limiter.allow() {
		t.Fatalf("first two commands must pass")
	}
	if limiter.allow() {
		t.Fatalf("third command within the window must be refused")
	}

	mock.Add(time.Minute)
	if !limiter.allow() {
		t.Fatalf("a new window must reset the counter")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := newRateLimiter(0, time.Minute, nil)
	for range 1000 {
		if !limiter.allow() {
			t.Fatalf("a zero limit never refuses")
		}
	}
	var none *rateLimiter
	if !none.allow() {
		t.Fatalf("nil limiter never refuses")
	}
}
