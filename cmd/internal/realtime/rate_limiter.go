package realtime

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	return r.Reserve(now) == 0
}

// Reserve records an event at now and returns 0, or returns how long to wait
// before a slot frees up without recording anything.
func (r *RateLimiter) Reserve(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst

	if len(r.events) >= r.limit {
		wait := r.events[0].Add(r.window).Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		return wait
	}
	r.events = append(r.events, now)
	return 0
}

// Wait blocks until an event may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return waitServing[struct{}](ctx, r, nil, nil)
}

// waitServing is Wait that hands every value arriving on side to fn while
// blocked. An error from fn ends the wait.
func waitServing[T any](ctx context.Context, r *RateLimiter, side <-chan T, fn func(T) error) error {
	for {
		d := r.Reserve(time.Now())
		if d == 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case v := <-side:
			t.Stop()
			if err := fn(v); err != nil {
				return err
			}
		case <-t.C:
		}
	}
}
