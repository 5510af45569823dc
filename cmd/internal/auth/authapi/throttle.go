package authapi

import (
	"strings"
	"sync"
	"time"
)

// loginThrottle tracks recent failed logins per email in memory.
type loginThrottle struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	failures map[string][]time.Time
}

func newLoginThrottle(max int, window time.Duration) *loginThrottle {
	if max <= 0 || window <= 0 {
		return nil
	}
	return &loginThrottle{max: max, window: window, failures: make(map[string][]time.Time)}
}

func throttleKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (t *loginThrottle) check(email string, now time.Time) (bool, time.Duration) {
	if t == nil {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return evaluateWindowThrottle(now, t.failures[throttleKey(email)], t.max, t.window)
}

func (t *loginThrottle) fail(email string, now time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := throttleKey(email)
	cut := now.Add(-t.window)
	kept := t.failures[key][:0]
	for _, f := range t.failures[key] {
		if f.After(cut) {
			kept = append(kept, f)
		}
	}
	t.failures[key] = append(kept, now)
}

func (t *loginThrottle) reset(email string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.failures, throttleKey(email))
	t.mu.Unlock()
}

// evaluateWindowThrottle blocks once max failures fall inside window; the
// retry delay is when the oldest of them leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)

	var count int
	var oldest time.Time
	for _, f := range failures {
		if !f.After(cut) {
			continue
		}
		count++
		if oldest.IsZero() || f.Before(oldest) {
			oldest = f
		}
	}
	if count < max {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}
