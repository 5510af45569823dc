package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTick_SkipsWhileRefreshInFlight(t *testing.T) {
	h := newHarness(t, testConfig())
	release := make(chan struct{})
	inner := h.auth.refreshFn
	h.auth.refreshFn = func(ctx context.Context, rt string) (Tokens, error) {
		<-release
		return inner(ctx, rt)
	}
	h.login(t, false)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.RefreshSession(context.Background()) }()
	waitFor(t, func() bool { return h.ctrl.refreshing.Load() })

	h.ctrl.tick(context.Background())
	h.ctrl.tick(context.Background())

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if n := h.auth.refreshCalls.Load(); n != 1 {
		t.Fatalf("expected exactly one refresh, got %d", n)
	}
}

func TestTick_SkipsUndecodableToken(t *testing.T) {
	h := newHarness(t, testConfig())
	h.auth.loginFn = func(context.Context, string, string, bool) (LoginResult, error) {
		return LoginResult{User: testUser(), Tokens: Tokens{AccessToken: "opaque-token", RefreshToken: "r"}}, nil
	}
	h.login(t, false)

	h.ctrl.tick(context.Background())

	if n := h.auth.refreshCalls.Load(); n != 0 {
		t.Fatalf("expected no refresh for undecodable token, got %d", n)
	}
	if !h.ctrl.IsAuthenticated() {
		t.Fatalf("decode failure must not end the session")
	}
}

func TestTick_LeadWindow(t *testing.T) {
	cases := []struct {
		name      string
		advance   time.Duration
		noRefresh bool
		want      int32
	}{
		{name: "outside window", advance: 5 * time.Minute, want: 0},
		{name: "inside window", advance: 11 * time.Minute, want: 1},
		{name: "already expired", advance: 20 * time.Minute, want: 1},
		{name: "already expired without refresh token", advance: 20 * time.Minute, noRefresh: true, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			if tc.noRefresh {
				access := mintToken(t, h.now.Add(15*time.Minute))
				h.auth.loginFn = func(context.Context, string, string, bool) (LoginResult, error) {
					return LoginResult{User: testUser(), Tokens: Tokens{AccessToken: access}}, nil
				}
			}
			h.login(t, false)

			h.now = h.now.Add(tc.advance)
			h.ctrl.tick(context.Background())

			if n := h.auth.refreshCalls.Load(); n != tc.want {
				t.Fatalf("expected %d refresh calls, got %d", tc.want, n)
			}
			if !h.ctrl.IsAuthenticated() {
				t.Fatalf("expected session to remain authenticated")
			}
		})
	}
}

func TestStartTimer_ReplacesPrevious(t *testing.T) {
	h := newHarness(t, testConfig())
	h.login(t, false)

	h.ctrl.timerMu.Lock()
	first := h.ctrl.timer
	h.ctrl.timerMu.Unlock()
	if first == nil {
		t.Fatalf("expected timer after login")
	}

	h.ctrl.mu.RLock()
	epoch := h.ctrl.epoch
	h.ctrl.mu.RUnlock()
	h.ctrl.startTimer(epoch)

	select {
	case <-first.done:
	default:
		t.Fatalf("previous timer still running after restart")
	}

	h.ctrl.timerMu.Lock()
	second := h.ctrl.timer
	h.ctrl.timerMu.Unlock()
	if second == nil || second == first {
		t.Fatalf("expected a new timer instance")
	}
}

func TestTimer_RenewsOnSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.RenewalInterval = 10 * time.Millisecond

	h := newHarness(t, cfg)
	access := mintToken(t, h.now.Add(time.Minute))
	h.auth.loginFn = func(context.Context, string, string, bool) (LoginResult, error) {
		return LoginResult{User: testUser(), Tokens: Tokens{AccessToken: access, RefreshToken: "refresh-1"}}, nil
	}
	h.login(t, false)

	waitFor(t, func() bool { return h.auth.refreshCalls.Load() >= 1 })
	waitFor(t, func() bool { return h.ctrl.AccessToken() != access })

	if !h.ctrl.IsAuthenticated() {
		t.Fatalf("expected session to remain authenticated")
	}
}

func TestTimer_RejectedRenewalLogsOut(t *testing.T) {
	cfg := testConfig()
	cfg.RenewalInterval = 10 * time.Millisecond

	h := newHarness(t, cfg)
	h.auth.refreshFn = func(context.Context, string) (Tokens, error) {
		return Tokens{}, errors.New("refresh rejected")
	}
	access := mintToken(t, h.now.Add(time.Minute))
	h.auth.loginFn = func(context.Context, string, string, bool) (LoginResult, error) {
		return LoginResult{User: testUser(), Tokens: Tokens{AccessToken: access, RefreshToken: "refresh-1"}}, nil
	}
	h.login(t, true)

	waitFor(t, func() bool { return !h.ctrl.IsAuthenticated() })
	waitFor(t, func() bool { return !h.ctrl.TimerActive() })

	if _, ok := h.store.Read(context.Background()); ok {
		t.Fatalf("expected credentials cleared")
	}
	if n := h.auth.refreshCalls.Load(); n != 1 {
		t.Fatalf("expected one refresh attempt, got %d", n)
	}
}
