package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"labdash/cmd/internal/auth/credential"
)

func TestLogin_PersistsUnderChosenDurability(t *testing.T) {
	for _, remember := range []bool{false, true} {
		h := newHarness(t, testConfig())
		h.login(t, remember)

		target, other := h.session, h.durable
		if remember {
			target, other = h.durable, h.session
		}
		p, ok := areaPair(t, target)
		if !ok || p.RefreshToken != "refresh-1" {
			t.Fatalf("remember=%v: expected pair in target area, got %+v ok=%v", remember, p, ok)
		}
		if _, ok := areaPair(t, other); ok {
			t.Fatalf("remember=%v: expected opposite area empty", remember)
		}

		snap := h.ctrl.Snapshot()
		if !snap.IsAuthenticated() || snap.User.ID != "user-1" {
			t.Fatalf("unexpected snapshot: %+v", snap)
		}
		if snap.Durability != credential.DurabilityFor(remember) {
			t.Fatalf("durability mismatch: %v", snap.Durability)
		}
		if !h.ctrl.TimerActive() {
			t.Fatalf("expected renewal timer after login")
		}
		if h.ctrl.AccessToken() == "" {
			t.Fatalf("expected access token")
		}
	}
}

func TestLogin_DerivesPermissions(t *testing.T) {
	h := newHarness(t, testConfig())

	if h.ctrl.HasPermission("device:read") || h.ctrl.HasRole("operator") {
		t.Fatalf("expected no grants before login")
	}

	h.login(t, false)

	if !h.ctrl.HasPermission("device:read") {
		t.Fatalf("expected device:read")
	}
	if h.ctrl.HasPermission("device:write") {
		t.Fatalf("unexpected device:write")
	}
	if !h.ctrl.HasAllPermissions("device:read", "experiment:start") {
		t.Fatalf("expected all permissions")
	}
	if !h.ctrl.HasAnyPermission("org:admin", "experiment:start") {
		t.Fatalf("expected any permission")
	}
	if !h.ctrl.HasAnyRole("admin", "operator") || h.ctrl.HasRole("admin") {
		t.Fatalf("role checks mismatch")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newHarness(t, testConfig())
	h.auth.loginFn = func(context.Context, string, string, bool) (LoginResult, error) {
		return LoginResult{}, ErrUnauthorized
	}

	err := h.ctrl.Login(context.Background(), Credentials{Email: "ada@lab.example", Password: "nope"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	snap := h.ctrl.Snapshot()
	if snap.State != StateAnonymous || snap.Error == "" {
		t.Fatalf("expected anonymous with error message, got %+v", snap)
	}
	if _, ok := h.store.Read(context.Background()); ok {
		t.Fatalf("expected nothing persisted")
	}
	if h.ctrl.TimerActive() {
		t.Fatalf("expected no timer after failed login")
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	h := newHarness(t, testConfig())
	if err := h.ctrl.Login(context.Background(), Credentials{Email: "  ", Password: "x"}); err != ErrMissingCredentials {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestLogin_WhileAuthenticated(t *testing.T) {
	h := newHarness(t, testConfig())
	h.login(t, false)

	err := h.ctrl.Login(context.Background(), Credentials{Email: "ada@lab.example", Password: "x"})
	if err != ErrAlreadyAuthenticated {
		t.Fatalf("expected ErrAlreadyAuthenticated, got %v", err)
	}
}

func TestLoginLogout_RoundTrip(t *testing.T) {
	h := newHarness(t, testConfig())
	h.login(t, true)
	access := h.ctrl.AccessToken()

	if err := h.ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if h.ctrl.TimerActive() {
		t.Fatalf("expected timer stopped")
	}
	if got := h.auth.logouts(); len(got) != 1 || got[0] != access {
		t.Fatalf("expected one remote logout with access token, got %d", len(got))
	}
	if _, ok := h.store.Read(context.Background()); ok {
		t.Fatalf("expected credentials cleared")
	}
	snap := h.ctrl.Snapshot()
	if snap.State != StateAnonymous || snap.User.ID != "" || len(snap.Permissions) != 0 {
		t.Fatalf("expected reset session, got %+v", snap)
	}
	if h.ctrl.HasPermission("device:read") {
		t.Fatalf("expected grants cleared")
	}
}

func TestLogout_RemoteFailureStillClears(t *testing.T) {
	h := newHarness(t, testConfig())
	h.auth.logoutErr = errors.New("backend down")
	h.login(t, false)

	if err := h.ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if h.ctrl.IsAuthenticated() {
		t.Fatalf("expected anonymous")
	}
	if _, ok := h.store.Read(context.Background()); ok {
		t.Fatalf("expected credentials cleared")
	}
}

func TestLogin_StaleResponseDiscardedAfterLogout(t *testing.T) {
	h := newHarness(t, testConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	inner := h.auth.loginFn
	h.auth.loginFn = func(ctx context.Context, email, password string, remember bool) (LoginResult, error) {
		close(started)
		<-release
		return inner(ctx, email, password, remember)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.ctrl.Login(context.Background(), Credentials{Email: "ada@lab.example", Password: "pw", RememberMe: true})
	}()

	<-started
	if err := h.ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	close(release)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if h.ctrl.IsAuthenticated() {
		t.Fatalf("stale login must not authenticate")
	}
	if _, ok := h.store.Read(context.Background()); ok {
		t.Fatalf("stale login must not persist credentials")
	}
	if h.ctrl.TimerActive() {
		t.Fatalf("stale login must not start a timer")
	}
}

func TestRefreshSession_KeepsDurabilityAndRefreshToken(t *testing.T) {
	h := newHarness(t, testConfig())
	h.login(t, true)
	before := h.ctrl.AccessToken()

	if err := h.ctrl.RefreshSession(context.Background()); err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}

	after := h.ctrl.AccessToken()
	if after == "" || after == before {
		t.Fatalf("expected new access token")
	}
	p, ok := areaPair(t, h.durable)
	if !ok || p.AccessToken != after || p.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected durable pair after refresh: ok=%v", ok)
	}
	if _, ok := areaPair(t, h.session); ok {
		t.Fatalf("refresh must not move the pair to the session area")
	}
	if h.ctrl.Snapshot().State != StateAuthenticated {
		t.Fatalf("expected authenticated after refresh")
	}
}

func TestRefreshSession_StoresRotatedRefreshToken(t *testing.T) {
	h := newHarness(t, testConfig())
	h.auth.refreshFn = func(context.Context, string) (Tokens, error) {
		return Tokens{AccessToken: mintToken(t, h.now.Add(time.Hour)), RefreshToken: "refresh-2"}, nil
	}
	h.login(t, false)

	if err := h.ctrl.RefreshSession(context.Background()); err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	p, ok := areaPair(t, h.session)
	if !ok || p.RefreshToken != "refresh-2" {
		t.Fatalf("expected rotated refresh token stored")
	}
}

func TestRefreshSession_RejectedLogsOut(t *testing.T) {
	h := newHarness(t, testConfig())
	h.auth.refreshFn = func(context.Context, string) (Tokens, error) {
		return Tokens{}, ErrUnauthorized
	}
	h.login(t, true)

	err := h.ctrl.RefreshSession(context.Background())
	if !errors.Is(err, ErrRenewalFailed) {
		t.Fatalf("expected ErrRenewalFailed, got %v", err)
	}
	if h.ctrl.IsAuthenticated() {
		t.Fatalf("expected anonymous after failed renewal")
	}
	if h.ctrl.TimerActive() {
		t.Fatalf("expected timer stopped after failed renewal")
	}
	if _, ok := h.store.Read(context.Background()); ok {
		t.Fatalf("expected credentials cleared after failed renewal")
	}
	if h.ctrl.Snapshot().Error == "" {
		t.Fatalf("expected user-facing error after failed renewal")
	}
}

func TestRefreshSession_NoRefreshToken(t *testing.T) {
	h := newHarness(t, testConfig())
	access := mintToken(t, h.now.Add(time.Minute))
	h.auth.loginFn = func(context.Context, string, string, bool) (LoginResult, error) {
		return LoginResult{User: testUser(), Tokens: Tokens{AccessToken: access}}, nil
	}
	h.login(t, false)

	if err := h.ctrl.RefreshSession(context.Background()); err != ErrNoRefreshToken {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
	if h.auth.refreshCalls.Load() != 0 {
		t.Fatalf("backend must not be called without a refresh token")
	}
	if h.ctrl.IsAuthenticated() {
		t.Fatalf("expected logout")
	}
}

func TestRefreshSession_Anonymous(t *testing.T) {
	h := newHarness(t, testConfig())
	if err := h.ctrl.RefreshSession(context.Background()); err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestRefreshSession_DuringLoginLeavesLoginIntact(t *testing.T) {
	h := newHarness(t, testConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	inner := h.auth.loginFn
	h.auth.loginFn = func(ctx context.Context, email, password string, remember bool) (LoginResult, error) {
		close(started)
		<-release
		return inner(ctx, email, password, remember)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.ctrl.Login(context.Background(), Credentials{Email: "ada@lab.example", Password: "pw", RememberMe: true})
	}()

	<-started
	if err := h.ctrl.RefreshSession(context.Background()); err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated during login, got %v", err)
	}
	close(release)

	if err := <-errCh; err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !h.ctrl.IsAuthenticated() {
		t.Fatalf("login must survive a refresh attempt made while it was in flight")
	}
	if h.auth.refreshCalls.Load() != 0 {
		t.Fatalf("backend refresh must not be called during login")
	}
	if got := h.auth.logouts(); len(got) != 0 {
		t.Fatalf("unexpected remote logouts: %v", got)
	}
	if _, ok := h.store.Read(context.Background()); !ok {
		t.Fatalf("expected credentials persisted")
	}
}

func TestRefreshSession_ConcurrentCallsNeverOverlap(t *testing.T) {
	h := newHarness(t, testConfig())
	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32
	inner := h.auth.refreshFn
	h.auth.refreshFn = func(ctx context.Context, rt string) (Tokens, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		<-release
		return inner(ctx, rt)
	}
	h.login(t, false)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.ctrl.RefreshSession(context.Background())
		}()
	}
	waitFor(t, func() bool { return h.ctrl.refreshing.Load() })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := maxInFlight.Load(); n != 1 {
		t.Fatalf("expected at most one refresh in flight, got %d", n)
	}
	if !h.ctrl.IsAuthenticated() {
		t.Fatalf("expected session to survive concurrent refreshes")
	}
}

func TestOnChange_ReceivesTransitions(t *testing.T) {
	h := newHarness(t, testConfig())

	var mu sync.Mutex
	var states []State
	cancel := h.ctrl.OnChange(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	h.login(t, false)
	if err := h.ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	cancel()
	h.login(t, false)

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateAuthenticating, StateAuthenticated, StateAnonymous}
	if len(states) != len(want) {
		t.Fatalf("expected %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, states)
		}
	}
}

func TestNewController_Validation(t *testing.T) {
	store := credential.NewStore()
	if _, err := NewController(testConfig(), nil, store, nil); err != ErrConfig {
		t.Fatalf("expected ErrConfig for nil authenticator, got %v", err)
	}
	bad := testConfig()
	bad.RenewalLeadWindow = bad.RenewalInterval
	if _, err := NewController(bad, &fakeAuth{}, store, nil); err != ErrConfig {
		t.Fatalf("expected ErrConfig for lead <= interval, got %v", err)
	}
}
