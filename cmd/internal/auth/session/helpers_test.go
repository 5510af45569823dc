package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"labdash/cmd/internal/auth/credential"
)

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

type fakeAuth struct {
	mu          sync.Mutex
	logoutCalls []string

	refreshCalls atomic.Int32
	userCalls    atomic.Int32

	loginFn   func(ctx context.Context, email, password string, rememberMe bool) (LoginResult, error)
	refreshFn func(ctx context.Context, refreshToken string) (Tokens, error)
	userFn    func(ctx context.Context, accessToken string) (User, error)
	logoutErr error
}

func (f *fakeAuth) Login(ctx context.Context, email, password string, rememberMe bool) (LoginResult, error) {
	return f.loginFn(ctx, email, password, rememberMe)
}

func (f *fakeAuth) Logout(_ context.Context, accessToken string) error {
	f.mu.Lock()
	f.logoutCalls = append(f.logoutCalls, accessToken)
	f.mu.Unlock()
	return f.logoutErr
}

func (f *fakeAuth) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	f.refreshCalls.Add(1)
	return f.refreshFn(ctx, refreshToken)
}

func (f *fakeAuth) CurrentUser(ctx context.Context, accessToken string) (User, error) {
	f.userCalls.Add(1)
	return f.userFn(ctx, accessToken)
}

func (f *fakeAuth) logouts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.logoutCalls...)
}

func testUser() User {
	return User{
		ID:    "user-1",
		Email: "ada@lab.example",
		Roles: []Role{
			{Name: "operator", Permissions: []Permission{
				{Resource: "device", Action: "read"},
				{Resource: "experiment", Action: "start"},
			}},
		},
	}
}

type harness struct {
	ctrl    *Controller
	auth    *fakeAuth
	store   *credential.Store
	session *credential.MemoryArea
	durable *credential.MemoryArea
	now     time.Time
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LogoutTimeout = time.Second
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{
		auth:    &fakeAuth{},
		session: credential.NewMemoryArea(),
		durable: credential.NewMemoryArea(),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.store = credential.NewStore(
		credential.WithSessionArea(h.session),
		credential.WithDurableArea(h.durable),
		credential.WithLogger(log),
	)

	access := mintToken(t, h.now.Add(15*time.Minute))
	h.auth.loginFn = func(context.Context, string, string, bool) (LoginResult, error) {
		return LoginResult{User: testUser(), Tokens: Tokens{AccessToken: access, RefreshToken: "refresh-1"}}, nil
	}
	h.auth.refreshFn = func(context.Context, string) (Tokens, error) {
		return Tokens{AccessToken: mintToken(t, h.now.Add(15*time.Minute))}, nil
	}
	h.auth.userFn = func(context.Context, string) (User, error) {
		return testUser(), nil
	}

	ctrl, err := NewController(cfg, h.auth, h.store, log, WithClock(func() time.Time { return h.now }))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(ctrl.Close)
	h.ctrl = ctrl
	return h
}

func (h *harness) login(t *testing.T, remember bool) {
	t.Helper()
	err := h.ctrl.Login(context.Background(), Credentials{
		Email:      "ada@lab.example",
		Password:   "correct horse",
		RememberMe: remember,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func areaPair(t *testing.T, a *credential.MemoryArea) (credential.Pair, bool) {
	t.Helper()
	p, ok, err := a.Load(context.Background())
	if err != nil {
		t.Fatalf("area load: %v", err)
	}
	return p, ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
