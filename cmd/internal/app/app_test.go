package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"labdash/cmd/internal/auth/credential"
	"labdash/cmd/internal/auth/session"
	"labdash/cmd/internal/realtime"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:9090", want: "http://127.0.0.1:9090"},
		{name: "bind all v4", in: "0.0.0.0:9090", want: "http://127.0.0.1:9090"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "port only", in: ":9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubAuth accepts any password except "wrong".
type stubAuth struct{}

func (stubAuth) Login(_ context.Context, email, password string, _ bool) (session.LoginResult, error) {
	if password == "wrong" {
		return session.LoginResult{}, session.ErrUnauthorized
	}
	return session.LoginResult{
		User: session.User{
			ID:    "u-1",
			Email: email,
			OrgID: "org-1",
			Roles: []session.Role{{
				Name:        "operator",
				Permissions: []session.Permission{{Resource: "device", Action: "read"}},
			}},
		},
		Tokens: session.Tokens{AccessToken: "opaque-access-token", RefreshToken: "opaque-refresh-token"},
	}, nil
}

func (stubAuth) Logout(context.Context, string) error { return nil }

func (stubAuth) Refresh(context.Context, string) (session.Tokens, error) {
	return session.Tokens{AccessToken: "opaque-access-token-2"}, nil
}

func (stubAuth) CurrentUser(context.Context, string) (session.User, error) {
	return session.User{ID: "u-1", Email: "op@lab.test"}, nil
}

func newTestController(t *testing.T) *session.Controller {
	t.Helper()
	store := credential.NewStore(
		credential.WithSessionArea(credential.NewMemoryArea()),
		credential.WithDurableArea(credential.NewMemoryArea()),
	)
	c, err := session.NewController(session.DefaultConfig(), stubAuth{}, store, discardLogger())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

type fakeConnector struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeConnector) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "connect")
	return f.err
}

func (f *fakeConnector) Disconnect(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "disconnect:"+reason)
}

func (f *fakeConnector) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func TestBindRealtime_FollowsAuthenticationEdges(t *testing.T) {
	c := newTestController(t)
	rt := &fakeConnector{}

	cancel := bindRealtime(c, rt, discardLogger())
	defer cancel()

	ctx := context.Background()
	if err := c.Login(ctx, session.Credentials{Email: "op@lab.test", Password: "pw"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := rt.snapshot(); !slices.Equal(got, []string{"connect"}) {
		t.Fatalf("after login: %v", got)
	}

	if err := c.RefreshSession(ctx); err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if got := rt.snapshot(); !slices.Equal(got, []string{"connect"}) {
		t.Fatalf("renewal must not reconnect: %v", got)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	want := []string{"connect", "disconnect:signed_out"}
	if got := rt.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("after logout: %v, want %v", got, want)
	}
}

func TestBindRealtime_FailedLoginNeverConnects(t *testing.T) {
	c := newTestController(t)
	rt := &fakeConnector{}

	cancel := bindRealtime(c, rt, discardLogger())
	defer cancel()

	err := c.Login(context.Background(), session.Credentials{Email: "op@lab.test", Password: "wrong"})
	if !errors.Is(err, session.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := rt.snapshot(); len(got) != 0 {
		t.Fatalf("unexpected calls: %v", got)
	}
}

func TestBindRealtime_ConnectErrorIsLoggedNotFatal(t *testing.T) {
	c := newTestController(t)
	rt := &fakeConnector{err: realtime.ErrNotAuthenticated}

	cancel := bindRealtime(c, rt, discardLogger())
	defer cancel()

	if err := c.Login(context.Background(), session.Credentials{Email: "op@lab.test", Password: "pw"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !c.IsAuthenticated() {
		t.Fatalf("session must stay authenticated when realtime cannot connect")
	}
}

func TestRegisterEventLog_CoversEveryEventKind(t *testing.T) {
	d := realtime.NewDispatcher(discardLogger(), nil)
	registerEventLog(d, discardLogger())
	registerEventLog(d, discardLogger())

	for _, kind := range []string{"device_status", "device_telemetry", "experiment_lifecycle", "experiment_progress", "org_notification"} {
		if n := d.Count(kind); n != 1 {
			t.Fatalf("%s: %d handlers, want 1", kind, n)
		}
	}
}
