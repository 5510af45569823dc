package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"labdash/cmd/internal/auth/session"
	"labdash/cmd/internal/realtime"
)

func newStatusServer(t *testing.T, d statusDeps) *httptest.Server {
	t.Helper()
	if d.log == nil {
		d.log = discardLogger()
	}
	mux := http.NewServeMux()
	registerHTTP(mux, d)
	srv := httptest.NewServer(WithSecurityHeaders(WithRequestLogging(mux, d.log)))
	t.Cleanup(srv.Close)
	return srv
}

func getSessionView(t *testing.T, url string) (sessionView, string) {
	t.Helper()
	resp, err := http.Get(url + "/session")
	if err != nil {
		t.Fatalf("GET /session: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read /session: %v", err)
	}
	var v sessionView
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode /session: %v", err)
	}
	return v, string(raw)
}

func TestStatus_HealthAndReadiness(t *testing.T) {
	srv := newStatusServer(t, statusDeps{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers missing: %q", got)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz status %d", resp.StatusCode)
	}
}

func TestStatus_ReadinessRequiresRealtime(t *testing.T) {
	c := newTestController(t)
	rt, err := realtime.NewManager(func() realtime.Config {
		cfg := realtime.DefaultConfig()
		cfg.URL = "ws://127.0.0.1:1/ws"
		return cfg
	}(), c, discardLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(rt.Close)

	srv := newStatusServer(t, statusDeps{
		cfg: Config{ReadinessRequireRealtime: true},
		rt:  rt,
	})

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/readyz status %d, want 503", resp.StatusCode)
	}
}

func TestStatus_SessionViewNeverLeaksCredentials(t *testing.T) {
	c := newTestController(t)
	srv := newStatusServer(t, statusDeps{session: c})

	v, _ := getSessionView(t, srv.URL)
	if v.IsAuthenticated || v.State != session.StateAnonymous.String() || v.User != nil {
		t.Fatalf("anonymous view = %+v", v)
	}
	if v.Roles == nil || v.Permissions == nil {
		t.Fatalf("roles/permissions must encode as []")
	}

	err := c.Login(context.Background(), session.Credentials{Email: "op@lab.test", Password: "pw", RememberMe: true})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	v, raw := getSessionView(t, srv.URL)
	if !v.IsAuthenticated || v.User == nil || v.User.Email != "op@lab.test" {
		t.Fatalf("authenticated view = %+v", v)
	}
	if v.Durability != "persistent" {
		t.Fatalf("durability = %q", v.Durability)
	}
	if len(v.Permissions) != 1 || v.Permissions[0] != "device:read" {
		t.Fatalf("permissions = %v", v.Permissions)
	}
	if strings.Contains(raw, "opaque-access-token") || strings.Contains(raw, "opaque-refresh-token") {
		t.Fatalf("session view leaked a credential: %s", raw)
	}
}

func TestStatus_LogoutEndsSession(t *testing.T) {
	c := newTestController(t)
	srv := newStatusServer(t, statusDeps{session: c})

	if err := c.Login(context.Background(), session.Credentials{Email: "op@lab.test", Password: "pw"}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	resp, err := http.Post(srv.URL+"/session/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /session/logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status %d", resp.StatusCode)
	}
	if c.IsAuthenticated() {
		t.Fatalf("still authenticated after logout")
	}

	resp, err = http.Post(srv.URL+"/session/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /session/refresh: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("anonymous refresh status %d, want 409", resp.StatusCode)
	}
}

func TestStatus_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	session.NewMetrics(reg)

	srv := newStatusServer(t, statusDeps{gatherer: reg})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status %d", resp.StatusCode)
	}
}
