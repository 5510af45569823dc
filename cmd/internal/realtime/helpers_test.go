package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "labdash/shared/contracts/realtime/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSession is a TokenSource whose state tests flip directly.
type fakeSession struct {
	mu     sync.Mutex
	authed bool
	token  string
}

func newFakeSession(token string) *fakeSession {
	return &fakeSession{authed: token != "", token: token}
}

func (s *fakeSession) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

func (s *fakeSession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authed {
		return ""
	}
	return s.token
}

func (s *fakeSession) set(authed bool, token string) {
	s.mu.Lock()
	s.authed, s.token = authed, token
	s.mu.Unlock()
}

// serverConn is the server side of one accepted test connection.
type serverConn struct {
	t         *testing.T
	conn      *websocket.Conn
	sessionID string
	bearer    string
	hello     string
	in        chan v1.Envelope
}

func (c *serverConn) send(env v1.Envelope) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := writeEnvelope(ctx, c.conn, env, time.Second); err != nil {
		c.t.Fatalf("server send %s: %v", env.Type, err)
	}
}

func (c *serverConn) sendEvent(kind, room string, payload any) {
	c.t.Helper()
	env, err := newEnvelope(kind, payload, time.Now())
	if err != nil {
		c.t.Fatalf("event envelope: %v", err)
	}
	env.Room = room
	c.send(env)
}

func (c *serverConn) drop() {
	_ = c.conn.Close(websocket.StatusGoingAway, "test drop")
}

// next returns the next envelope the client sent, failing after timeout.
func (c *serverConn) next(timeout time.Duration) v1.Envelope {
	c.t.Helper()
	select {
	case env, ok := <-c.in:
		if !ok {
			c.t.Fatalf("connection %s closed while waiting for envelope", c.sessionID)
		}
		return env
	case <-time.After(timeout):
		c.t.Fatalf("timeout waiting for client envelope on %s", c.sessionID)
	}
	return v1.Envelope{}
}

// quiet asserts the client sends nothing within d.
func (c *serverConn) quiet(d time.Duration) {
	c.t.Helper()
	select {
	case env, ok := <-c.in:
		if ok {
			c.t.Fatalf("unexpected client envelope %s %s", env.Type, env.Payload)
		}
	case <-time.After(d):
	}
}

// rtServer is a minimal realtime v1 endpoint.
type rtServer struct {
	t   *testing.T
	srv *httptest.Server

	dials     atomic.Int32
	rejectAll atomic.Bool
	helloErr  atomic.Bool

	conns chan *serverConn
}

func newRTServer(t *testing.T) *rtServer {
	t.Helper()
	s := &rtServer{t: t, conns: make(chan *serverConn, 16)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *rtServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/v1/ws"
}

func (s *rtServer) handle(w http.ResponseWriter, r *http.Request) {
	n := s.dials.Add(1)
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	if s.rejectAll.Load() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{v1.Subprotocol}})
	if err != nil {
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx := r.Context()
	hello, err := readEnvelope(ctx, conn)
	if err != nil || hello.Type != v1.TypeHello {
		return
	}
	var hp v1.HelloPayload
	_ = json.Unmarshal(hello.Payload, &hp)

	if s.helloErr.Load() {
		rej, _ := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: "unauthorized", Message: "token rejected"}, time.Now())
		_ = writeEnvelope(ctx, conn, rej, time.Second)
		return
	}

	sc := &serverConn{
		t:         s.t,
		conn:      conn,
		sessionID: fmt.Sprintf("sess-%d", n),
		bearer:    bearer,
		hello:     hp.Token,
		in:        make(chan v1.Envelope, 64),
	}
	ack, _ := newEnvelope(v1.TypeHelloAck, v1.HelloAckPayload{SessionID: sc.sessionID, UserID: "user-1"}, time.Now())
	if err := writeEnvelope(ctx, conn, ack, time.Second); err != nil {
		return
	}
	s.conns <- sc

	defer close(sc.in)
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			return
		}
		sc.in <- env
	}
}

// accept returns the next authenticated server-side connection.
func (s *rtServer) accept(timeout time.Duration) *serverConn {
	s.t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(timeout):
		s.t.Fatalf("timeout waiting for client connection (dials=%d)", s.dials.Load())
	}
	return nil
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.DialTimeout = 2 * time.Second
	cfg.HelloTimeout = 2 * time.Second
	cfg.Backoff = BackoffConfig{
		Initial:     5 * time.Millisecond,
		Max:         20 * time.Millisecond,
		Multiplier:  2,
		MaxAttempts: 3,
	}
	return cfg
}

func newTestManager(t *testing.T, url string, src TokenSource, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(testConfig(url), src, testLogger(), opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func roomOf(t *testing.T, env v1.Envelope) string {
	t.Helper()
	var p v1.RoomPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("room payload: %v", err)
	}
	return p.Room
}
