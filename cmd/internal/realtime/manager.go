package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	v1 "labdash/shared/contracts/realtime/v1"
)

// TokenSource gates the connection on an authenticated session and supplies
// the access credential presented at connect time.
// *session.Controller satisfies it.
type TokenSource interface {
	IsAuthenticated() bool
	AccessToken() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics attaches realtime collectors.
func WithMetrics(m *Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithRand overrides the jitter source; rnd must return values in [0,1).
func WithRand(rnd func() float64) Option {
	return func(mgr *Manager) {
		if rnd != nil {
			mgr.rnd = rnd
		}
	}
}

type runLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager keeps at most one authenticated realtime connection alive.
//
// A connection is only attempted while the TokenSource reports an
// authenticated session. The access credential is read fresh on every dial,
// so a renewed token is presented on the next reconnect; a live connection is
// never re-authenticated in place. Consecutive failures back off per
// Config.Backoff until MaxAttempts, after which the manager stays disconnected
// until Connect is called again.
type Manager struct {
	cfg     Config
	src     TokenSource
	reg     *Registry
	disp    *Dispatcher
	log     *slog.Logger
	metrics *Metrics
	rnd     func() float64

	mu        sync.Mutex
	parent    context.Context
	loop      *runLoop
	state     ConnState
	attempt   int
	lastErr   error
	sessionID string
	closed    bool

	listenersMu sync.Mutex
	listeners   map[uint64]func(Status)
	nextID      uint64
}

// NewManager validates cfg and returns a disconnected Manager with an empty
// Registry and Dispatcher.
func NewManager(cfg Config, src TokenSource, log *slog.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		cfg:       cfg,
		src:       src,
		log:       log,
		rnd:       rand.Float64,
		parent:    context.Background(),
		state:     StateDisconnected,
		listeners: make(map[uint64]func(Status)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reg = NewRegistry(log, m.metrics)
	m.disp = NewDispatcher(log, m.metrics)
	m.metrics.setState(StateDisconnected)
	return m, nil
}

// Registry returns the room subscription registry.
func (m *Manager) Registry() *Registry { return m.reg }

// Dispatcher returns the inbound event dispatcher.
func (m *Manager) Dispatcher() *Dispatcher { return m.disp }

// Start binds the manager to ctx (cancelling it disconnects) and connects.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.parent = ctx
	m.mu.Unlock()

	context.AfterFunc(ctx, func() { m.Disconnect("shutdown") })
	return m.Connect()
}

// Connect starts the connection loop. It is a no-op while a loop is already
// running and returns ErrNotAuthenticated without a session or token.
func (m *Manager) Connect() error {
	if !m.src.IsAuthenticated() || m.src.AccessToken() == "" {
		return ErrNotAuthenticated
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.loop != nil {
		m.mu.Unlock()
		return nil
	}
	if err := m.parent.Err(); err != nil {
		m.mu.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(m.parent)
	loop := &runLoop{cancel: cancel, done: make(chan struct{})}
	m.loop = loop
	m.attempt = 0
	m.lastErr = nil
	m.sessionID = ""
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.log.Info("realtime.connect")
	m.notify()

	go m.run(ctx, loop)
	return nil
}

// Disconnect stops the connection loop, cancelling any in-flight dial or
// backoff wait, and closes the socket. Room interest is kept for the next
// Connect.
func (m *Manager) Disconnect(reason string) {
	m.mu.Lock()
	loop := m.loop
	m.loop = nil
	changed := m.state != StateDisconnected
	m.attempt = 0
	m.sessionID = ""
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if loop != nil {
		loop.cancel()
	}
	if loop != nil || changed {
		m.log.Info("realtime.disconnect", "reason", reason)
		m.notify()
	}
}

// Close disconnects, waits for the loop to exit and refuses further Connects.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	loop := m.loop
	m.mu.Unlock()

	m.Disconnect("closed")
	if loop != nil {
		<-loop.done
	}
}

// Join registers interest in room (see Registry.Join).
func (m *Manager) Join(room string) error { return m.reg.Join(room) }

// Leave drops interest in room (see Registry.Leave).
func (m *Manager) Leave(room string) error { return m.reg.Leave(room) }

// ---- status ----

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{State: m.state, Attempt: m.attempt, LastError: m.lastErr, SessionID: m.sessionID}
}

// OnStateChange registers fn to receive the status after every transition.
func (m *Manager) OnStateChange(fn func(Status)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	m.listenersMu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

func (m *Manager) notify() {
	st := m.Status()

	m.listenersMu.Lock()
	fns := make([]func(Status), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (m *Manager) setStateLocked(s ConnState) {
	m.state = s
	m.metrics.setState(s)
}

// ---- connection loop ----

func (m *Manager) run(ctx context.Context, loop *runLoop) {
	defer close(loop.done)

	for {
		token := m.src.AccessToken()
		if !m.src.IsAuthenticated() || token == "" {
			m.stop(loop, ErrNotAuthenticated)
			return
		}

		err := m.connectOnce(ctx, loop, token)
		if ctx.Err() != nil {
			return
		}

		failures, ok := m.recordFailure(loop, err)
		if !ok {
			return
		}
		if m.cfg.Backoff.Exhausted(failures) {
			m.stop(loop, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, failures, err))
			return
		}

		delay := m.cfg.Backoff.Delay(failures, m.rnd())
		m.log.Info("realtime.reconnect.wait", "attempt", failures, "delay", delay.String(), "err", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (m *Manager) recordFailure(loop *runLoop, err error) (int, bool) {
	m.mu.Lock()
	if m.loop != loop {
		m.mu.Unlock()
		return 0, false
	}
	m.attempt++
	n := m.attempt
	m.lastErr = err
	m.sessionID = ""
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()

	m.notify()
	return n, true
}

func (m *Manager) stop(loop *runLoop, err error) {
	m.mu.Lock()
	if m.loop != loop {
		m.mu.Unlock()
		return
	}
	m.loop = nil
	m.lastErr = err
	m.sessionID = ""
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.log.Warn("realtime.stop", "err", err)
	m.notify()
}

func (m *Manager) markConnected(loop *runLoop, sessionID string) bool {
	m.mu.Lock()
	if m.loop != loop {
		m.mu.Unlock()
		return false
	}
	m.attempt = 0
	m.lastErr = nil
	m.sessionID = sessionID
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.notify()
	return true
}

// connectOnce dials, authenticates and serves one connection until it fails.
func (m *Manager) connectOnce(ctx context.Context, loop *runLoop, token string) error {
	m.mu.Lock()
	attempt := m.attempt + 1
	m.mu.Unlock()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if m.cfg.Origin != "" {
		h.Set("Origin", m.cfg.Origin)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	conn, resp, err := websocket.Dial(dialCtx, m.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	cancel()

	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}
	if err != nil {
		m.metrics.dial("fail")
		m.log.Info("realtime.dial.fail", "attempt", attempt, "status", status, "err", err)
		return &DialError{Attempt: attempt, Status: status, Err: err}
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		m.metrics.dial("fail")
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return &DialError{Attempt: attempt, Err: ErrSubprotocol}
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := m.hello(ctx, conn, token)
	if err != nil {
		m.metrics.dial("rejected")
		m.log.Info("realtime.hello.fail", "attempt", attempt, "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "hello failed")
		return &DialError{Attempt: attempt, Err: err}
	}

	if !m.markConnected(loop, sessionID) {
		return context.Canceled
	}
	m.metrics.dial("ok")
	m.log.Info("realtime.connected", "session_id", sessionID, "attempt", attempt)

	return m.serve(ctx, loop, conn, sessionID)
}

func (m *Manager) hello(ctx context.Context, conn *websocket.Conn, token string) (string, error) {
	env, err := newEnvelope(v1.TypeHello, v1.HelloPayload{Token: token}, time.Now())
	if err != nil {
		return "", err
	}
	if err := writeEnvelope(ctx, conn, env, m.cfg.WriteTimeout); err != nil {
		return "", fmt.Errorf("write hello: %w", err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, m.cfg.HelloTimeout)
	defer cancel()

	for {
		in, err := readEnvelope(ackCtx, conn)
		if err != nil {
			return "", fmt.Errorf("await hello_ack: %w", err)
		}

		switch in.Type {
		case v1.TypeHelloAck:
			var p v1.HelloAckPayload
			if err := json.Unmarshal(in.Payload, &p); err != nil || strings.TrimSpace(p.SessionID) == "" {
				return "", fmt.Errorf("%w: hello_ack missing session_id", ErrHelloRejected)
			}
			return p.SessionID, nil

		case v1.TypeError:
			var p v1.ErrorPayload
			_ = json.Unmarshal(in.Payload, &p)
			return "", fmt.Errorf("%w: %s: %s", ErrHelloRejected, p.Code, p.Message)

		case v1.TypePing:
			pong, err := pongFor(in)
			if err != nil {
				return "", err
			}
			if err := writeEnvelope(ackCtx, conn, pong, m.cfg.WriteTimeout); err != nil {
				return "", fmt.Errorf("write pong: %w", err)
			}
		}
	}
}

// serve runs the writer, reader and heartbeat of a live connection and
// returns the first error among them.
func (m *Manager) serve(ctx context.Context, loop *runLoop, conn *websocket.Conn, sessionID string) error {
	queue := m.cfg.SendQueueSize
	if n := 2*len(m.reg.Rooms()) + minSendQueueSize; n > queue {
		queue = n
	}
	box := newOutbox(sessionID, queue, m.metrics)
	defer box.Close()

	// Replayed joins sit in the queue until the writer starts.
	detach, ok := m.attach(loop, box)
	if !ok {
		return context.Canceled
	}

	rl := NewRateLimiter(m.cfg.RateEvents, m.cfg.RateWindow)
	g, gctx := errgroup.WithContext(ctx)

	write := func(env v1.Envelope) error {
		if err := writeEnvelope(gctx, conn, env, m.cfg.WriteTimeout); err != nil {
			m.log.Info("realtime.write.fail", "session_id", sessionID, "type", env.Type,
				"close_status", websocket.CloseStatus(err), "err", err)
			return fmt.Errorf("write %s: %w", env.Type, err)
		}
		return nil
	}

	g.Go(func() error {
		for {
			select {
			case env := <-box.control:
				if err := write(env); err != nil {
					return err
				}
				continue
			default:
			}

			select {
			case <-gctx.Done():
				return gctx.Err()
			case env := <-box.control:
				if err := write(env); err != nil {
					return err
				}
			case env := <-box.send:
				// Control replies keep flowing while paced traffic waits.
				if err := waitServing(gctx, rl, box.control, write); err != nil {
					return err
				}
				if err := write(env); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		t := time.NewTicker(m.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(gctx, m.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					m.log.Info("realtime.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						return ErrHeartbeat
					}
					continue
				}
				failures = 0
			}
		}
	})

	g.Go(func() error {
		for {
			readCtx, readCancel := context.WithTimeout(gctx, m.cfg.ReadIdleTimeout)
			env, err := readEnvelope(readCtx, conn)
			readCancel()

			if err != nil {
				switch classifyReadErr(err) {
				case readErrBadJSON:
					m.log.Info("realtime.read.bad_json", "session_id", sessionID, "err", err)
					continue
				case readErrClose:
					return fmt.Errorf("peer closed: %w", err)
				default:
					return fmt.Errorf("read: %w", err)
				}
			}

			if err := env.Validate(); err != nil {
				m.log.Info("realtime.read.bad_envelope", "session_id", sessionID, "err", err)
				continue
			}
			m.route(box, env)
		}
	})

	err := g.Wait()
	detach()

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	return err
}

// attach puts the registry online with box as its sender, unless loop has been
// replaced by a Disconnect/Connect in the meantime.
func (m *Manager) attach(loop *runLoop, box *outbox) (detach func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loop != loop {
		return nil, false
	}
	replayed, detach := m.reg.setOnline(box.enqueue)
	if replayed > 0 {
		m.log.Info("realtime.rooms.replay", "session_id", box.sessionID, "rooms", replayed)
	}
	return detach, true
}

func (m *Manager) route(box *outbox, env v1.Envelope) {
	switch env.Type {
	case v1.TypePing:
		pong, err := pongFor(env)
		if err != nil {
			m.log.Error("realtime.pong.fail", "err", err)
			return
		}
		if !box.enqueueControl(pong) {
			m.log.Warn("realtime.pong.dropped", "session_id", box.sessionID)
		}

	case v1.TypeError:
		var p v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		m.log.Warn("realtime.server_error", "session_id", box.sessionID, "code", p.Code, "message", p.Message)

	case v1.TypeHelloAck, v1.TypePong:

	default:
		if v1.IsEventKind(env.Type) {
			m.disp.Dispatch(env)
			return
		}
		m.log.Debug("realtime.read.unhandled", "type", env.Type)
	}
}

// pongFor answers a server ping, echoing its payload.
func pongFor(ping v1.Envelope) (v1.Envelope, error) {
	pong, err := newEnvelope(v1.TypePong, nil, time.Now())
	if err != nil {
		return v1.Envelope{}, err
	}
	pong.Payload = ping.Payload
	return pong, nil
}
