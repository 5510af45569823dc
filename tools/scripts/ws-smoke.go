// Package main provides a CI-friendly WebSocket smoke test for the labdash
// realtime endpoint.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack with a bearer credential
//   - room joins
//   - ping -> pong
//   - delivery of at least -events event envelopes
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "labdash/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send")
		token   = flag.String("token", os.Getenv("LABDASH_ACCESS_TOKEN"), "Access credential (default $LABDASH_ACCESS_TOKEN)")
		rooms   = flag.String("rooms", "org:dev", "Comma-separated rooms to join")
		events  = flag.Int("events", 1, "Event envelopes to wait for (0 skips)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*token) == "" {
		fatalf("missing -token")
	}

	root := context.Background()

	c := mustConnect(root, *wsURL, *origin, *token, *timeout)
	defer closeWS(c.conn)

	if *verbose {
		fmt.Printf("connected: session=%s origin=%q\n", c.sessionID, *origin)
	}

	var joined []string
	for _, r := range strings.Split(*rooms, ",") {
		if r = strings.TrimSpace(r); r == "" {
			continue
		}
		mustWriteWithTimeout(root, c.conn, v1.Envelope{
			V:       v1.Version,
			Type:    v1.TypeJoinRoom,
			Room:    r,
			TS:      time.Now().UTC(),
			Payload: mustJSON(v1.RoomPayload{Room: r}),
		}, *timeout)
		joined = append(joined, r)
	}

	got := 0
	for got < *events {
		env := c.mustReadEvent(root, *timeout)
		got++
		if *verbose {
			fmt.Printf("event: type=%s room=%s id=%s\n", env.Type, env.Room, env.ID)
		}
	}

	fmt.Printf("OK: session=%s rooms=%v events=%d\n", c.sessionID, joined, got)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			fatalf("connect: status=%d: %v", resp.StatusCode, err)
		}
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWriteWithTimeout(parent, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{Token: token}),
	}, stepTimeout)

	ack := c.mustReadUntil(parent, stepTimeout, func(env v1.Envelope) bool { return env.Type == v1.TypeHelloAck })

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload: %v", err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id")
	}
	c.sessionID = p.SessionID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustReadEvent(parent context.Context, stepTimeout time.Duration) v1.Envelope {
	return c.mustReadUntil(parent, stepTimeout, func(env v1.Envelope) bool { return v1.IsEventKind(env.Type) })
}

// mustReadUntil answers pings while waiting and fails on server errors.
func (c *smokeClient) mustReadUntil(parent context.Context, stepTimeout time.Duration, match func(v1.Envelope) bool) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for envelope: %v", ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error: %v", err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed")
			}
			switch {
			case match(env):
				return env
			case env.Type == v1.TypeError:
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			case env.Type == v1.TypePing:
				mustWriteWithTimeout(parent, c.conn, v1.Envelope{
					V:       v1.Version,
					Type:    v1.TypePong,
					ID:      env.ID,
					TS:      time.Now().UTC(),
					Payload: env.Payload,
				}, stepTimeout)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
