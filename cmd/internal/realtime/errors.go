package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid realtime config")

	// ErrNotAuthenticated is returned by Connect when there is no session or access token.
	ErrNotAuthenticated = errors.New("realtime: not authenticated")

	// ErrInvalidRoom is returned for room names outside device:/experiment:/org:.
	ErrInvalidRoom = errors.New("realtime: invalid room")

	// ErrHelloRejected is returned when the server answers hello with an error.
	ErrHelloRejected = errors.New("realtime: hello rejected")

	// ErrAttemptsExhausted marks the terminal disconnected state after the
	// reconnect ceiling was reached.
	ErrAttemptsExhausted = errors.New("realtime: reconnect attempts exhausted")

	// ErrSubprotocol is returned when the server did not select the v1 subprotocol.
	ErrSubprotocol = errors.New("realtime: subprotocol not negotiated")

	// ErrHeartbeat is returned when consecutive pings failed.
	ErrHeartbeat = errors.New("realtime: heartbeat failed")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("realtime: manager closed")
)

// DialError is a failed connection attempt. Status is the HTTP status of the
// handshake response when one was received.
type DialError struct {
	Attempt int
	Status  int
	Err     error
}

func (e *DialError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("realtime: dial attempt %d: status %d: %v", e.Attempt, e.Status, e.Err)
	}
	return fmt.Sprintf("realtime: dial attempt %d: %v", e.Attempt, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }
