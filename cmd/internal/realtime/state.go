package realtime

import "errors"

// ConnState is the connection lifecycle phase.
type ConnState uint8

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the connection.
type Status struct {
	State ConnState

	// Attempt counts consecutive failed attempts since the last hello_ack.
	Attempt int

	// LastError is the most recent failure, nil after a successful connect.
	LastError error

	// SessionID is the server session of the live connection.
	SessionID string
}

// Exhausted reports the terminal state reached after the reconnect ceiling.
func (s Status) Exhausted() bool {
	return s.State == StateDisconnected && errors.Is(s.LastError, ErrAttemptsExhausted)
}
