// Package v1 defines the labdash realtime protocol v1 contract.
//
// It is shared by the dashboard client, the smoke tool and test servers so the
// wire format has a single authoritative definition.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "labdash.realtime.v1"

// Control types.
const (
	// TypeHello presents the access credential (client -> server).
	TypeHello = "hello"
	// TypeHelloAck accepts the session (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeJoinRoom subscribes the connection to a room (client -> server).
	TypeJoinRoom = "join_room"
	// TypeLeaveRoom unsubscribes the connection from a room (client -> server).
	TypeLeaveRoom = "leave_room"

	// TypePing is a server liveness probe; clients answer with TypePong.
	TypePing = "ping"
	TypePong = "pong"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Event kinds pushed by the server into rooms.
const (
	TypeDeviceStatus        = "device_status"
	TypeDeviceTelemetry     = "device_telemetry"
	TypeExperimentLifecycle = "experiment_lifecycle"
	TypeExperimentProgress  = "experiment_progress"
	TypeOrgNotification     = "org_notification"
)

var allowedTypes = map[string]struct{}{
	TypeHello:               {},
	TypeHelloAck:            {},
	TypeJoinRoom:            {},
	TypeLeaveRoom:           {},
	TypePing:                {},
	TypePong:                {},
	TypeError:               {},
	TypeDeviceStatus:        {},
	TypeDeviceTelemetry:     {},
	TypeExperimentLifecycle: {},
	TypeExperimentProgress:  {},
	TypeOrgNotification:     {},
}

// IsEventKind reports whether typ is an application event (as opposed to a control message).
func IsEventKind(typ string) bool {
	switch typ {
	case TypeDeviceStatus, TypeDeviceTelemetry, TypeExperimentLifecycle, TypeExperimentProgress, TypeOrgNotification:
		return true
	default:
		return false
	}
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Room    string          `json:"room,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if _, ok := allowedTypes[e.Type]; !ok {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}
