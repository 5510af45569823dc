package realtime

import "time"

// Security/performance limits.
// Keep these aligned with the server's realtime v1 gateway.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max room name length (bytes).
	maxRoomLen = 128
)

const (
	// Client-side websocket ping; server "ping" envelopes are answered separately.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Outbound pacing (events per window) matches the server's per-connection budget.
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	defaultSendQueueSize = 256
	minSendQueueSize     = 32
	controlQueueSize     = 8

	defaultDialTimeout  = 10 * time.Second
	defaultHelloTimeout = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
)
