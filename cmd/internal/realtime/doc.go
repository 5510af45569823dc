// Package realtime is the dashboard's push channel: one authenticated
// websocket per session, reference-counted room subscriptions and typed event
// dispatch.
//
// Wire format: shared/contracts/realtime/v1. After the handshake (bearer
// header plus the v1 subprotocol) the client sends hello{token} and waits for
// hello_ack. Room interest is replayed on every connect. Server ping
// envelopes are answered with pong; websocket-level pings keep the transport
// honest.
//
// Connections are only attempted while a TokenSource reports an authenticated
// session. Reconnects back off exponentially and stop after a bounded number
// of consecutive failures.
package realtime
