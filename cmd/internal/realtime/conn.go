package realtime

import (
	"sync"

	v1 "labdash/shared/contracts/realtime/v1"
)

// outbox is the send side of one live connection.
//
// send and control are never closed; done tells the writer to stop. Close is
// idempotent. control carries protocol replies and is not rate limited.
type outbox struct {
	sessionID string
	send      chan v1.Envelope
	control   chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	metrics *Metrics
}

func newOutbox(sessionID string, size int, m *Metrics) *outbox {
	if size <= 0 {
		size = defaultSendQueueSize
	}
	return &outbox{
		sessionID: sessionID,
		send:      make(chan v1.Envelope, size),
		control:   make(chan v1.Envelope, controlQueueSize),
		done:      make(chan struct{}),
		metrics:   m,
	}
}

// enqueue hands env to the writer without blocking. It reports false when the
// connection is shutting down or the queue is full.
func (o *outbox) enqueue(env v1.Envelope) bool {
	return o.push(o.send, env)
}

// enqueueControl is enqueue for replies the writer sends ahead of queued
// traffic.
func (o *outbox) enqueueControl(env v1.Envelope) bool {
	return o.push(o.control, env)
}

func (o *outbox) push(ch chan v1.Envelope, env v1.Envelope) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case ch <- env:
		o.metrics.outbound(env.Type)
		return true
	default:
		o.metrics.dropped(env.Type)
		return false
	}
}

func (o *outbox) Close() {
	o.closeOnce.Do(func() {
		close(o.done)
	})
}
