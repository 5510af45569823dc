package realtime

import (
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	v1 "labdash/shared/contracts/realtime/v1"
)

// Handler receives one inbound event envelope.
type Handler func(v1.Envelope)

type regKey struct {
	consumer string
	kind     string
}

// Registration is one consumer's handler for one event kind.
type Registration struct {
	d      *Dispatcher
	key    regKey
	fn     atomic.Pointer[Handler]
	closed atomic.Bool
}

// ConsumerID returns the consumer the registration belongs to.
func (r *Registration) ConsumerID() string {
	if r == nil {
		return ""
	}
	return r.key.consumer
}

// Kind returns the event kind.
func (r *Registration) Kind() string {
	if r == nil {
		return ""
	}
	return r.key.kind
}

// Update swaps the handler in place; the next dispatch invokes fn.
func (r *Registration) Update(fn Handler) {
	if r == nil {
		return
	}
	r.fn.Store(&fn)
}

// Close removes the registration. Safe to call more than once.
func (r *Registration) Close() {
	if r == nil || !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.d.remove(r)
}

func (r *Registration) invoke(env v1.Envelope) {
	if r.closed.Load() {
		return
	}
	p := r.fn.Load()
	if p == nil || *p == nil {
		return
	}
	(*p)(env)
}

// Dispatcher routes inbound events to handlers by exact kind.
//
// Registration is independent of the connection: handlers registered while
// offline start receiving events once a connection delivers them.
type Dispatcher struct {
	mu     sync.RWMutex
	byKind map[string][]*Registration
	byKey  map[regKey]*Registration

	log     *slog.Logger
	metrics *Metrics
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher(log *slog.Logger, m *Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		byKind:  make(map[string][]*Registration),
		byKey:   make(map[regKey]*Registration),
		log:     log,
		metrics: m,
	}
}

// Handle registers fn for kind under a fresh consumer id.
func (d *Dispatcher) Handle(kind string, fn Handler) *Registration {
	return d.Register(uuid.NewString(), kind, fn)
}

// Register installs fn for (consumerID, kind). Registering the same pair again
// replaces the handler in place and returns the existing Registration.
func (d *Dispatcher) Register(consumerID, kind string, fn Handler) *Registration {
	key := regKey{consumer: strings.TrimSpace(consumerID), kind: strings.TrimSpace(kind)}
	if key.consumer == "" || key.kind == "" {
		d.log.Warn("realtime.dispatch.register_invalid", "consumer", consumerID, "kind", kind)
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.byKey[key]; ok {
		r.Update(fn)
		return r
	}

	r := &Registration{d: d, key: key}
	r.Update(fn)
	d.byKey[key] = r
	d.byKind[key.kind] = append(d.byKind[key.kind], r)
	return r
}

// Unregister removes (consumerID, kind) if present.
func (d *Dispatcher) Unregister(consumerID, kind string) {
	d.mu.RLock()
	r := d.byKey[regKey{consumer: strings.TrimSpace(consumerID), kind: strings.TrimSpace(kind)}]
	d.mu.RUnlock()
	r.Close()
}

func (d *Dispatcher) remove(r *Registration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.byKey[r.key] != r {
		return
	}
	delete(d.byKey, r.key)

	regs := d.byKind[r.key.kind]
	for i, x := range regs {
		if x == r {
			regs = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(d.byKind, r.key.kind)
	} else {
		d.byKind[r.key.kind] = regs
	}
}

// Count returns the number of handlers registered for kind.
func (d *Dispatcher) Count(kind string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byKind[kind])
}

// Dispatch invokes every handler registered for env.Type and returns how many
// ran. A panicking handler is recovered and logged; the others still run.
func (d *Dispatcher) Dispatch(env v1.Envelope) int {
	d.mu.RLock()
	regs := d.byKind[env.Type]
	d.mu.RUnlock()

	if len(regs) == 0 {
		return 0
	}
	d.metrics.event(env.Type)

	for _, r := range regs {
		d.safeInvoke(r, env)
	}
	return len(regs)
}

func (d *Dispatcher) safeInvoke(r *Registration, env v1.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			d.metrics.panic(env.Type)
			d.log.Error("realtime.dispatch.panic",
				"kind", env.Type,
				"consumer", r.key.consumer,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()
	r.invoke(env)
}

// On registers a typed handler: the payload is decoded into T before fn runs.
// Payloads that fail to decode are logged and skipped.
func On[T any](d *Dispatcher, consumerID, kind string, fn func(T)) *Registration {
	return d.Register(consumerID, kind, typed(d.log, fn))
}

// UpdateOn swaps the typed handler of an existing registration.
func UpdateOn[T any](r *Registration, fn func(T)) {
	if r == nil {
		return
	}
	r.Update(typed(r.d.log, fn))
}

func typed[T any](log *slog.Logger, fn func(T)) Handler {
	return func(env v1.Envelope) {
		var v T
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			log.Warn("realtime.dispatch.decode_fail", "kind", env.Type, "id", env.ID, "err", err)
			return
		}
		fn(v)
	}
}
