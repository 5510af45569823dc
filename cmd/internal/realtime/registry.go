package realtime

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	v1 "labdash/shared/contracts/realtime/v1"
)

// Room name prefixes.
const (
	RoomPrefixDevice     = "device"
	RoomPrefixExperiment = "experiment"
	RoomPrefixOrg        = "org"
)

func DeviceRoom(id string) string     { return RoomPrefixDevice + ":" + id }
func ExperimentRoom(id string) string { return RoomPrefixExperiment + ":" + id }
func OrgRoom(id string) string        { return RoomPrefixOrg + ":" + id }

// ValidateRoom checks "<device|experiment|org>:<id>".
func ValidateRoom(room string) error {
	if room == "" || len(room) > maxRoomLen || strings.ContainsAny(room, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}
	prefix, id, ok := strings.Cut(room, ":")
	if !ok || id == "" {
		return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}
	switch prefix {
	case RoomPrefixDevice, RoomPrefixExperiment, RoomPrefixOrg:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}
}

// Registry reference-counts room interest across consumers.
//
// The server sees one join_room when a room's count goes 0→1 and one
// leave_room when it returns to 0. Counts never go negative. While offline only
// counts change; going online replays a join for every room still held.
type Registry struct {
	mu     sync.Mutex
	counts map[string]int
	send   func(v1.Envelope) bool
	// attached identifies the current sender; detach only clears its own.
	attached uint64

	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewRegistry returns an empty, offline registry.
func NewRegistry(log *slog.Logger, m *Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		counts:  make(map[string]int),
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Join registers interest in room.
func (r *Registry) Join(room string) error {
	if err := ValidateRoom(room); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if incRef(r.counts, room) {
		r.metrics.setRooms(len(r.counts))
		if r.send != nil {
			r.emitLocked(v1.TypeJoinRoom, room)
		}
	}
	return nil
}

// Leave drops one unit of interest in room. Leaving a room with no interest is
// a no-op.
func (r *Registry) Leave(room string) error {
	if err := ValidateRoom(room); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	zero, ok := decRef(r.counts, room)
	if !ok {
		return nil
	}
	if zero {
		r.metrics.setRooms(len(r.counts))
		if r.send != nil {
			r.emitLocked(v1.TypeLeaveRoom, room)
		}
	}
	return nil
}

// Count returns the current reference count for room.
func (r *Registry) Count(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[room]
}

// Rooms returns rooms with a positive count, sorted.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomsLocked()
}

func (r *Registry) roomsLocked() []string {
	out := make([]string, 0, len(r.counts))
	for room, n := range r.counts {
		if n > 0 {
			out = append(out, room)
		}
	}
	slices.Sort(out)
	return out
}

// setOnline attaches the live connection's sender and replays one join_room
// per held room. It returns the number of rooms replayed and a detach func
// that takes the registry offline only while send is still the attached
// sender, so a connection tearing down late cannot detach its successor.
func (r *Registry) setOnline(send func(v1.Envelope) bool) (int, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attached++
	id := r.attached
	r.send = send
	rooms := r.roomsLocked()
	for _, room := range rooms {
		r.emitLocked(v1.TypeJoinRoom, room)
	}
	r.metrics.replay(len(rooms))

	return len(rooms), func() { r.setOffline(id) }
}

func (r *Registry) setOffline(id uint64) {
	r.mu.Lock()
	if r.attached == id {
		r.send = nil
	}
	r.mu.Unlock()
}

func (r *Registry) emitLocked(typ, room string) {
	env, err := newEnvelope(typ, v1.RoomPayload{Room: room}, r.now())
	if err != nil {
		r.log.Error("realtime.registry.envelope_fail", "type", typ, "room", room, "err", err)
		return
	}
	if !r.send(env) {
		r.log.Warn("realtime.registry.enqueue_fail", "type", typ, "room", room)
	}
}

// incRef increments room and reports whether this was the first reference.
func incRef(counts map[string]int, room string) bool {
	counts[room]++
	return counts[room] == 1
}

// decRef decrements room. ok is false when there was nothing to release; zero
// is true when the last reference was released (the entry is deleted).
func decRef(counts map[string]int, room string) (zero, ok bool) {
	n, exists := counts[room]
	if !exists || n <= 0 {
		delete(counts, room)
		return false, false
	}
	if n == 1 {
		delete(counts, room)
		return true, true
	}
	counts[room] = n - 1
	return false, true
}
