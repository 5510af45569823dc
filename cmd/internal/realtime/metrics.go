package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the realtime layer. A nil *Metrics records nothing.
type Metrics struct {
	state    prometheus.Gauge
	dials    *prometheus.CounterVec
	events   *prometheus.CounterVec
	panics   *prometheus.CounterVec
	out      *prometheus.CounterVec
	drops    *prometheus.CounterVec
	rooms    prometheus.Gauge
	replayed prometheus.Counter
}

// NewMetrics registers realtime collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "labdash", Subsystem: "realtime", Name: "connection_state",
			Help: "0=disconnected 1=connecting 2=connected 3=reconnecting.",
		}),
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labdash", Subsystem: "realtime", Name: "dials_total",
			Help: "Connection attempts by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labdash", Subsystem: "realtime", Name: "events_dispatched_total",
			Help: "Inbound events routed to handlers, by kind.",
		}, []string{"kind"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labdash", Subsystem: "realtime", Name: "handler_panics_total",
			Help: "Recovered handler panics, by kind.",
		}, []string{"kind"}),
		out: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labdash", Subsystem: "realtime", Name: "outbound_total",
			Help: "Envelopes queued for sending, by type.",
		}, []string{"type"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labdash", Subsystem: "realtime", Name: "outbound_dropped_total",
			Help: "Envelopes dropped because the send queue was full, by type.",
		}, []string{"type"}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "labdash", Subsystem: "realtime", Name: "rooms",
			Help: "Rooms with at least one subscriber.",
		}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labdash", Subsystem: "realtime", Name: "rooms_replayed_total",
			Help: "join_room envelopes replayed after (re)connect.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.dials, m.events, m.panics, m.out, m.drops, m.rooms, m.replayed)
	}
	return m
}

func (m *Metrics) setState(s ConnState) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) dial(result string) {
	if m == nil {
		return
	}
	m.dials.WithLabelValues(result).Inc()
}

func (m *Metrics) event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) panic(kind string) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(kind).Inc()
}

func (m *Metrics) outbound(typ string) {
	if m == nil {
		return
	}
	m.out.WithLabelValues(typ).Inc()
}

func (m *Metrics) dropped(typ string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(typ).Inc()
}

func (m *Metrics) setRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) replay(n int) {
	if m == nil {
		return
	}
	m.replayed.Add(float64(n))
}
