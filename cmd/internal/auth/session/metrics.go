package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts session lifecycle outcomes. A nil *Metrics records nothing.
type Metrics struct {
	logins   *prometheus.CounterVec
	renewals *prometheus.CounterVec
	logouts  prometheus.Counter
}

// NewMetrics registers session collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labdash",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labdash",
			Subsystem: "session",
			Name:      "renewals_total",
			Help:      "Renewal timer outcomes by result.",
		}, []string{"result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labdash",
			Subsystem: "session",
			Name:      "logouts_total",
			Help:      "Completed logouts, user-initiated or forced.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.logins, m.renewals, m.logouts)
	}
	return m
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) renewal(result string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(result).Inc()
}

func (m *Metrics) logout() {
	if m == nil {
		return
	}
	m.logouts.Inc()
}
