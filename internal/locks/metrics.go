package locks

import "github.com/prometheus/client_golang/prometheus"

// Metrics records lock table activity. A nil *Metrics records nothing.
type Metrics struct {
	active    prometheus.Gauge
	acquires  *prometheus.CounterVec
	conflicts prometheus.Counter
	refreshes prometheus.Counter
	releases  prometheus.Counter
	expiries  prometheus.Counter
}

// NewMetrics creates lock metrics and registers them when registry is non-nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gophdav",
			Subsystem: "locks",
			Name:      "active",
			Help:      "Live locks in the table",
		}),
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gophdav",
			Subsystem: "locks",
			Name:      "acquired_total",
			Help:      "Locks granted by scope",
		}, []string{"scope"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gophdav",
			Subsystem: "locks",
			Name:      "conflicts_total",
			Help:      "Lock requests refused because of a conflicting lock",
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gophdav",
			Subsystem: "locks",
			Name:      "refreshed_total",
			Help:      "Lock refreshes",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gophdav",
			Subsystem: "locks",
			Name:      "released_total",
			Help:      "Locks removed by UNLOCK, DELETE or MOVE",
		}),
		expiries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gophdav",
			Subsystem: "locks",
			Name:      "expired_total",
			Help:      "Locks dropped after their timeout",
		}),
	}
	if registry != nil {
		registry.MustRegister(m.active, m.acquires, m.conflicts, m.refreshes, m.releases, m.expiries)
	}
	return m
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}

func (m *Metrics) acquired(s Scope) {
	if m == nil {
		return
	}
	m.acquires.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) refreshed() {
	if m == nil {
		return
	}
	m.refreshes.Inc()
}

func (m *Metrics) released(n int) {
	if m == nil {
		return
	}
	m.releases.Add(float64(n))
}

func (m *Metrics) expired(n int) {
	if m == nil {
		return
	}
	m.expiries.Add(float64(n))
}
