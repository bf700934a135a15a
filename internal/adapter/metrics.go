package adapter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for metrics.
const (
	LabelOp      = "op"
	LabelOutcome = "outcome"
)

// Metrics records backend call outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	retriesTotal *prometheus.CounterVec
	inFlight     prometheus.Gauge
}

// NewMetrics creates backend metrics and registers them when registry is non-nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gophdav",
				Subsystem: "backend",
				Name:      "calls_total",
				Help:      "Total number of backend calls by operation and outcome",
			},
			[]string{LabelOp, LabelOutcome},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gophdav",
				Subsystem: "backend",
				Name:      "call_duration_seconds",
				Help:      "Backend call latency",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{LabelOp},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gophdav",
				Subsystem: "backend",
				Name:      "retries_total",
				Help:      "Number of read calls retried after a transient failure",
			},
			[]string{LabelOp},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gophdav",
				Subsystem: "backend",
				Name:      "in_flight",
				Help:      "Backend calls currently in progress",
			},
		),
	}
	if registry != nil {
		registry.MustRegister(m.callsTotal, m.callDuration, m.retriesTotal, m.inFlight)
	}
	return m
}

func (m *Metrics) observe(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(op, Classify(err).String()).Inc()
	m.callDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) retried(op string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) track(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}
