package pool

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "quickdb"
	subsystem = "pool"
)

// Metrics holds the pool collectors registered with one
// prometheus.Registerer. Pools that share a registerer and an alias share
// series; the series of an alias are removed when its last pool closes.
type Metrics struct {
	connections      *prometheus.GaugeVec
	queued           *prometheus.GaugeVec
	requests         *prometheus.CounterVec
	acquisitionWait  *prometheus.HistogramVec
	connectionEvents *prometheus.CounterVec

	mu    sync.Mutex
	users map[string]int
}

var (
	registeredMu sync.Mutex
	registered   = make(map[prometheus.Registerer]*Metrics)
)

// MetricsFor returns the collectors registered with reg, registering them
// on first use. A nil reg gives private collectors that are never exported.
func MetricsFor(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return newMetrics(nil)
	}
	registeredMu.Lock()
	defer registeredMu.Unlock()
	if m, ok := registered[reg]; ok {
		return m
	}
	m := newMetrics(reg)
	registered[reg] = m
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connections",
				Help:      "Open connections per alias",
			},
			[]string{"alias"},
		),
		queued: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queued_requests",
				Help:      "Requests waiting for a connection",
			},
			[]string{"alias"},
		),
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Requests by kind and outcome",
			},
			[]string{"alias", "kind", "outcome"},
		),
		acquisitionWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "acquisition_wait_seconds",
				Help:      "Time between submission and pickup by a connection",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"alias"},
		),
		connectionEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connection_events_total",
				Help:      "Connection lifecycle events (opened, closed, replaced, dial_failed)",
			},
			[]string{"alias", "event"},
		),
		users: make(map[string]int),
	}
}

// Outcomes used as metric labels.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
	outcomeClosed  = "closed"
)

// Connection events used as metric labels.
const (
	eventOpened     = "opened"
	eventClosed     = "closed"
	eventReplaced   = "replaced"
	eventDialFailed = "dial_failed"
)

func (m *Metrics) acquire(alias string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[alias]++
}

// release drops the alias' series once no pool uses them.
func (m *Metrics) release(alias string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users[alias]--; m.users[alias] > 0 {
		return
	}
	delete(m.users, alias)
	m.connections.DeleteLabelValues(alias)
	m.queued.DeleteLabelValues(alias)
	m.acquisitionWait.DeleteLabelValues(alias)
	m.requests.DeletePartialMatch(prometheus.Labels{"alias": alias})
	m.connectionEvents.DeletePartialMatch(prometheus.Labels{"alias": alias})
}

// Option configures a Pool.
type Option func(*Pool)

// WithRegisterer exports the pool's metrics through reg instead of the
// default registerer. A nil reg keeps them private.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) {
		p.metrics = MetricsFor(reg)
	}
}
