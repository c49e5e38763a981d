package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "quickdb"
	subsystem = "cache"
)

// Metrics holds the cache collectors registered with one
// prometheus.Registerer. Caches sharing a registerer and an alias share
// series until the last of them closes.
type Metrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	errors        *prometheus.CounterVec
	entries       *prometheus.GaugeVec
	memoryBytes   *prometheus.GaugeVec

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
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, []string{"alias"})
	}

	return &Metrics{
		hits:          counter("hits_total", "Cache hits by tier", "alias", "tier"),
		misses:        counter("misses_total", "Reads that found no entry in any tier", "alias"),
		evictions:     counter("evictions_total", "L1 entries removed by capacity, memory bound or TTL", "alias", "reason"),
		invalidations: counter("invalidations_total", "Collection invalidations caused by writes", "alias"),
		errors:        counter("errors_total", "Absorbed cache errors by operation", "alias", "op"),
		entries:       gauge("entries", "Entries currently held in L1"),
		memoryBytes:   gauge("memory_bytes", "Approximate bytes held in L1"),
		users:         make(map[string]int),
	}
}

// Eviction reasons used as metric labels.
const (
	reasonCapacity = "capacity"
	reasonMemory   = "memory"
	reasonExpired  = "expired"
)

func (m *Metrics) acquire(alias string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[alias]++
}

// release removes the alias' series once no cache uses them.
func (m *Metrics) release(alias string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users[alias]--; m.users[alias] > 0 {
		return
	}
	delete(m.users, alias)
	m.misses.DeleteLabelValues(alias)
	m.invalidations.DeleteLabelValues(alias)
	m.entries.DeleteLabelValues(alias)
	m.memoryBytes.DeleteLabelValues(alias)
	m.hits.DeletePartialMatch(prometheus.Labels{"alias": alias})
	m.evictions.DeletePartialMatch(prometheus.Labels{"alias": alias})
	m.errors.DeletePartialMatch(prometheus.Labels{"alias": alias})
}

// Option configures a Cache.
type Option func(*Cache)

// WithRegisterer exports the cache's metrics through reg instead of the
// default registerer. A nil reg keeps them private.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Cache) {
		c.metrics = MetricsFor(reg)
	}
}
