// Package cache implements the read cache placed in front of every alias: an
// in-process L1 and an optional shared L2. Reads look up L1, then L2, and
// writes drop every entry of the written collection from both tiers.
//
// Cache failures never fail a data operation. They are logged, counted and
// the request falls through to the database.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/logger"
)

// Tier labels.
const (
	TierL1 = "l1"
	TierL2 = "l2"
)

// Stats is a snapshot of one cache's counters. Counters are updated
// atomically and may be slightly behind each other.
type Stats struct {
	Alias         string  `json:"alias"`
	Hits          int64   `json:"hits"`
	L2Hits        int64   `json:"l2_hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	Expirations   int64   `json:"expirations"`
	Invalidations int64   `json:"invalidations"`
	Errors        int64   `json:"errors"`
	Entries       int     `json:"entries"`
	MemoryBytes   int64   `json:"memory_bytes"`
	HitRate       float64 `json:"hit_rate"`
	L2Enabled     bool    `json:"l2_enabled"`
}

// Cache is the two-tier cache of one alias.
type Cache struct {
	alias   string
	config  Config
	l1      *memoryCache
	l2      Provider
	logger  *logger.Logger
	metrics *Metrics

	hits          atomic.Int64
	l2Hits        atomic.Int64
	misses        atomic.Int64
	evictions     atomic.Int64
	expirations   atomic.Int64
	invalidations atomic.Int64
	errors        atomic.Int64

	// Generations advance on every invalidation so that a result read
	// before a write is never stored after it. epoch covers Clear.
	genMu       sync.Mutex
	generations map[string]*atomic.Uint64
	epoch       atomic.Uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates the cache for alias and starts its TTL sweep. l2 may be nil.
func New(alias string, cfg Config, l2 Provider, log *logger.Logger, opts ...Option) (*Cache, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	c := &Cache{
		alias:  alias,
		config: cfg,
		l2:     l2,
		logger: log.Named("cache").With("alias", alias),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),

		generations: make(map[string]*atomic.Uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = MetricsFor(prometheus.DefaultRegisterer)
	}
	l1, err := newMemoryCache(cfg, c.evicted)
	if err != nil {
		return nil, newCacheError("create", "", ErrInvalidConfig, err)
	}
	c.l1 = l1
	c.metrics.acquire(alias)

	go c.sweepLoop()
	return c, nil
}

func (c *Cache) evicted(reason string) {
	if reason == reasonExpired {
		c.expirations.Add(1)
	} else {
		c.evictions.Add(1)
	}
	c.metrics.evictions.WithLabelValues(c.alias, reason).Inc()
}

// Key returns the key under which req's result is stored.
func (c *Cache) Key(req *adapter.Request, schemaVersion uint64) string {
	return Key(c.config.Prefix, c.alias, req, schemaVersion)
}

// Get returns the cached result of a read request.
func (c *Cache) Get(ctx context.Context, req *adapter.Request, schemaVersion uint64) (*adapter.Result, bool) {
	key := c.Key(req, schemaVersion)

	if data, ok, _ := c.l1.get(key); ok {
		res, err := Decode(data)
		if err == nil {
			c.hits.Add(1)
			c.metrics.hits.WithLabelValues(c.alias, TierL1).Inc()
			c.updateGauges()
			return res, true
		}
		c.absorb("get", key, err)
		c.l1.remove(key)
	}

	if c.l2 != nil {
		gen := c.Generation(req.Collection)
		data, ok, err := c.l2.Get(ctx, key)
		if err != nil {
			c.absorb("l2_get", key, newCacheError("get", key, ErrProvider, err))
		} else if ok {
			res, err := Decode(data)
			if err == nil {
				c.hits.Add(1)
				c.l2Hits.Add(1)
				c.metrics.hits.WithLabelValues(c.alias, TierL2).Inc()
				c.l1.set(key, data, c.config.DefaultTTL)
				if c.Generation(req.Collection) != gen {
					c.l1.remove(key)
				}
				c.updateGauges()
				return res, true
			}
			c.absorb("decode", key, err)
		}
	}

	c.misses.Add(1)
	c.metrics.misses.WithLabelValues(c.alias).Inc()
	return nil, false
}

// Generation returns the invalidation generation of collection. Capture it
// before reading from the database and pass it to SetAt.
func (c *Cache) Generation(collection string) uint64 {
	return c.epoch.Load() + c.counter(collection).Load()
}

func (c *Cache) counter(collection string) *atomic.Uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	g, ok := c.generations[collection]
	if !ok {
		g = new(atomic.Uint64)
		c.generations[collection] = g
	}
	return g
}

// Set stores the result of a read request in both tiers. A zero ttl uses the
// default; ttl is capped at the configured maximum.
func (c *Cache) Set(ctx context.Context, req *adapter.Request, schemaVersion uint64, res *adapter.Result, ttl time.Duration) {
	c.SetAt(ctx, req, schemaVersion, c.Generation(req.Collection), res, ttl)
}

// SetAt is Set for a result read while the collection was at generation.
// Nothing is kept when the collection has been invalidated since; the
// result reports whether the entry was stored.
func (c *Cache) SetAt(ctx context.Context, req *adapter.Request, schemaVersion, generation uint64, res *adapter.Result, ttl time.Duration) bool {
	if res == nil || c.Generation(req.Collection) != generation {
		return false
	}
	key := c.Key(req, schemaVersion)
	data, err := Encode(res)
	if err != nil {
		c.absorb("encode", key, err)
		return false
	}
	ttl = c.config.ttl(ttl)

	c.l1.set(key, data, ttl)
	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, data, ttl); err != nil {
			c.absorb("l2_set", key, newCacheError("set", key, ErrProvider, err))
		}
	}

	// An invalidation that advanced the generation while the entry was
	// being written may have run before it landed.
	if c.Generation(req.Collection) != generation {
		c.discard(ctx, key)
		c.updateGauges()
		return false
	}
	c.updateGauges()
	return true
}

func (c *Cache) discard(ctx context.Context, key string) {
	c.l1.remove(key)
	if c.l2 != nil {
		if err := c.l2.DeletePrefix(ctx, key); err != nil {
			c.absorb("l2_discard", key, newCacheError("discard", key, ErrProvider, err))
		}
	}
}

// InvalidateCollection drops every entry of collection from both tiers.
func (c *Cache) InvalidateCollection(ctx context.Context, collection string) {
	c.counter(collection).Add(1)
	prefix := CollectionPrefix(c.config.Prefix, c.alias, collection)
	removed := c.l1.deletePrefix(prefix)
	c.invalidations.Add(1)
	c.metrics.invalidations.WithLabelValues(c.alias).Inc()
	c.updateGauges()

	if c.l2 != nil {
		if err := c.l2.DeletePrefix(ctx, prefix); err != nil {
			c.absorb("l2_invalidate", prefix, newCacheError("invalidate", prefix, ErrProvider, err))
		}
	}
	if removed > 0 {
		c.logger.Debugf("invalidated %d entries of %s", removed, collection)
	}
}

// Clear drops every entry of the alias from both tiers.
func (c *Cache) Clear(ctx context.Context) error {
	c.epoch.Add(1)
	c.l1.purge()
	c.updateGauges()
	if c.l2 == nil {
		return nil
	}
	prefix := AliasPrefix(c.config.Prefix, c.alias)
	if err := c.l2.DeletePrefix(ctx, prefix); err != nil {
		cerr := newCacheError("clear", prefix, ErrProvider, err)
		c.absorb("l2_clear", prefix, cerr)
		return cerr
	}
	return nil
}

// Keys lists the keys held in L1, oldest first.
func (c *Cache) Keys() []string {
	return c.l1.keys()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	entries, bytes := c.l1.usage()
	s := Stats{
		Alias:         c.alias,
		Hits:          c.hits.Load(),
		L2Hits:        c.l2Hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Expirations:   c.expirations.Load(),
		Invalidations: c.invalidations.Load(),
		Errors:        c.errors.Load(),
		Entries:       entries,
		MemoryBytes:   bytes,
		L2Enabled:     c.l2 != nil,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close stops the sweep and closes the L2 provider. It is idempotent.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
		c.l1.purge()
		if c.l2 != nil {
			err = c.l2.Close()
		}
		c.metrics.release(c.alias)
	})
	return err
}

func (c *Cache) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.l1.sweep(); n > 0 {
				c.logger.Debugf("expired %d entries", n)
				c.updateGauges()
			}
		}
	}
}

func (c *Cache) updateGauges() {
	entries, bytes := c.l1.usage()
	c.metrics.entries.WithLabelValues(c.alias).Set(float64(entries))
	c.metrics.memoryBytes.WithLabelValues(c.alias).Set(float64(bytes))
}

func (c *Cache) absorb(op, key string, err error) {
	c.errors.Add(1)
	c.metrics.errors.WithLabelValues(c.alias, op).Inc()
	c.logger.Warnf("cache %s failed for %s: %v", op, key, err)
}
