package odm

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/cache"
	"github.com/redbco/quickdb/pkg/config"
	"github.com/redbco/quickdb/pkg/database"
	"github.com/redbco/quickdb/pkg/idgen"
	"github.com/redbco/quickdb/pkg/logger"
	"github.com/redbco/quickdb/pkg/pool"
)

// Database is one registered alias: its pool, its optional cache, its id
// generator and the models registered against it.
type Database struct {
	alias     string
	config    config.DatabaseConfig
	pool      *pool.Pool
	cache     *cache.Cache
	generator idgen.Generator
	logger    *logger.Logger

	mu     sync.RWMutex
	models map[string]*adapter.Schema
	// versions is bumped per collection whenever its model changes, so
	// cached results produced under an older schema are never read again.
	versions map[string]uint64
}

func openDatabase(ctx context.Context, adapters *adapter.Registry, reg prometheus.Registerer, cfg config.DatabaseConfig, log *logger.Logger) (*Database, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cc, err := cfg.ConnectionConfig()
	if err != nil {
		return nil, err
	}

	log = log.With("alias", cfg.Alias)
	if cfg.IsPlaintextRemote() {
		log.Warnf("connecting to %s on a public address without TLS", cc.Host)
	}

	a, err := adapters.New(cc.DatabaseType)
	if err != nil {
		return nil, err
	}
	gen, err := idgen.New(cfg.IDStrategy)
	if err != nil {
		return nil, fmt.Errorf("alias '%s': %w", cfg.Alias, err)
	}

	p, err := pool.New(cfg.Alias, a, cc, cfg.Pool, log, pool.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	if err := p.Start(ctx); err != nil {
		_ = p.Close(ctx)
		return nil, err
	}

	d := &Database{
		alias:     cfg.Alias,
		config:    cfg,
		pool:      p,
		generator: gen,
		logger:    log,
		models:    make(map[string]*adapter.Schema),
		versions:  make(map[string]uint64),
	}

	if cfg.Cache != nil && cfg.Cache.Enabled {
		c, err := newCache(ctx, cfg.Alias, *cfg.Cache, log, cache.WithRegisterer(reg))
		if err != nil {
			_ = p.Close(ctx)
			return nil, err
		}
		d.cache = c
	}

	log.Infof("registered %s database (ids: %s, cache: %t)", cc.DatabaseType, gen.Strategy(), d.cache != nil)
	return d, nil
}

// newCache builds the alias' cache. An unreachable second tier is logged and
// the cache runs from memory only.
func newCache(ctx context.Context, alias string, cfg cache.Config, log *logger.Logger, opts ...cache.Option) (*cache.Cache, error) {
	var l2 cache.Provider
	if cfg.L2.Enabled {
		rc := database.DefaultRedisConfig()
		rc.URL = cfg.L2.URL
		r, err := database.NewRedis(ctx, rc)
		if err != nil {
			log.Warnf("second cache tier unavailable, caching in memory only: %v", err)
		} else {
			l2 = cache.NewRedisProvider(r.Client(), cfg.L2)
		}
	}

	c, err := cache.New(alias, cfg, l2, log, opts...)
	if err != nil {
		if l2 != nil {
			_ = l2.Close()
		}
		return nil, err
	}
	return c, nil
}

// Alias returns the alias name.
func (d *Database) Alias() string {
	return d.alias
}

// Config returns the defaulted configuration the alias was opened with.
func (d *Database) Config() config.DatabaseConfig {
	return d.config
}

// Strategy returns the alias' id strategy.
func (d *Database) Strategy() idgen.Strategy {
	return d.generator.Strategy()
}

func (d *Database) model(collection string) *adapter.Schema {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.models[collection]
}

func (d *Database) version(collection string) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.versions[collection]
}

// registerModel ensures the schema on the backend and records it for later
// creates. A schema without an id strategy inherits the alias'.
func (d *Database) registerModel(ctx context.Context, schema *adapter.Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	s := *schema
	if s.IDStrategy.Type == "" {
		s.IDStrategy = d.Strategy()
	}

	if _, err := d.pool.Do(ctx, &adapter.Request{
		Kind:       adapter.KindEnsureSchema,
		Alias:      d.alias,
		Collection: s.Collection,
		IDStrategy: s.IDStrategy,
		Schema:     &s,
	}); err != nil {
		return err
	}

	d.mu.Lock()
	d.models[s.Collection] = &s
	d.versions[s.Collection]++
	d.mu.Unlock()

	if d.cache != nil {
		d.cache.InvalidateCollection(ctx, s.Collection)
	}
	return nil
}

// nextID fills the primary key of rec when the alias generates ids and the
// caller did not supply one.
func (d *Database) nextID(ctx context.Context, rec adapter.Record) error {
	if !d.Strategy().GeneratesValue() {
		return nil
	}
	if v, ok := rec[adapter.IDField]; ok && v != nil {
		return nil
	}
	id, err := d.generator.Next(ctx)
	if err != nil {
		return err
	}
	rec[adapter.IDField] = id
	return nil
}

// dispatch runs req through the cache and the pool. Reads are served from
// the cache when possible; writes invalidate the collection.
func (d *Database) dispatch(ctx context.Context, req *adapter.Request) (*adapter.Result, error) {
	req.Alias = d.alias
	if req.IDStrategy.Type == "" {
		req.IDStrategy = d.Strategy()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if d.cache == nil {
		return d.pool.Do(ctx, req)
	}

	if req.Kind.IsRead() {
		ver := d.version(req.Collection)
		if res, ok := d.cache.Get(ctx, req, ver); ok {
			return res, nil
		}
		gen := d.cache.Generation(req.Collection)
		res, err := d.pool.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		d.cache.SetAt(ctx, req, ver, gen, res, 0)
		return res, nil
	}

	res, err := d.pool.Do(ctx, req)
	if req.Kind.IsWrite() {
		// A failed write may still have reached the backend.
		d.cache.InvalidateCollection(ctx, req.Collection)
	}
	return res, err
}

// ping checks one connection of the pool.
func (d *Database) ping(ctx context.Context) error {
	_, err := d.pool.Do(ctx, &adapter.Request{Kind: adapter.KindPing, Alias: d.alias})
	return err
}

// close shuts the pool and the cache down.
func (d *Database) close(ctx context.Context) error {
	var result *multierror.Error
	if err := d.pool.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("pool %s: %w", d.alias, err))
	}
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("cache %s: %w", d.alias, err))
		}
	}
	return result.ErrorOrNil()
}
