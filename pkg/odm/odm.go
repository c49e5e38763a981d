// Package odm is the public entry point: a registry of database aliases and
// the create/find/update/delete operations dispatched to them.
//
// Every operation resolves its alias, normalizes its condition, consults the
// alias' cache for reads and hands the request to the alias' pool. Writes
// invalidate every cached result of the collection they touch.
package odm

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/cache"
	"github.com/redbco/quickdb/pkg/config"
	"github.com/redbco/quickdb/pkg/health"
	"github.com/redbco/quickdb/pkg/logger"
	"github.com/redbco/quickdb/pkg/pool"
)

// healthTimeout bounds one alias' ping during HealthCheck.
const healthTimeout = 5 * time.Second

// ODM runs operations against the registry's default alias. Using returns
// a handle bound to another alias.
type ODM struct {
	*Session

	registry *Registry
	checker  *health.Checker
	logger   *logger.Logger
}

// New wraps registry.
func New(registry *Registry, log *logger.Logger) *ODM {
	if log == nil {
		log = logger.NewNop()
	}
	return &ODM{
		Session:  &Session{registry: registry},
		registry: registry,
		checker:  health.NewChecker(healthTimeout),
		logger:   log,
	}
}

// Open builds an ODM from a loaded configuration, adding every database in
// order. If any alias fails to open, the ones already opened are closed.
func Open(ctx context.Context, cfg *config.Config, adapters *adapter.Registry, log *logger.Logger) (*ODM, error) {
	o := New(NewRegistry(adapters, log), log)
	for _, d := range cfg.Databases {
		if err := o.AddDatabase(ctx, d); err != nil {
			var result *multierror.Error
			result = multierror.Append(result, fmt.Errorf("alias '%s': %w", d.Alias, err))
			if cerr := o.Shutdown(ctx); cerr != nil {
				result = multierror.Append(result, cerr)
			}
			return nil, result.ErrorOrNil()
		}
	}
	if cfg.DefaultAlias != "" {
		if err := o.SetDefaultAlias(cfg.DefaultAlias); err != nil {
			_ = o.Shutdown(ctx)
			return nil, err
		}
	}
	return o, nil
}

// Registry returns the alias registry.
func (o *ODM) Registry() *Registry {
	return o.registry
}

// AddDatabase opens and registers a database.
func (o *ODM) AddDatabase(ctx context.Context, cfg config.DatabaseConfig) error {
	_, err := o.registry.Add(ctx, cfg)
	return err
}

// RemoveDatabase closes and unregisters alias. Its pool statistics and
// cached results go with it.
func (o *ODM) RemoveDatabase(ctx context.Context, alias string) error {
	if err := o.registry.Remove(ctx, alias); err != nil {
		return err
	}
	o.checker.Remove(alias)
	return nil
}

// Using returns a handle bound to alias.
func (o *ODM) Using(alias string) *Session {
	return &Session{registry: o.registry, alias: alias}
}

// Aliases lists the registered aliases in registration order.
func (o *ODM) Aliases() []string {
	return o.registry.Aliases()
}

// DefaultAlias returns the alias used when none is given.
func (o *ODM) DefaultAlias() string {
	return o.registry.Default()
}

// SetDefaultAlias changes the alias used when none is given.
func (o *ODM) SetDefaultAlias(alias string) error {
	return o.registry.SetDefault(alias)
}

// RegisterModel ensures schema on alias and uses it for later creates in
// its collection.
func (o *ODM) RegisterModel(ctx context.Context, alias string, schema *adapter.Schema) error {
	db, err := o.registry.Get(alias)
	if err != nil {
		return err
	}
	return db.registerModel(ctx, schema)
}

// HealthCheck pings every alias concurrently.
func (o *ODM) HealthCheck(ctx context.Context) health.Report {
	dbs := o.registry.databasesInOrder()
	checks := make(map[string]health.CheckFunc, len(dbs))
	for _, db := range dbs {
		checks[db.alias] = db.ping
	}
	report := o.checker.RunAll(ctx, checks)
	for _, c := range report.Checks {
		if c.Status != health.StatusHealthy {
			o.logger.Warnf("health check failed for %s: %s", c.Name, c.Message)
		}
	}
	return report
}

// CacheStats returns the cache statistics of alias.
func (o *ODM) CacheStats(alias string) (cache.Stats, error) {
	db, err := o.registry.Get(alias)
	if err != nil {
		return cache.Stats{}, err
	}
	if db.cache == nil {
		return cache.Stats{}, fmt.Errorf("%w: %s", ErrCacheDisabled, db.alias)
	}
	return db.cache.Stats(), nil
}

// ClearCache drops every cached result of alias.
func (o *ODM) ClearCache(ctx context.Context, alias string) error {
	db, err := o.registry.Get(alias)
	if err != nil {
		return err
	}
	if db.cache == nil {
		return fmt.Errorf("%w: %s", ErrCacheDisabled, db.alias)
	}
	return db.cache.Clear(ctx)
}

// PoolStats returns the pool statistics of alias.
func (o *ODM) PoolStats(alias string) (pool.Stats, error) {
	db, err := o.registry.Get(alias)
	if err != nil {
		return pool.Stats{}, err
	}
	return db.pool.Stats(), nil
}

// Shutdown closes every alias. Operations fail with ErrShutdown afterwards.
func (o *ODM) Shutdown(ctx context.Context) error {
	err := o.registry.Close(ctx)
	if err != nil {
		o.logger.Errorf("shutdown finished with errors: %v", err)
		return err
	}
	o.logger.Info("shutdown complete")
	return nil
}
