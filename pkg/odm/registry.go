package odm

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/config"
	"github.com/redbco/quickdb/pkg/logger"
)

// Registry maps aliases to open databases. The first alias added becomes
// the default until SetDefault picks another.
type Registry struct {
	adapters   *adapter.Registry
	logger     *logger.Logger
	registerer prometheus.Registerer

	mu           sync.RWMutex
	databases    map[string]*Database
	order        []string
	defaultAlias string
	closed       bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegisterer exports the pool and cache metrics of every alias through
// reg. Registries sharing a registerer share the series of equal aliases;
// give independent registries their own registerer, or nil to keep metrics
// private.
func WithRegisterer(reg prometheus.Registerer) RegistryOption {
	return func(r *Registry) {
		r.registerer = reg
	}
}

// NewRegistry creates an empty registry that builds adapters from adapters.
// Metrics go to prometheus.DefaultRegisterer unless WithRegisterer is given.
func NewRegistry(adapters *adapter.Registry, log *logger.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Registry{
		adapters:   adapters,
		logger:     log,
		registerer: prometheus.DefaultRegisterer,
		databases:  make(map[string]*Database),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add opens the pool (and cache) for cfg and registers it under its alias.
func (r *Registry) Add(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	r.mu.RLock()
	closed := r.closed
	_, exists := r.databases[cfg.Alias]
	r.mu.RUnlock()
	if closed {
		return nil, ErrShutdown
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAliasExists, cfg.Alias)
	}

	db, err := openDatabase(ctx, r.adapters, r.registerer, cfg, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed || r.databases[cfg.Alias] != nil {
		closed := r.closed
		r.mu.Unlock()
		_ = db.close(ctx)
		if closed {
			return nil, ErrShutdown
		}
		return nil, fmt.Errorf("%w: %s", ErrAliasExists, cfg.Alias)
	}
	r.databases[cfg.Alias] = db
	r.order = append(r.order, cfg.Alias)
	if r.defaultAlias == "" {
		r.defaultAlias = cfg.Alias
	}
	r.mu.Unlock()
	return db, nil
}

// Remove unregisters alias and closes its pool and cache. When the default
// alias is removed the next registered alias, if any, becomes the default.
func (r *Registry) Remove(ctx context.Context, alias string) error {
	r.mu.Lock()
	db, ok := r.databases[alias]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAliasNotFound, alias)
	}
	delete(r.databases, alias)
	for i, a := range r.order {
		if a == alias {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.defaultAlias == alias {
		r.defaultAlias = ""
		if len(r.order) > 0 {
			r.defaultAlias = r.order[0]
		}
	}
	r.mu.Unlock()

	r.logger.Infof("removing database %s", alias)
	return db.close(ctx)
}

// Get returns the database for alias, or the default one when alias is
// empty.
func (r *Registry) Get(alias string) (*Database, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrShutdown
	}
	if alias == "" {
		if r.defaultAlias == "" {
			return nil, ErrNoDefaultAlias
		}
		alias = r.defaultAlias
	}
	db, ok := r.databases[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAliasNotFound, alias)
	}
	return db, nil
}

// Aliases returns the registered aliases in registration order.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Default returns the default alias, or "" when nothing is registered.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultAlias
}

// SetDefault makes alias the default.
func (r *Registry) SetDefault(alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.databases[alias]; !ok {
		return fmt.Errorf("%w: %s", ErrAliasNotFound, alias)
	}
	r.defaultAlias = alias
	return nil
}

// databasesInOrder snapshots the open databases.
func (r *Registry) databasesInOrder() []*Database {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Database, 0, len(r.order))
	for _, alias := range r.order {
		out = append(out, r.databases[alias])
	}
	return out
}

// Close closes every database and refuses further use. Errors from all
// aliases are collected.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	dbs := make([]*Database, 0, len(r.order))
	for _, alias := range r.order {
		dbs = append(dbs, r.databases[alias])
	}
	r.databases = make(map[string]*Database)
	r.order = nil
	r.defaultAlias = ""
	r.mu.Unlock()

	var g multierror.Group
	for _, db := range dbs {
		g.Go(func() error {
			return db.close(ctx)
		})
	}
	return g.Wait().ErrorOrNil()
}
