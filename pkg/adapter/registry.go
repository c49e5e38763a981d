package adapter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

// Registry maps database types to adapter factories. There is no package
// level instance; callers build one and pass it where it is needed.
type Registry struct {
	factories map[dbcapabilities.DatabaseType]Factory
	mu        sync.RWMutex
}

// NewRegistry creates a new adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[dbcapabilities.DatabaseType]Factory),
	}
}

// Register registers a factory for dbType.
// If a factory for the same database type is already registered, it will be replaced.
func (r *Registry) Register(dbType dbcapabilities.DatabaseType, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[dbType] = factory
}

// New creates a fresh adapter for dbType.
// Returns ErrAdapterNotFound if no factory is registered.
func (r *Registry) New(dbType dbcapabilities.DatabaseType) (DatabaseAdapter, error) {
	r.mu.RLock()
	factory, exists := r.factories[dbType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, dbType)
	}
	return factory(), nil
}

// NewByName creates an adapter from a database name or alias.
func (r *Registry) NewByName(name string) (DatabaseAdapter, error) {
	dbType, ok := dbcapabilities.ParseID(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown database type '%s'", ErrAdapterNotFound, name)
	}

	return r.New(dbType)
}

// IsRegistered checks if a factory is registered for the given database type.
func (r *Registry) IsRegistered(dbType dbcapabilities.DatabaseType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[dbType]
	return exists
}

// ListRegistered returns the registered database types in sorted order.
func (r *Registry) ListRegistered() []dbcapabilities.DatabaseType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]dbcapabilities.DatabaseType, 0, len(r.factories))
	for dbType := range r.factories {
		types = append(types, dbType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// Unregister removes a factory from the registry.
func (r *Registry) Unregister(dbType dbcapabilities.DatabaseType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.factories, dbType)
}
