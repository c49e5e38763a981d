package odm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/cache"
	"github.com/redbco/quickdb/pkg/condition"
	"github.com/redbco/quickdb/pkg/config"
	"github.com/redbco/quickdb/pkg/database"
	"github.com/redbco/quickdb/pkg/database/sqlite"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
	"github.com/redbco/quickdb/pkg/health"
	"github.com/redbco/quickdb/pkg/idgen"
	"github.com/redbco/quickdb/pkg/logger"
)

func memoryConfig(alias string) config.DatabaseConfig {
	d := config.DefaultDatabaseConfig()
	d.Alias = alias
	d.URL = "sqlite::memory:"
	d.Pool.MaxConnections = 2
	d.Pool.ConnectionTimeout = 5 * time.Second
	return d
}

func newODM(t *testing.T) *ODM {
	t.Helper()
	o := New(NewRegistry(database.DefaultRegistry(), logger.NewNop()), logger.NewNop())
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	return o
}

func TestUsersSequence(t *testing.T) {
	ctx := context.Background()
	o := newODM(t)
	require.NoError(t, o.AddDatabase(ctx, memoryConfig("t1")))

	id, err := o.Create(ctx, "users", adapter.Record{"name": "A", "age": 3})
	require.NoError(t, err)
	require.NotNil(t, id)

	rec, err := o.FindByID(ctx, "users", id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "A", rec["name"])
	assert.Equal(t, int64(3), rec["age"])

	n, err := o.Update(ctx, "users", adapter.Record{"id": id}, adapter.Record{"age": 4})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := o.Find(ctx, "users", adapter.Record{"age": 4}, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "A", found[0]["name"])

	n, err = o.Delete(ctx, "users", adapter.Record{"id": id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err = o.Find(ctx, "users", adapter.Record{"id": id}, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.NotNil(t, found)
}

func TestOperationsByID(t *testing.T) {
	ctx := context.Background()
	o := newODM(t)
	cfg := memoryConfig("main")
	cfg.IDStrategy = idgen.Strategy{Type: idgen.UUID}
	require.NoError(t, o.AddDatabase(ctx, cfg))

	id, err := o.Create(ctx, "notes", adapter.Record{"body": "first"})
	require.NoError(t, err)
	s, ok := id.(string)
	require.True(t, ok)
	assert.Len(t, s, 36)
	assert.True(t, idgen.Validate(cfg.IDStrategy, id))

	// A caller-supplied id is kept.
	own, err := o.Create(ctx, "notes", adapter.Record{"id": "00000000-0000-4000-8000-000000000001", "body": "second"})
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-4000-8000-000000000001", own)

	updated, err := o.UpdateByID(ctx, "notes", id, adapter.Record{"body": "edited"})
	require.NoError(t, err)
	assert.True(t, updated)

	rec, err := o.FindByID(ctx, "notes", id)
	require.NoError(t, err)
	assert.Equal(t, "edited", rec["body"])

	deleted, err := o.DeleteByID(ctx, "notes", id)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = o.DeleteByID(ctx, "notes", id)
	require.NoError(t, err)
	assert.False(t, deleted)

	rec, err = o.FindByID(ctx, "notes", id)
	require.NoError(t, err)
	assert.Nil(t, rec)

	updated, err = o.UpdateByID(ctx, "notes", id, adapter.Record{"body": "gone"})
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestBatchCreateCountExists(t *testing.T) {
	ctx := context.Background()
	o := newODM(t)
	require.NoError(t, o.AddDatabase(ctx, memoryConfig("main")))

	ids, err := o.BatchCreate(ctx, "items", []adapter.Record{
		{"sku": "a", "qty": 1},
		{"sku": "b", "qty": 5},
		{"sku": "c", "qty": 9},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	n, err := o.Count(ctx, "items", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = o.Count(ctx, "items", map[string]interface{}{"qty": map[string]interface{}{"gt": 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, err := o.Exists(ctx, "items", `{"field": "sku", "operator": "eq", "value": "b"}`)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = o.Exists(ctx, "items", condition.Leaf("sku", condition.Eq, "z"))
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := o.Find(ctx, "items", nil, &adapter.QueryOptions{
		Sort:  []adapter.SortField{{Field: "qty", Direction: adapter.Descending}},
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "c", found[0]["sku"])
	assert.Equal(t, "b", found[1]["sku"])
}

func TestInvalidConditionFailsBeforeDispatch(t *testing.T) {
	ctx := context.Background()
	o := newODM(t)
	require.NoError(t, o.AddDatabase(ctx, memoryConfig("main")))

	_, err := o.Find(ctx, "users", 42, nil)
	assert.True(t, condition.IsConditionError(err))

	_, err = o.Count(ctx, "users", `{"operator": "xor", "conditions": []}`)
	assert.True(t, condition.IsConditionError(err))

	stats, err := o.PoolStats("main")
	require.NoError(t, err)
	assert.Zero(t, stats.Submitted)
}

func TestWriteThenReadThroughCache(t *testing.T) {
	ctx := context.Background()
	o := newODM(t)
	cfg := memoryConfig("cached")
	cfg.Cache = &cache.Config{Enabled: true}
	require.NoError(t, o.AddDatabase(ctx, cfg))

	id, err := o.Create(ctx, "users", adapter.Record{"name": "A", "age": 3})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		found, err := o.Find(ctx, "users", adapter.Record{"name": "A"}, nil)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, int64(3), found[0]["age"])
	}
	stats, err := o.CacheStats("cached")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	_, err = o.Update(ctx, "users", adapter.Record{"id": id}, adapter.Record{"age": 4})
	require.NoError(t, err)

	found, err := o.Find(ctx, "users", adapter.Record{"name": "A"}, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(4), found[0]["age"])

	// An absent record is cached until a write to the collection.
	rec, err := o.FindByID(ctx, "users", int64(99))
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, err = o.Create(ctx, "users", adapter.Record{"id": int64(99), "name": "B", "age": 1})
	require.NoError(t, err)
	rec, err = o.FindByID(ctx, "users", int64(99))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "B", rec["name"])

	stats, err = o.CacheStats("cached")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Invalidations, int64(3))

	require.NoError(t, o.ClearCache(ctx, "cached"))
	stats, err = o.CacheStats("cached")
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}

// gatedAdapter parks the first request of kind after it has run, until
// release is closed.
type gatedAdapter struct {
	adapter.DatabaseAdapter
	kind    adapter.Kind
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedAdapter) open() {
	g.once.Do(func() { close(g.release) })
}

func newGatedAdapter(inner adapter.DatabaseAdapter, kind adapter.Kind) *gatedAdapter {
	g := &gatedAdapter{
		DatabaseAdapter: inner,
		kind:            kind,
		reached:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	g.armed.Store(true)
	return g
}

func (g *gatedAdapter) Execute(ctx context.Context, conn adapter.Connection, req *adapter.Request) (*adapter.Result, error) {
	res, err := g.DatabaseAdapter.Execute(ctx, conn, req)
	if req.Kind == g.kind && g.armed.CompareAndSwap(true, false) {
		close(g.reached)
		<-g.release
	}
	return res, err
}

func TestReadOverlappingWriteIsNotCached(t *testing.T) {
	ctx := context.Background()
	gate := newGatedAdapter(sqlite.NewAdapter(), adapter.KindFind)
	adapters := adapter.NewRegistry()
	adapters.Register(dbcapabilities.SQLite, func() adapter.DatabaseAdapter { return gate })

	o := New(NewRegistry(adapters, logger.NewNop()), logger.NewNop())
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	t.Cleanup(gate.open)
	cfg := memoryConfig("cached")
	cfg.Cache = &cache.Config{Enabled: true}
	require.NoError(t, o.AddDatabase(ctx, cfg))

	id, err := o.Create(ctx, "users", adapter.Record{"name": "A", "age": 3})
	require.NoError(t, err)

	type findResult struct {
		records []adapter.Record
		err     error
	}
	done := make(chan findResult, 1)
	go func() {
		records, err := o.Find(ctx, "users", adapter.Record{"name": "A"}, nil)
		done <- findResult{records, err}
	}()

	select {
	case <-gate.reached:
	case <-time.After(5 * time.Second):
		t.Fatal("find never reached the database")
	}

	// The find has read age 3 and is parked; this update runs on the
	// second connection and commits before the find returns.
	n, err := o.Update(ctx, "users", adapter.Record{"id": id}, adapter.Record{"age": 4})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	gate.open()

	first := <-done
	require.NoError(t, first.err)
	require.Len(t, first.records, 1)
	assert.Equal(t, int64(3), first.records[0]["age"])

	for i := 0; i < 2; i++ {
		found, err := o.Find(ctx, "users", adapter.Record{"name": "A"}, nil)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, int64(4), found[0]["age"])
	}
}

func TestCacheDisabled(t *testing.T) {
	ctx := context.Background()
	o := newODM(t)
	require.NoError(t, o.AddDatabase(ctx, memoryConfig("main")))

	_, err := o.CacheStats("main")
	assert.ErrorIs(t, err, ErrCacheDisabled)
	assert.ErrorIs(t, o.ClearCache(ctx, "main"), ErrCacheDisabled)
}

func TestRegisterModel(t *testing.T) {
	ctx := context.Background()
	o := newODM(t)
	require.NoError(t, o.AddDatabase(ctx, memoryConfig("main")))

	schema := adapter.NewSchema("accounts").
		Field("email", adapter.FieldString, adapter.Required(), adapter.Unique()).
		Field("plan", adapter.FieldString, adapter.Default("free"))
	require.NoError(t, o.RegisterModel(ctx, "main", schema))

	id, err := o.Create(ctx, "accounts", adapter.Record{"email": "a@example.com"})
	require.NoError(t, err)

	rec, err := o.FindByID(ctx, "accounts", id)
	require.NoError(t, err)
	assert.Equal(t, "free", rec["plan"])

	_, err = o.Create(ctx, "accounts", adapter.Record{"email": "a@example.com"})
	assert.True(t, adapter.IsConstraintViolation(err))

	assert.Error(t, o.RegisterModel(ctx, "main", adapter.NewSchema("bad name")))
	assert.ErrorIs(t, o.RegisterModel(ctx, "missing", schema), ErrAliasNotFound)
}

func TestAliases(t *testing.T) {
	ctx := context.Background()
	o := newODM(t)

	_, err := o.Count(ctx, "users", nil)
	assert.ErrorIs(t, err, ErrNoDefaultAlias)

	require.NoError(t, o.AddDatabase(ctx, memoryConfig("first")))
	require.NoError(t, o.AddDatabase(ctx, memoryConfig("second")))
	assert.ErrorIs(t, o.AddDatabase(ctx, memoryConfig("first")), ErrAliasExists)
	assert.Equal(t, []string{"first", "second"}, o.Aliases())
	assert.Equal(t, "first", o.DefaultAlias())

	_, err = o.Using("second").Create(ctx, "users", adapter.Record{"name": "A"})
	require.NoError(t, err)

	n, err := o.Count(ctx, "users", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, o.SetDefaultAlias("second"))
	n, err = o.Count(ctx, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, o.SetDefaultAlias("third"), ErrAliasNotFound)
	_, err = o.Using("third").Count(ctx, "users", nil)
	assert.ErrorIs(t, err, ErrAliasNotFound)

	require.NoError(t, o.RemoveDatabase(ctx, "second"))
	assert.Equal(t, "first", o.DefaultAlias())
	assert.ErrorIs(t, o.RemoveDatabase(ctx, "second"), ErrAliasNotFound)
}

func TestRemoveThenAddResetsPool(t *testing.T) {
	ctx := context.Background()
	o := newODM(t)
	require.NoError(t, o.AddDatabase(ctx, memoryConfig("main")))

	for i := 0; i < 5; i++ {
		_, err := o.Create(ctx, "users", adapter.Record{"n": i})
		require.NoError(t, err)
	}
	before, err := o.PoolStats("main")
	require.NoError(t, err)
	assert.Equal(t, int64(5), before.Completed)

	old, err := o.Registry().Get("main")
	require.NoError(t, err)
	require.NoError(t, o.RemoveDatabase(ctx, "main"))

	oldStats := old.pool.Stats()
	assert.Zero(t, oldStats.Size)
	assert.Equal(t, oldStats.Opened, oldStats.Closed)

	_, err = o.PoolStats("main")
	assert.ErrorIs(t, err, ErrAliasNotFound)

	require.NoError(t, o.AddDatabase(ctx, memoryConfig("main")))
	after, err := o.PoolStats("main")
	require.NoError(t, err)
	assert.Zero(t, after.Submitted)
	assert.Zero(t, after.Completed)

	// The new pool has its own in-memory database.
	n, err := o.Count(ctx, "users", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	o := newODM(t)
	require.NoError(t, o.AddDatabase(ctx, memoryConfig("a")))
	require.NoError(t, o.AddDatabase(ctx, memoryConfig("b")))

	report := o.HealthCheck(ctx)
	assert.Equal(t, health.StatusHealthy, report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "a", report.Checks[0].Name)

	require.NoError(t, o.RemoveDatabase(ctx, "b"))
	report = o.HealthCheck(ctx)
	assert.Len(t, report.Checks, 1)
}

func TestOpenFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Parse([]byte(`
default_alias: b
databases:
  - alias: a
    url: sqlite::memory:
  - alias: b
    url: sqlite::memory:
    cache: {}
`))
	require.NoError(t, err)

	o, err := Open(ctx, cfg, database.DefaultRegistry(), logger.NewNop())
	require.NoError(t, err)
	defer o.Shutdown(ctx)

	assert.Equal(t, []string{"a", "b"}, o.Aliases())
	assert.Equal(t, "b", o.DefaultAlias())
	_, err = o.CacheStats("b")
	assert.NoError(t, err)

	bad := &config.Config{Databases: []config.DatabaseConfig{memoryConfig("x"), {Alias: "y", Type: "oracle"}}}
	_, err = Open(ctx, bad, database.DefaultRegistry(), logger.NewNop())
	assert.Error(t, err)
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	o := newODM(t)
	require.NoError(t, o.AddDatabase(ctx, memoryConfig("main")))

	require.NoError(t, o.Shutdown(ctx))
	require.NoError(t, o.Shutdown(ctx))

	_, err := o.Count(ctx, "users", nil)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, o.AddDatabase(ctx, memoryConfig("other")), ErrShutdown)
	assert.Empty(t, o.Aliases())
}

func TestRegistriesKeepSeparateMetrics(t *testing.T) {
	ctx := context.Background()
	open := func(reg prometheus.Registerer) *ODM {
		o := New(NewRegistry(database.DefaultRegistry(), logger.NewNop(), WithRegisterer(reg)), logger.NewNop())
		t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
		cfg := memoryConfig("main")
		cfg.Cache = &cache.Config{Enabled: true}
		require.NoError(t, o.AddDatabase(ctx, cfg))
		_, err := o.Count(ctx, "users", nil)
		require.NoError(t, err)
		return o
	}
	count := func(reg prometheus.Gatherer, name string) int {
		n, err := testutil.GatherAndCount(reg, name)
		require.NoError(t, err)
		return n
	}

	regA, regB := prometheus.NewRegistry(), prometheus.NewRegistry()
	a := open(regA)
	open(regB)
	assert.Equal(t, 1, count(regA, "quickdb_pool_connections"))

	require.NoError(t, a.RemoveDatabase(ctx, "main"))
	assert.Equal(t, 0, count(regA, "quickdb_pool_connections"))
	assert.Equal(t, 0, count(regA, "quickdb_cache_misses_total"))
	assert.Equal(t, 1, count(regB, "quickdb_pool_connections"))
	assert.Equal(t, 1, count(regB, "quickdb_cache_misses_total"))
}
