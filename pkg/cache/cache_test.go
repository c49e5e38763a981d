package cache

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/condition"
)

type fakeProvider struct {
	mu     sync.Mutex
	data   map[string][]byte
	fail   bool
	closed bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{data: make(map[string][]byte)}
}

func (p *fakeProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, false, errors.New("connection refused")
	}
	v, ok := p.data[key]
	return v, ok, nil
}

func (p *fakeProvider) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("connection refused")
	}
	p.data[key] = value
	return nil
}

func (p *fakeProvider) DeletePrefix(_ context.Context, prefix string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("connection refused")
	}
	for k := range p.data {
		if strings.HasPrefix(k, prefix) {
			delete(p.data, k)
		}
	}
	return nil
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func findRequest(collection string, cond interface{}) *adapter.Request {
	return &adapter.Request{
		Kind:       adapter.KindFind,
		Alias:      "main",
		Collection: collection,
		Condition:  condition.MustNormalize(cond),
	}
}

func TestKeyIsDeterministic(t *testing.T) {
	flat := findRequest("users", map[string]interface{}{"name": "ann", "age": 3})
	list := findRequest("users", `[{"field":"age","operator":"eq","value":3},{"field":"name","operator":"eq","value":"ann"}]`)

	k1 := Key("quickdb", "main", flat, 1)
	k2 := Key("quickdb", "main", list, 1)
	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "quickdb:main:users:find:"))
	assert.Len(t, strings.TrimPrefix(k1, "quickdb:main:users:find:"), 32)

	assert.NotEqual(t, k1, Key("quickdb", "main", flat, 2), "schema version is part of the key")
	assert.NotEqual(t, k1, Key("quickdb", "other", flat, 1))

	limited := findRequest("users", map[string]interface{}{"name": "ann", "age": 3})
	limited.Options = &adapter.QueryOptions{Limit: 5}
	assert.NotEqual(t, k1, Key("quickdb", "main", limited, 1))

	byInt := &adapter.Request{Kind: adapter.KindFindByID, Collection: "users", ID: 7}
	byInt64 := &adapter.Request{Kind: adapter.KindFindByID, Collection: "users", ID: int64(7)}
	byString := &adapter.Request{Kind: adapter.KindFindByID, Collection: "users", ID: "7"}
	assert.Equal(t, Key("q", "main", byInt, 0), Key("q", "main", byInt64, 0))
	assert.NotEqual(t, Key("q", "main", byInt, 0), Key("q", "main", byString, 0))
}

func TestCollectionPrefixDoesNotOverlap(t *testing.T) {
	users := CollectionPrefix("quickdb", "main", "users")
	user := CollectionPrefix("quickdb", "main", "user")
	assert.False(t, strings.HasPrefix(users, user))
}

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	c, err := New("main", Config{Enabled: true}, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	req := findRequest("users", map[string]interface{}{"active": true})
	orders := findRequest("orders", map[string]interface{}{"paid": true})

	_, ok := c.Get(ctx, req, 0)
	assert.False(t, ok)

	created := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)
	c.Set(ctx, req, 0, &adapter.Result{Records: []adapter.Record{
		{"id": int64(1), "name": "ann", "score": 9.5, "created": created},
	}}, 0)
	c.Set(ctx, orders, 0, &adapter.Result{Records: []adapter.Record{}}, 0)

	got, ok := c.Get(ctx, req, 0)
	require.True(t, ok)
	require.Len(t, got.Records, 1)
	assert.Equal(t, int64(1), got.Records[0]["id"])
	assert.Equal(t, "ann", got.Records[0]["name"])
	assert.Equal(t, 9.5, got.Records[0]["score"])
	gotCreated, ok := got.Records[0]["created"].(time.Time)
	require.True(t, ok)
	assert.True(t, created.Equal(gotCreated))

	c.InvalidateCollection(ctx, "users")
	_, ok = c.Get(ctx, req, 0)
	assert.False(t, ok)

	_, ok = c.Get(ctx, orders, 0)
	assert.True(t, ok, "other collections survive an invalidation")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(1), stats.Invalidations)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
}

// slowProvider calls during after storing each value.
type slowProvider struct {
	*fakeProvider
	during func()
}

func (p *slowProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := p.fakeProvider.Set(ctx, key, value, ttl)
	if p.during != nil {
		p.during()
	}
	return err
}

func TestSetAtDropsResultsReadBeforeInvalidation(t *testing.T) {
	ctx := context.Background()
	stale := &adapter.Result{Records: []adapter.Record{{"id": int64(1), "age": int64(3)}}}

	t.Run("invalidated before set", func(t *testing.T) {
		c, err := New("main", Config{Enabled: true}, nil, nil)
		require.NoError(t, err)
		defer c.Close()

		req := findRequest("users", map[string]interface{}{"id": 1})
		gen := c.Generation("users")
		c.InvalidateCollection(ctx, "users")

		assert.False(t, c.SetAt(ctx, req, 0, gen, stale, 0))
		_, ok := c.Get(ctx, req, 0)
		assert.False(t, ok)

		assert.True(t, c.SetAt(ctx, req, 0, c.Generation("users"), stale, 0))
		_, ok = c.Get(ctx, req, 0)
		assert.True(t, ok)
	})

	t.Run("other collections are unaffected", func(t *testing.T) {
		c, err := New("main", Config{Enabled: true}, nil, nil)
		require.NoError(t, err)
		defer c.Close()

		gen := c.Generation("orders")
		c.InvalidateCollection(ctx, "users")
		assert.True(t, c.SetAt(ctx, findRequest("orders", map[string]interface{}{"paid": true}), 0, gen, stale, 0))
	})

	t.Run("clear advances every collection", func(t *testing.T) {
		c, err := New("main", Config{Enabled: true}, nil, nil)
		require.NoError(t, err)
		defer c.Close()

		gen := c.Generation("users")
		require.NoError(t, c.Clear(ctx))
		assert.False(t, c.SetAt(ctx, findRequest("users", nil), 0, gen, stale, 0))
	})

	t.Run("invalidated while the entry is written", func(t *testing.T) {
		p := &slowProvider{fakeProvider: newFakeProvider()}
		c, err := New("main", Config{Enabled: true}, p, nil)
		require.NoError(t, err)
		defer c.Close()
		p.during = func() { c.InvalidateCollection(ctx, "users") }

		req := findRequest("users", map[string]interface{}{"id": 1})
		assert.False(t, c.SetAt(ctx, req, 0, c.Generation("users"), stale, 0))
		p.during = nil

		_, ok := c.Get(ctx, req, 0)
		assert.False(t, ok)
		p.mu.Lock()
		assert.Empty(t, p.data)
		p.mu.Unlock()
	})
}

func TestMetricsPerRegisterer(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	first, err := New("main", Config{Enabled: true}, nil, nil, WithRegisterer(reg))
	require.NoError(t, err)
	second, err := New("main", Config{Enabled: true}, nil, nil, WithRegisterer(reg))
	require.NoError(t, err)
	private, err := New("main", Config{Enabled: true}, nil, nil, WithRegisterer(nil))
	require.NoError(t, err)
	defer private.Close()

	_, ok := first.Get(ctx, findRequest("users", nil), 0)
	require.False(t, ok)
	_, ok = private.Get(ctx, findRequest("users", nil), 0)
	require.False(t, ok)

	count := func() int {
		n, err := testutil.GatherAndCount(reg, "quickdb_cache_misses_total")
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 1, count())
	assert.Equal(t, float64(1), testutil.ToFloat64(first.metrics.misses.WithLabelValues("main")))

	require.NoError(t, first.Close())
	assert.Equal(t, 1, count(), "series stay while another cache uses the alias")
	require.NoError(t, second.Close())
	assert.Equal(t, 0, count())
	assert.Equal(t, 1, testutil.CollectAndCount(private.metrics.misses))
}

func TestAbsentRecordIsCached(t *testing.T) {
	ctx := context.Background()
	c, err := New("main", Config{Enabled: true}, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	req := &adapter.Request{Kind: adapter.KindFindByID, Collection: "users", ID: int64(42)}
	c.Set(ctx, req, 0, &adapter.Result{}, 0)

	got, ok := c.Get(ctx, req, 0)
	require.True(t, ok)
	assert.Nil(t, got.Record)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	c, err := New("main", Config{Enabled: true}, p, nil)
	require.NoError(t, err)

	c.Set(ctx, findRequest("users", nil), 0, &adapter.Result{Count: 1}, 0)
	c.Set(ctx, findRequest("orders", nil), 0, &adapter.Result{Count: 2}, 0)
	require.Len(t, c.Keys(), 2)

	require.NoError(t, c.Clear(ctx))
	assert.Empty(t, c.Keys())
	assert.Empty(t, p.data)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, p.closed)
}

func TestSecondTier(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()

	writer, err := New("main", Config{Enabled: true}, p, nil)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := New("main", Config{Enabled: true}, p, nil)
	require.NoError(t, err)
	defer reader.Close()

	req := &adapter.Request{Kind: adapter.KindCount, Collection: "users"}
	writer.Set(ctx, req, 0, &adapter.Result{Count: 3}, 0)

	got, ok := reader.Get(ctx, req, 0)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Count)
	assert.Equal(t, int64(1), reader.Stats().L2Hits)

	_, ok = reader.Get(ctx, req, 0)
	require.True(t, ok)
	assert.Equal(t, int64(1), reader.Stats().L2Hits, "the second read is served by the promoted L1 entry")
	assert.Equal(t, int64(2), reader.Stats().Hits)

	writer.InvalidateCollection(ctx, "users")
	assert.Empty(t, p.data)
}

func TestSecondTierFailureIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	p.fail = true

	c, err := New("main", Config{Enabled: true}, p, nil)
	require.NoError(t, err)
	defer c.Close()

	req := &adapter.Request{Kind: adapter.KindExists, Collection: "users"}
	_, ok := c.Get(ctx, req, 0)
	assert.False(t, ok)

	c.Set(ctx, req, 0, &adapter.Result{Exists: true}, 0)
	got, ok := c.Get(ctx, req, 0)
	require.True(t, ok, "L1 keeps working when L2 is down")
	assert.True(t, got.Exists)

	c.InvalidateCollection(ctx, "users")
	assert.Equal(t, int64(3), c.Stats().Errors)

	err = c.Clear(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
}

func TestEvictionStrategies(t *testing.T) {
	tests := []struct {
		strategy Strategy
		evicted  string
	}{
		{strategy: StrategyLRU, evicted: "b"},
		{strategy: StrategyFIFO, evicted: "a"},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			var reasons []string
			m, err := newMemoryCache(Config{Strategy: tt.strategy, Capacity: 2}.WithDefaults(), func(r string) {
				reasons = append(reasons, r)
			})
			require.NoError(t, err)

			m.set("a", []byte("1"), time.Minute)
			m.set("b", []byte("2"), time.Minute)
			_, ok, _ := m.get("a")
			require.True(t, ok)
			m.set("c", []byte("3"), time.Minute)

			_, ok, _ = m.get(tt.evicted)
			assert.False(t, ok)
			assert.Equal(t, []string{reasonCapacity}, reasons)
			entries, _ := m.usage()
			assert.Equal(t, 2, entries)
		})
	}
}

func TestMemoryBound(t *testing.T) {
	var reasons []string
	m, err := newMemoryCache(Config{Capacity: 100, MaxMemoryBytes: 20}.WithDefaults(), func(r string) {
		reasons = append(reasons, r)
	})
	require.NoError(t, err)

	m.set("k1", []byte("12345678"), time.Minute)
	m.set("k2", []byte("12345678"), time.Minute)
	entries, bytes := m.usage()
	assert.Equal(t, 2, entries)
	assert.Equal(t, int64(20), bytes)

	m.set("k3", []byte("12345678"), time.Minute)
	_, ok, _ := m.get("k1")
	assert.False(t, ok)
	entries, bytes = m.usage()
	assert.Equal(t, 2, entries)
	assert.Equal(t, int64(20), bytes)
	assert.Equal(t, []string{reasonMemory}, reasons)

	m.set("big", make([]byte, 40), time.Minute)
	_, ok, _ = m.get("big")
	assert.False(t, ok, "an entry larger than the bound is not stored")

	m.set("k2", []byte("1234"), time.Minute)
	_, bytes = m.usage()
	assert.Equal(t, int64(16), bytes, "replacing an entry releases its old size")
}

func TestExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	expired := 0
	m, err := newMemoryCache(Config{}.WithDefaults(), func(r string) {
		if r == reasonExpired {
			expired++
		}
	})
	require.NoError(t, err)
	m.now = func() time.Time { return now }

	m.set("short", []byte("x"), time.Minute)
	m.set("long", []byte("y"), time.Hour)
	m.set("other", []byte("z"), time.Minute)

	now = now.Add(2 * time.Minute)
	_, ok, wasExpired := m.get("short")
	assert.False(t, ok)
	assert.True(t, wasExpired)

	assert.Equal(t, 1, m.sweep())
	assert.Equal(t, []string{"long"}, m.keys())
	assert.Equal(t, 2, expired)
}

func TestConfig(t *testing.T) {
	cfg := Config{}.WithDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StrategyLRU, cfg.Strategy)
	assert.Equal(t, DefaultCapacity, cfg.Capacity)
	assert.Equal(t, int64(DefaultMaxMemoryBytes), cfg.MaxMemoryBytes)
	assert.Equal(t, DefaultCompressionThreshold, cfg.L2.CompressionThreshold)

	assert.Equal(t, time.Hour, cfg.ttl(0))
	assert.Equal(t, time.Minute, cfg.ttl(time.Minute))
	assert.Equal(t, 24*time.Hour, cfg.ttl(48*time.Hour))

	bad := Config{Strategy: "lfu"}.WithDefaults()
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = Config{DefaultTTL: 2 * time.Hour, MaxTTL: time.Hour}.WithDefaults()
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	_, err := New("main", Config{Strategy: "random"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCodec(t *testing.T) {
	res := &adapter.Result{
		Record: adapter.Record{
			"id":    "65f0c0ffee00000000000001",
			"blob":  []byte{0, 1, 2},
			"tags":  []interface{}{"a", int64(2)},
			"attrs": map[string]interface{}{"depth": int64(3), "ratio": 0.25},
			"none":  nil,
		},
		IDs: []interface{}{int64(1), "two"},
	}
	data, err := Encode(res)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, res.Record, got.Record)
	assert.Equal(t, res.IDs, got.IDs)

	_, err = Decode([]byte("{"))
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestFrame(t *testing.T) {
	small := []byte(`{"count":1}`)
	framed := frame(small, true, 64)
	assert.Equal(t, frameRaw, framed[0])
	out, err := unframe(framed)
	require.NoError(t, err)
	assert.Equal(t, small, out)

	large := []byte(strings.Repeat(`{"name":"ann","active":true},`, 100))
	framed = frame(large, true, 64)
	assert.Equal(t, frameZstd, framed[0])
	assert.Less(t, len(framed), len(large))
	out, err = unframe(framed)
	require.NoError(t, err)
	assert.Equal(t, large, out)

	assert.Equal(t, frameRaw, frame(large, false, 64)[0])

	_, err = unframe(nil)
	assert.Error(t, err)
	_, err = unframe([]byte{9, 1})
	assert.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `quickdb:main:users:`, escapeGlob("quickdb:main:users:"))
	assert.Equal(t, `quickdb:a\*b\?:c\[1\]:`, escapeGlob("quickdb:a*b?:c[1]:"))
}

func TestRedisProvider(t *testing.T) {
	url := os.Getenv("QUICKDB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("QUICKDB_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	ctx := context.Background()
	p := NewRedisProvider(redis.NewClient(opts), L2Config{Compression: true, CompressionThreshold: 16})
	defer p.Close()

	prefix := "quickdb-test:" + t.Name() + ":"
	value := []byte(strings.Repeat("payload-", 20))
	require.NoError(t, p.Set(ctx, prefix+"a", value, time.Minute))
	require.NoError(t, p.Set(ctx, prefix+"b", []byte("x"), time.Minute))

	got, ok, err := p.Get(ctx, prefix+"a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, got)

	require.NoError(t, p.DeletePrefix(ctx, prefix))
	_, ok, err = p.Get(ctx, prefix+"b")
	require.NoError(t, err)
	assert.False(t, ok)
}
