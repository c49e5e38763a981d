package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/condition"
	"github.com/redbco/quickdb/pkg/dbcapabilities"
)

type fakeAdapter struct {
	opened   atomic.Int64
	closed   atomic.Int64
	live     atomic.Int64
	ensured  atomic.Int64
	executed atomic.Int64
	failDial atomic.Bool
	release  chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{release: make(chan struct{})}
}

func (a *fakeAdapter) Type() dbcapabilities.DatabaseType { return dbcapabilities.SQLite }

func (a *fakeAdapter) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.SQLite)
}

func (a *fakeAdapter) Connect(_ context.Context, _ adapter.ConnectionConfig) (adapter.Connection, error) {
	if a.failDial.Load() {
		return nil, adapter.NewConnectionError(dbcapabilities.SQLite, "fake", 0, errors.New("connection refused"))
	}
	c := &fakeConn{id: fmt.Sprintf("fake-%d", a.opened.Add(1)), adapter: a}
	c.connected.Store(true)
	a.live.Add(1)
	return c, nil
}

func (a *fakeAdapter) Execute(ctx context.Context, conn adapter.Connection, req *adapter.Request) (*adapter.Result, error) {
	switch req.Collection {
	case "slow":
		select {
		case <-a.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case "boom":
		panic("boom")
	case "broken":
		conn.(*fakeConn).connected.Store(false)
		return nil, adapter.NewConnectionError(dbcapabilities.SQLite, "fake", 0, errors.New("reset by peer"))
	case "invalid":
		return nil, adapter.NewQueryError(dbcapabilities.SQLite, "count", errors.New("syntax error"))
	}
	return &adapter.Result{Count: a.executed.Add(1)}, nil
}

func (a *fakeAdapter) Translate(*condition.Node) (interface{}, error) { return nil, nil }

func (a *fakeAdapter) EnsureSchema(context.Context, adapter.Connection, *adapter.Schema) error {
	a.ensured.Add(1)
	return nil
}

type fakeConn struct {
	id        string
	adapter   *fakeAdapter
	connected atomic.Bool
	closeOnce sync.Once
}

func (c *fakeConn) ID() string                        { return c.id }
func (c *fakeConn) Type() dbcapabilities.DatabaseType { return dbcapabilities.SQLite }
func (c *fakeConn) IsConnected() bool                 { return c.connected.Load() }
func (c *fakeConn) Raw() interface{}                  { return nil }

func (c *fakeConn) Ping(context.Context) error {
	if !c.connected.Load() {
		return adapter.NewConnectionError(dbcapabilities.SQLite, "fake", 0, adapter.ErrConnectionClosed)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.adapter.live.Add(-1)
		c.adapter.closed.Add(1)
	})
	return nil
}

func count(collection string) *adapter.Request {
	return &adapter.Request{Kind: adapter.KindCount, Collection: collection}
}

func newTestPool(t *testing.T, a *fakeAdapter, cfg Config) *Pool {
	t.Helper()
	p, err := New("test", a, adapter.ConnectionConfig{}, cfg, nil)
	require.NoError(t, err)
	return p
}

func TestQueue(t *testing.T) {
	q := NewQueue[int]()
	_, ok := q.Dequeue()
	assert.False(t, ok)

	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	assert.Equal(t, 5, q.Len())
	for i := 0; i < 5; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueReleasesDequeuedItems(t *testing.T) {
	q := NewQueue[*pending]()
	item := &pending{}
	q.Enqueue(item)
	q.Enqueue(&pending{})

	v, ok := q.Dequeue()
	require.True(t, ok)
	assert.Same(t, item, v)
	assert.Nil(t, q.head.Load().value, "the sentinel must not keep the dequeued item")

	_, ok = q.Dequeue()
	require.True(t, ok)
	assert.Nil(t, q.head.Load().value)
	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestQueueConcurrent(t *testing.T) {
	const producers, perProducer, consumers = 8, 1000, 4
	q := NewQueue[int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(p*perProducer + i)
			}
		}()
	}

	var received atomic.Int64
	seen := make([][]int, consumers)
	var cwg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for received.Load() < producers*perProducer {
				if v, ok := q.Dequeue(); ok {
					seen[c] = append(seen[c], v)
					received.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	cwg.Wait()

	all := make(map[int]bool, producers*perProducer)
	for _, values := range seen {
		last := make(map[int]int)
		for _, v := range values {
			require.False(t, all[v], "value %d dequeued twice", v)
			all[v] = true
			// A single consumer sees each producer's items in order.
			producer := v / perProducer
			if prev, ok := last[producer]; ok {
				assert.Greater(t, v, prev)
			}
			last[producer] = v
		}
	}
	assert.Len(t, all, producers*perProducer)
	assert.Equal(t, 0, q.Len())
}

func TestFuture(t *testing.T) {
	f := newFuture()
	assert.True(t, f.resolve(&adapter.Result{Count: 1}, nil))
	assert.False(t, f.resolve(nil, errors.New("late")))

	res, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)

	pendingFuture := newFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pendingFuture.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig(t *testing.T) {
	cfg := Config{}.WithDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.MaxConnections)
	assert.Equal(t, 0, cfg.MinConnections)
	assert.Equal(t, 30*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.ReconnectTimeout)

	assert.Equal(t, time.Second, defaultSweepInterval(time.Second, time.Hour))
	assert.Equal(t, 30*time.Second, defaultSweepInterval(0, time.Minute))

	bad := Config{MinConnections: 5, MaxConnections: 2}.WithDefaults()
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	_, err := New("test", newFakeAdapter(), adapter.ConnectionConfig{}, Config{MinConnections: -1}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSubmit(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{MinConnections: 1, MaxConnections: 2})
	require.NoError(t, p.Start(context.Background()))

	futures := make([]*Future, 20)
	for i := range futures {
		futures[i] = p.Submit(context.Background(), count("items"))
	}
	for _, f := range futures {
		res, err := f.Wait()
		require.NoError(t, err)
		assert.Positive(t, res.Count)
	}

	stats := p.Stats()
	assert.Equal(t, int64(20), stats.Submitted)
	assert.Equal(t, int64(20), stats.Completed)
	assert.LessOrEqual(t, stats.Size, 2)
	assert.LessOrEqual(t, a.opened.Load(), int64(2))

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, int64(0), a.live.Load())
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	p := newTestPool(t, newFakeAdapter(), Config{MaxConnections: 1})
	defer p.Close(context.Background())

	f := p.Submit(context.Background(), &adapter.Request{Kind: adapter.KindCreate, Collection: "items"})
	select {
	case <-f.Done():
	default:
		t.Fatal("invalid request was queued")
	}
	_, err := f.Wait()
	assert.ErrorIs(t, err, adapter.ErrInvalidQuery)
	assert.Equal(t, int64(0), p.Stats().Submitted)
}

func TestAdapterErrorsDoNotStopTheWorker(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{MaxConnections: 1})
	defer p.Close(context.Background())

	_, err := p.Do(context.Background(), count("invalid"))
	var qerr *adapter.QueryError
	require.ErrorAs(t, err, &qerr)

	_, err = p.Do(context.Background(), count("items"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.opened.Load())
	assert.Equal(t, int64(0), p.Stats().Replaced)
}

func TestAcquisitionTimeout(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{MaxConnections: 1, ConnectionTimeout: 100 * time.Millisecond})
	defer p.Close(context.Background())

	first := p.Submit(context.Background(), count("slow"))
	require.Eventually(t, func() bool { return p.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	_, err := p.Submit(context.Background(), count("items")).Wait()
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	var perr *PoolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, Timeout, perr.Kind)
	assert.Equal(t, "test", perr.Alias)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	close(a.release)
	_, err = first.Wait()
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Timeouts)
	assert.Equal(t, 1, stats.Size, "the pool never grows past its maximum")
}

func TestTimeoutCarriesLastDialError(t *testing.T) {
	a := newFakeAdapter()
	a.failDial.Store(true)
	p := newTestPool(t, a, Config{MaxConnections: 1, ConnectionTimeout: 50 * time.Millisecond})
	defer p.Close(context.Background())

	_, err := p.Do(context.Background(), count("items"))
	assert.True(t, IsTimeout(err))
	assert.True(t, adapter.IsConnectionError(err))
}

func TestPanicIsRecovered(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{MaxConnections: 1})
	defer p.Close(context.Background())

	_, err := p.Do(context.Background(), count("boom"))
	var qerr *adapter.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Contains(t, err.Error(), "boom")

	_, err = p.Do(context.Background(), count("items"))
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Panics)
	assert.Equal(t, int64(1), stats.Replaced)
	assert.Equal(t, int64(1), a.live.Load())
}

func TestBrokenConnectionIsReplaced(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{MaxConnections: 1})
	defer p.Close(context.Background())

	_, err := p.Do(context.Background(), count("broken"))
	assert.True(t, adapter.IsConnectionError(err))

	_, err = p.Do(context.Background(), count("items"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), a.opened.Load())
	assert.Equal(t, int64(1), a.live.Load())
	assert.Equal(t, int64(1), p.Stats().Replaced)
}

func TestPingAndEnsureSchema(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{MaxConnections: 1})
	defer p.Close(context.Background())

	_, err := p.Do(context.Background(), &adapter.Request{Kind: adapter.KindPing})
	require.NoError(t, err)

	schema := adapter.NewSchema("items").Field("name", adapter.FieldString)
	for i := 0; i < 3; i++ {
		_, err = p.Do(context.Background(), &adapter.Request{
			Kind:       adapter.KindCreate,
			Collection: "items",
			Record:     adapter.Record{"name": "a"},
			Schema:     schema,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), a.ensured.Load(), "creates ensure a schema once")

	_, err = p.Do(context.Background(), &adapter.Request{Kind: adapter.KindEnsureSchema, Schema: schema})
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.ensured.Load(), "explicit registration always runs")
}

func TestStart(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{MinConnections: 3, MaxConnections: 5})
	require.NoError(t, p.Start(context.Background()))

	stats := p.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, int64(3), stats.Opened)
	assert.Equal(t, int64(3), a.live.Load())

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, int64(0), a.live.Load())
	assert.Equal(t, 0, p.Stats().Size)

	failing := newFakeAdapter()
	failing.failDial.Store(true)
	p = newTestPool(t, failing, Config{MinConnections: 2, MaxConnections: 2})
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, adapter.IsConnectionError(err))
	assert.Equal(t, int64(0), failing.live.Load())
	require.NoError(t, p.Close(context.Background()))
}

func TestCloseDrainsQueue(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{MaxConnections: 1})

	slow := p.Submit(context.Background(), count("slow"))
	require.Eventually(t, func() bool { return p.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)
	queued := []*Future{
		p.Submit(context.Background(), count("items")),
		p.Submit(context.Background(), count("items")),
		p.Submit(context.Background(), count("items")),
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(a.release)
	}()
	require.NoError(t, p.Close(context.Background()))

	_, err := slow.Wait()
	require.NoError(t, err)
	for _, f := range queued {
		_, err := f.Wait()
		require.NoError(t, err)
	}

	_, err = p.Submit(context.Background(), count("items")).Wait()
	assert.True(t, IsExhausted(err))
	assert.NoError(t, p.Close(context.Background()))
	assert.True(t, p.IsClosed())
	assert.Equal(t, int64(0), a.live.Load())
}

func TestForcedClose(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{MaxConnections: 1})

	slow := p.Submit(context.Background(), count("slow"))
	require.Eventually(t, func() bool { return p.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)
	queued := p.Submit(context.Background(), count("items"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = slow.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	_, err = queued.Wait()
	assert.True(t, IsExhausted(err))
	assert.Equal(t, int64(0), a.live.Load())
}

func TestCancelledCallerIsSkipped(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{MaxConnections: 1})
	defer p.Close(context.Background())

	slow := p.Submit(context.Background(), count("slow"))
	require.Eventually(t, func() bool { return p.Stats().Busy == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := p.Submit(ctx, count("items"))
	cancel()
	_, err := abandoned.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(a.release)
	_, err = slow.Wait()
	require.NoError(t, err)
	_, err = abandoned.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), a.executed.Load(), "only the slow request reached the adapter")
}

func TestSweepShrinksToMinimum(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{
		MinConnections: 1,
		MaxConnections: 3,
		IdleTimeout:    30 * time.Millisecond,
		SweepInterval:  20 * time.Millisecond,
	})
	require.NoError(t, p.Start(context.Background()))
	defer p.Close(context.Background())

	futures := make([]*Future, 3)
	for i := range futures {
		futures[i] = p.Submit(context.Background(), count("slow"))
	}
	require.Eventually(t, func() bool { return p.Stats().Busy == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, p.Stats().Size)

	close(a.release)
	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return p.Stats().Size == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, a.closed.Load(), int64(2))
}

func TestSweepRestoresMinimum(t *testing.T) {
	a := newFakeAdapter()
	p := newTestPool(t, a, Config{
		MinConnections:   2,
		MaxConnections:   2,
		SweepInterval:    20 * time.Millisecond,
		ReconnectTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, p.Start(context.Background()))
	defer p.Close(context.Background())

	// Break a connection while dialling fails so its worker gives up.
	a.failDial.Store(true)
	_, err := p.Do(context.Background(), count("broken"))
	require.Error(t, err)
	require.Eventually(t, func() bool { return p.Stats().Size == 1 }, 2*time.Second, 5*time.Millisecond)

	a.failDial.Store(false)
	require.Eventually(t, func() bool { return p.Stats().Size == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), a.live.Load())
}

func TestMetricsPerRegisterer(t *testing.T) {
	ctx := context.Background()
	shared := prometheus.NewRegistry()
	other := prometheus.NewRegistry()

	open := func(reg prometheus.Registerer) *Pool {
		p, err := New("main", newFakeAdapter(), adapter.ConnectionConfig{}, Config{MaxConnections: 2, MinConnections: 1}, nil, WithRegisterer(reg))
		require.NoError(t, err)
		require.NoError(t, p.Start(ctx))
		_, err = p.Do(ctx, count("users"))
		require.NoError(t, err)
		return p
	}
	a, b, c := open(shared), open(shared), open(other)
	defer c.Close(ctx)

	assert.Same(t, MetricsFor(shared), a.metrics)
	assert.Same(t, a.metrics, b.metrics)
	assert.NotSame(t, a.metrics, c.metrics)

	// The alias' series stay while another pool on the same registerer uses them.
	require.NoError(t, a.Close(ctx))
	assert.Equal(t, 1, testutil.CollectAndCount(b.metrics.connections))

	require.NoError(t, b.Close(ctx))
	assert.Equal(t, 0, testutil.CollectAndCount(b.metrics.connections))
	assert.Equal(t, 1, testutil.CollectAndCount(c.metrics.connections))
}
