// Package pool dispatches requests for one database alias to a bounded set of
// connections.
//
// Submit never blocks. Requests go onto a lock-free queue and each open
// connection is owned by exactly one worker goroutine that takes requests
// off the queue and runs them through the alias' adapter. The pool opens
// connections on demand up to MaxConnections. A request that no worker picks
// up within ConnectionTimeout is failed with a Timeout PoolError.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/redbco/quickdb/pkg/adapter"
	"github.com/redbco/quickdb/pkg/logger"
)

// Request states. A request moves from pending to exactly one of the others.
const (
	statePending int32 = iota
	stateClaimed
	stateExpired
)

type pending struct {
	ctx      context.Context
	req      *adapter.Request
	future   *Future
	state    atomic.Int32
	timer    *time.Timer
	enqueued time.Time
}

// claim hands the request to a worker. It fails if the request already
// timed out.
func (it *pending) claim() bool {
	if !it.state.CompareAndSwap(statePending, stateClaimed) {
		return false
	}
	it.timer.Stop()
	return true
}

// expire fails a request that was never claimed. It may run on the timer's
// own goroutine before Submit has stored the timer, so it leaves the timer
// alone.
func (it *pending) expire(err error) bool {
	if !it.state.CompareAndSwap(statePending, stateExpired) {
		return false
	}
	it.future.resolve(nil, err)
	return true
}

// Stats is a snapshot of a pool.
type Stats struct {
	Alias     string `json:"alias"`
	Database  string `json:"database"`
	Size      int    `json:"size"`
	Idle      int    `json:"idle"`
	Busy      int    `json:"busy"`
	Queued    int    `json:"queued"`
	Min       int    `json:"min"`
	Max       int    `json:"max"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Timeouts  int64  `json:"timeouts"`
	Opened    int64  `json:"opened"`
	Closed    int64  `json:"closed"`
	Replaced  int64  `json:"replaced"`
	Panics    int64  `json:"panics"`
}

// Pool owns the connections of one alias.
type Pool struct {
	alias      string
	adapter    adapter.DatabaseAdapter
	connConfig adapter.ConnectionConfig
	config     Config
	logger     *logger.Logger
	metrics    *Metrics

	queue *Queue[*pending]
	// wake holds one token per request that may be waiting for an idle
	// worker. It is buffered so Submit never blocks.
	wake chan struct{}

	// mu guards closed and orders wg.Add before wg.Wait.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	nextID atomic.Int64

	workersMu sync.Mutex
	workers   map[*worker]struct{}

	size atomic.Int64
	idle atomic.Int64
	busy atomic.Int64

	closing   chan struct{}
	aborted   atomic.Bool
	runCtx    context.Context
	cancelRun context.CancelFunc

	sweepStop chan struct{}
	sweepDone chan struct{}
	started   atomic.Bool

	ensured sync.Map // collection -> struct{}

	lastDialErr atomic.Pointer[error]

	closeErrMu sync.Mutex
	closeErr   *multierror.Error

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	timeouts  atomic.Int64
	opened    atomic.Int64
	closedN   atomic.Int64
	replaced  atomic.Int64
	panics    atomic.Int64
}

// New creates an idle pool. Start opens the minimum connections; Submit
// opens connections on demand even without Start. Metrics go to the default
// prometheus registerer unless WithRegisterer says otherwise.
func New(alias string, a adapter.DatabaseAdapter, connConfig adapter.ConnectionConfig, cfg Config, log *logger.Logger, opts ...Option) (*Pool, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil adapter", ErrInvalidConfig)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	connConfig.Alias = alias

	runCtx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		alias:      alias,
		adapter:    a,
		connConfig: connConfig,
		config:     cfg,
		logger:     log.Named("pool").With("alias", alias),
		queue:      NewQueue[*pending](),
		wake:       make(chan struct{}, cfg.MaxConnections),
		workers:    make(map[*worker]struct{}),
		closing:    make(chan struct{}),
		runCtx:     runCtx,
		cancelRun:  cancel,
		sweepStop:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = MetricsFor(prometheus.DefaultRegisterer)
	}
	p.metrics.acquire(alias)
	return p, nil
}

// Alias returns the alias the pool serves.
func (p *Pool) Alias() string {
	return p.alias
}

// Adapter returns the pool's adapter instance.
func (p *Pool) Adapter() adapter.DatabaseAdapter {
	return p.adapter
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.config
}

// Start opens MinConnections concurrently and starts the background sweep.
// If any connection fails to open, the ones already opened are closed and
// the error is returned.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}

	conns := make([]adapter.Connection, p.config.MinConnections)
	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		g.Go(func() error {
			conn, err := p.dial(gctx)
			if err != nil {
				return err
			}
			conns[i] = conn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, conn := range conns {
			if conn != nil {
				_ = conn.Close()
				p.closedN.Add(1)
			}
		}
		p.started.Store(false)
		return fmt.Errorf("failed to open connections for %s: %w", p.alias, err)
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
		return &PoolError{Alias: p.alias, Kind: Exhausted}
	}
	for _, conn := range conns {
		p.size.Add(1)
		p.startWorker(conn)
	}
	p.mu.RUnlock()

	go p.sweepLoop()
	p.logger.Infof("started %d connections (max %d)", len(conns), p.config.MaxConnections)
	return nil
}

// Submit queues req and returns its future. It never blocks. Requests that
// fail validation are resolved immediately without using a queue slot.
func (p *Pool) Submit(ctx context.Context, req *adapter.Request) *Future {
	if err := req.Validate(); err != nil {
		return NewErrorFuture(err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.requests.WithLabelValues(p.alias, string(req.Kind), outcomeClosed).Inc()
		return NewErrorFuture(&PoolError{Alias: p.alias, Kind: Exhausted})
	}

	it := &pending{
		ctx:      ctx,
		req:      req,
		future:   newFuture(),
		enqueued: time.Now(),
	}
	it.timer = time.AfterFunc(p.config.ConnectionTimeout, func() { p.timeout(it) })

	p.submitted.Add(1)
	p.queue.Enqueue(it)
	p.metrics.queued.WithLabelValues(p.alias).Set(float64(p.queue.Len()))

	select {
	case p.wake <- struct{}{}:
	default:
	}
	if int64(p.queue.Len()) > p.idle.Load() {
		p.grow()
	}
	return it.future
}

// Do submits req and waits for its result.
func (p *Pool) Do(ctx context.Context, req *adapter.Request) (*adapter.Result, error) {
	return p.Submit(ctx, req).Get(ctx)
}

func (p *Pool) timeout(it *pending) {
	err := &PoolError{
		Alias:  p.alias,
		Kind:   Timeout,
		Waited: time.Since(it.enqueued),
	}
	if last := p.lastDialErr.Load(); last != nil {
		err.Cause = *last
	}
	if it.expire(err) {
		p.timeouts.Add(1)
		p.failed.Add(1)
		p.metrics.requests.WithLabelValues(p.alias, string(it.req.Kind), outcomeTimeout).Inc()
	}
}

// grow reserves a connection slot and opens it in the background. Callers
// hold p.mu for reading.
func (p *Pool) grow() bool {
	for {
		n := p.size.Load()
		if n >= int64(p.config.MaxConnections) {
			return false
		}
		if p.size.CompareAndSwap(n, n+1) {
			break
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		conn, err := p.dial(p.runCtx)
		if err != nil {
			p.size.Add(-1)
			p.logger.Warnf("failed to open connection: %v", err)
			return
		}
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.closed && p.aborted.Load() {
			p.size.Add(-1)
			p.closeConn(conn)
			return
		}
		p.startWorker(conn)
	}()
	return true
}

// dial opens one connection through the adapter.
func (p *Pool) dial(ctx context.Context) (adapter.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, p.connConfig.Timeout())
	defer cancel()

	conn, err := p.adapter.Connect(ctx, p.connConfig)
	if err != nil {
		p.lastDialErr.Store(&err)
		p.metrics.connectionEvents.WithLabelValues(p.alias, eventDialFailed).Inc()
		return nil, err
	}
	p.lastDialErr.Store(nil)
	p.opened.Add(1)
	p.metrics.connectionEvents.WithLabelValues(p.alias, eventOpened).Inc()
	return conn, nil
}

func (p *Pool) closeConn(conn adapter.Connection) {
	if err := conn.Close(); err != nil {
		p.closeErrMu.Lock()
		p.closeErr = multierror.Append(p.closeErr, fmt.Errorf("close %s: %w", conn.ID(), err))
		p.closeErrMu.Unlock()
	}
	p.closedN.Add(1)
	p.metrics.connectionEvents.WithLabelValues(p.alias, eventClosed).Inc()
}

// Close stops intake, lets workers drain the queue and closes every
// connection. If ctx ends before the queue is drained, in-flight requests
// are cancelled and the remaining ones fail with an Exhausted PoolError.
// Calling Close more than once is a no-op.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closing)
	p.mu.Unlock()

	if p.started.Load() {
		close(p.sweepStop)
		<-p.sweepDone
	}

	var result error
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.aborted.Store(true)
		p.cancelRun()
		<-done
		result = multierror.Append(result, ctx.Err())
	}
	p.cancelRun()

	exhausted := 0
	for {
		it, ok := p.queue.Dequeue()
		if !ok {
			break
		}
		if it.expire(&PoolError{Alias: p.alias, Kind: Exhausted}) {
			exhausted++
			p.failed.Add(1)
		}
	}
	if exhausted > 0 {
		p.logger.Warnf("failed %d queued requests on close", exhausted)
	}

	p.metrics.release(p.alias)
	p.logger.Infof("closed (%d opened, %d closed)", p.opened.Load(), p.closedN.Load())

	p.closeErrMu.Lock()
	defer p.closeErrMu.Unlock()
	if p.closeErr != nil {
		result = multierror.Append(result, p.closeErr.Errors...)
	}
	return result
}

// IsClosed reports whether Close has been called.
func (p *Pool) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Stats returns a snapshot of the pool's gauges and counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Alias:     p.alias,
		Database:  string(p.adapter.Type()),
		Size:      int(p.size.Load()),
		Idle:      int(p.idle.Load()),
		Busy:      int(p.busy.Load()),
		Queued:    p.queue.Len(),
		Min:       p.config.MinConnections,
		Max:       p.config.MaxConnections,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Timeouts:  p.timeouts.Load(),
		Opened:    p.opened.Load(),
		Closed:    p.closedN.Load(),
		Replaced:  p.replaced.Load(),
		Panics:    p.panics.Load(),
	}
}

// sweepLoop flags connections past their idle timeout or lifetime and keeps
// the pool at its minimum size.
func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)
	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.sweepStop:
			return
		case now := <-ticker.C:
			p.sweep(now)
		}
	}
}

func (p *Pool) sweep(now time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	flagged := 0
	p.workersMu.Lock()
	for w := range p.workers {
		if w.expired(now, p.config) && w.flagRetire() {
			flagged++
		}
	}
	p.workersMu.Unlock()
	spawned := 0
	for p.size.Load() < int64(p.config.MinConnections) {
		if !p.grow() {
			break
		}
		spawned++
	}
	p.metrics.connections.WithLabelValues(p.alias).Set(float64(p.size.Load()))
	p.metrics.queued.WithLabelValues(p.alias).Set(float64(p.queue.Len()))
	if flagged > 0 || spawned > 0 {
		p.logger.Debugf("sweep flagged %d connections and opened %d", flagged, spawned)
	}
}
