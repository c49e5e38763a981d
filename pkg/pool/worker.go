package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/redbco/quickdb/pkg/adapter"
)

var errClosing = errors.New("pool is closing")

// worker owns one connection for its whole life. Only the worker goroutine
// touches conn and broken; the sweep reads the timestamps and sets retire.
type worker struct {
	id   int64
	conn adapter.Connection

	createdAt atomic.Int64
	lastUsed  atomic.Int64
	retire    atomic.Bool
	kick      chan struct{}

	broken bool
	// counted is false once the worker has given its slot back.
	counted bool
}

func (w *worker) reset(now time.Time) {
	w.createdAt.Store(now.UnixNano())
	w.lastUsed.Store(now.UnixNano())
	w.retire.Store(false)
	w.broken = false
}

func (w *worker) expired(now time.Time, cfg Config) bool {
	if cfg.MaxLifetime > 0 && now.Sub(time.Unix(0, w.createdAt.Load())) >= cfg.MaxLifetime {
		return true
	}
	if cfg.IdleTimeout > 0 && now.Sub(time.Unix(0, w.lastUsed.Load())) >= cfg.IdleTimeout {
		return true
	}
	return false
}

// flagRetire marks the worker for retirement at its next quiet point and
// wakes it if it is idle.
func (w *worker) flagRetire() bool {
	if !w.retire.CompareAndSwap(false, true) {
		return false
	}
	select {
	case w.kick <- struct{}{}:
	default:
	}
	return true
}

// startWorker runs a worker for conn. The slot must already be reserved in
// p.size and the caller must hold p.mu for reading.
func (p *Pool) startWorker(conn adapter.Connection) {
	w := &worker{
		id:      p.nextID.Add(1),
		conn:    conn,
		kick:    make(chan struct{}, 1),
		counted: true,
	}
	w.reset(time.Now())

	p.workersMu.Lock()
	p.workers[w] = struct{}{}
	p.workersMu.Unlock()
	p.metrics.connections.WithLabelValues(p.alias).Set(float64(p.size.Load()))

	p.wg.Add(1)
	go p.run(w)
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	defer p.stopWorker(w)

	for {
		if p.aborted.Load() {
			return
		}
		if w.retire.Load() {
			if p.shrink() {
				w.counted = false
				p.logger.Debugf("retiring connection %s", w.conn.ID())
				return
			}
			if !p.replace(w, "expired") {
				return
			}
		}

		if it, ok := p.queue.Dequeue(); ok {
			if !it.claim() {
				continue
			}
			p.handle(w, it)
			if w.broken && !p.replace(w, "broken") {
				return
			}
			continue
		}

		select {
		case <-p.closing:
			return
		default:
		}

		p.idle.Add(1)
		select {
		case <-p.wake:
		case <-w.kick:
		case <-p.closing:
		}
		p.idle.Add(-1)
	}
}

// stopWorker closes the worker's connection and releases its slot.
func (p *Pool) stopWorker(w *worker) {
	if w.conn != nil {
		p.closeConn(w.conn)
		w.conn = nil
	}
	if w.counted {
		p.size.Add(-1)
	}
	p.workersMu.Lock()
	delete(p.workers, w)
	p.workersMu.Unlock()
	p.metrics.connections.WithLabelValues(p.alias).Set(float64(p.size.Load()))
}

// shrink gives one slot back if the pool is above its minimum.
func (p *Pool) shrink() bool {
	for {
		n := p.size.Load()
		if n <= int64(p.config.MinConnections) {
			return false
		}
		if p.size.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (p *Pool) handle(w *worker, it *pending) {
	p.metrics.acquisitionWait.WithLabelValues(p.alias).Observe(time.Since(it.enqueued).Seconds())
	p.metrics.queued.WithLabelValues(p.alias).Set(float64(p.queue.Len()))

	kind := string(it.req.Kind)
	if err := it.ctx.Err(); err != nil {
		// The caller gave up before a connection was free.
		p.failed.Add(1)
		p.metrics.requests.WithLabelValues(p.alias, kind, outcomeError).Inc()
		it.future.resolve(nil, err)
		return
	}

	p.busy.Add(1)
	res, err := p.execute(w, it.req)
	p.busy.Add(-1)
	w.lastUsed.Store(time.Now().UnixNano())

	if err != nil {
		p.failed.Add(1)
		p.metrics.requests.WithLabelValues(p.alias, kind, outcomeError).Inc()
		if adapter.IsConnectionError(err) || !w.conn.IsConnected() {
			w.broken = true
		}
	} else {
		p.completed.Add(1)
		p.metrics.requests.WithLabelValues(p.alias, kind, outcomeOK).Inc()
	}
	it.future.resolve(res, err)
}

// execute runs one request on the worker's connection. A panic in the
// adapter fails the request and marks the connection broken.
func (p *Pool) execute(w *worker, req *adapter.Request) (res *adapter.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			w.broken = true
			p.logger.Errorf("recovered panic running %s on %s: %v", req.Kind, req.Collection, r)
			res = nil
			err = adapter.NewQueryError(p.adapter.Type(), string(req.Kind), fmt.Errorf("panic: %v", r))
		}
	}()

	ctx := p.runCtx
	switch req.Kind {
	case adapter.KindPing:
		if err := w.conn.Ping(ctx); err != nil {
			return nil, err
		}
		return &adapter.Result{}, nil
	case adapter.KindEnsureSchema:
		if err := p.ensureSchema(ctx, w.conn, req.Schema, true); err != nil {
			return nil, err
		}
		return &adapter.Result{}, nil
	case adapter.KindCreate, adapter.KindBatchCreate:
		if req.Schema != nil {
			if err := p.ensureSchema(ctx, w.conn, req.Schema, false); err != nil {
				return nil, err
			}
		}
	}
	return p.adapter.Execute(ctx, w.conn, req)
}

// ensureSchema runs the adapter's DDL once per collection unless force is
// set.
func (p *Pool) ensureSchema(ctx context.Context, conn adapter.Connection, schema *adapter.Schema, force bool) error {
	if !force {
		if _, ok := p.ensured.Load(schema.Collection); ok {
			return nil
		}
	}
	if err := p.adapter.EnsureSchema(ctx, conn, schema); err != nil {
		return err
	}
	p.ensured.Store(schema.Collection, struct{}{})
	return nil
}

// replace closes the worker's connection and opens a new one, retrying with
// exponential backoff. It reports false when it gave up.
func (p *Pool) replace(w *worker, reason string) bool {
	p.closeConn(w.conn)
	w.conn = nil

	b := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      p.config.ReconnectTimeout,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, p.runCtx)

	err := backoff.RetryNotify(
		func() error {
			if p.aborted.Load() {
				return backoff.Permanent(errClosing)
			}
			conn, err := p.dial(p.runCtx)
			if err != nil {
				if adapter.IsConfigurationError(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			w.conn = conn
			return nil
		},
		b,
		func(err error, next time.Duration) {
			p.logger.Warnf("reconnect failed, retrying in %s: %v", next, err)
		},
	)
	if err != nil {
		p.logger.Errorf("giving up replacing %s connection: %v", reason, err)
		return false
	}

	w.reset(time.Now())
	p.replaced.Add(1)
	p.metrics.connectionEvents.WithLabelValues(p.alias, eventReplaced).Inc()
	p.logger.Debugf("replaced %s connection with %s", reason, w.conn.ID())
	return true
}
