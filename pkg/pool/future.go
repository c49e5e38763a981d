package pool

import (
	"context"
	"sync"

	"github.com/redbco/quickdb/pkg/adapter"
)

// Future is the response slot of one submitted request. It is resolved
// exactly once, with a result or an error.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result *adapter.Result
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// NewErrorFuture returns a future already resolved with err.
func NewErrorFuture(err error) *Future {
	f := newFuture()
	f.resolve(nil, err)
	return f
}

// resolve fills the future. Only the first call has an effect; it reports
// whether this call was the one.
func (f *Future) resolve(res *adapter.Result, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.result = res
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Get waits for the result. If ctx ends first, Get returns ctx.Err(); the
// request itself keeps running and its result is discarded.
func (f *Future) Get(ctx context.Context) (*adapter.Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until the future is resolved.
func (f *Future) Wait() (*adapter.Result, error) {
	<-f.done
	return f.result, f.err
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
