package cache

import (
	"context"
	"sync"
)

type call struct {
	done    chan struct{}
	value   interface{}
	err     error
	waiters int
	cancel  context.CancelFunc
}

// Flight collapses concurrent identical requests into one upstream
// computation. For any key, at most one computation is in flight at a time;
// all concurrent callers for that key observe the same result. The
// registration is removed unconditionally when the computation settles,
// success or failure.
//
// Cancellation is reference-counted: a caller abandoning the wait only
// aborts the computation when it was the last remaining waiter.
type Flight struct {
	mu    sync.Mutex
	calls map[string]*call
}

// NewFlight creates an empty deduplicator.
func NewFlight() *Flight {
	return &Flight{calls: make(map[string]*call)}
}

// Do runs fn for key, or joins an already-running computation for the same
// key. shared reports whether the caller joined an existing computation.
func (f *Flight) Do(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (value interface{}, shared bool, err error) {
	f.mu.Lock()
	if c, ok := f.calls[key]; ok {
		c.waiters++
		f.mu.Unlock()
		return f.wait(ctx, c, true)
	}

	// The computation gets its own context so that one caller's
	// cancellation cannot abort a result other waiters depend on.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &call{done: make(chan struct{}), waiters: 1, cancel: cancel}
	f.calls[key] = c
	f.mu.Unlock()

	go func() {
		c.value, c.err = fn(runCtx)
		f.mu.Lock()
		delete(f.calls, key)
		f.mu.Unlock()
		close(c.done)
		cancel()
	}()

	return f.wait(ctx, c, false)
}

// InFlight reports how many keys currently have a running computation.
func (f *Flight) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *Flight) wait(ctx context.Context, c *call, shared bool) (interface{}, bool, error) {
	select {
	case <-c.done:
		return c.value, shared, c.err
	case <-ctx.Done():
		f.mu.Lock()
		c.waiters--
		if c.waiters == 0 {
			c.cancel()
		}
		f.mu.Unlock()
		return nil, shared, ctx.Err()
	}
}
