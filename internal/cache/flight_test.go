package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlight_ConcurrentCallersShareOneComputation(t *testing.T) {
	flight := NewFlight()
	var computations int64
	release := make(chan struct{})

	const callers = 20
	var wg sync.WaitGroup
	results := make([]interface{}, callers)
	errs := make([]error, callers)
	sharedCount := int64(0)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, shared, err := flight.Do(context.Background(), "key", func(ctx context.Context) (interface{}, error) {
				atomic.AddInt64(&computations, 1)
				<-release
				return "answer", nil
			})
			results[i] = value
			errs[i] = err
			if shared {
				atomic.AddInt64(&sharedCount, 1)
			}
		}(i)
	}

	// Let every caller register before the computation settles.
	assert.Eventually(t, func() bool { return flight.InFlight() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&computations))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "answer", results[i])
	}
	assert.Equal(t, 0, flight.InFlight())
}

func TestFlight_ErrorSharedByAllWaiters(t *testing.T) {
	flight := NewFlight()
	boom := errors.New("boom")
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = flight.Do(context.Background(), "key", func(ctx context.Context) (interface{}, error) {
				<-release
				return nil, boom
			})
		}(i)
	}
	assert.Eventually(t, func() bool { return flight.InFlight() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	// A failed computation leaves no registration behind; the next request
	// computes fresh.
	assert.Equal(t, 0, flight.InFlight())
}

func TestFlight_DifferentKeysRunIndependently(t *testing.T) {
	flight := NewFlight()
	var computations int64

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, err := flight.Do(context.Background(), key, func(ctx context.Context) (interface{}, error) {
				atomic.AddInt64(&computations, 1)
				return key, nil
			})
			assert.NoError(t, err)
		}(key)
	}
	wg.Wait()
	assert.Equal(t, int64(3), atomic.LoadInt64(&computations))
}

func TestFlight_OneCallerCancelDoesNotAbortSharedComputation(t *testing.T) {
	flight := NewFlight()
	release := make(chan struct{})
	computed := make(chan struct{})

	// First caller starts the computation.
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		value, _, err := flight.Do(context.Background(), "key", func(ctx context.Context) (interface{}, error) {
			select {
			case <-release:
				close(computed)
				return "v", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
		assert.NoError(t, err)
		assert.Equal(t, "v", value)
	}()
	assert.Eventually(t, func() bool { return flight.InFlight() == 1 }, time.Second, time.Millisecond)

	// Second caller joins, then abandons the wait.
	ctx, cancel := context.WithCancel(context.Background())
	joined := make(chan struct{})
	go func() {
		defer close(joined)
		_, shared, err := flight.Do(ctx, "key", func(ctx context.Context) (interface{}, error) {
			t.Error("joined caller must not start a second computation")
			return nil, nil
		})
		assert.True(t, shared)
		assert.ErrorIs(t, err, context.Canceled)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-joined

	// The remaining waiter still gets its result.
	close(release)
	<-firstDone
	select {
	case <-computed:
	default:
		t.Fatal("computation was aborted by a non-last waiter")
	}
}

func TestFlight_LastWaiterCancelAbortsComputation(t *testing.T) {
	flight := NewFlight()
	aborted := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := flight.Do(ctx, "key", func(runCtx context.Context) (interface{}, error) {
			<-runCtx.Done()
			close(aborted)
			return nil, runCtx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()
	assert.Eventually(t, func() bool { return flight.InFlight() == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("computation context was not cancelled by the last departing waiter")
	}
}
