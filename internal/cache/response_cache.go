package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qamind/qamind/internal/models"
)

// DefaultTTL is the default lifetime of a cached answer.
const DefaultTTL = 5 * time.Minute

// ResponseCacheMetrics tracks cache outcome statistics.
type ResponseCacheMetrics struct {
	Hits     int64
	Misses   int64
	Deduped  int64
	Computed int64
}

// Observer receives cache outcome telemetry. Implementations must not block.
type Observer interface {
	Hit()
	Miss()
	Deduplicated()
}

// ResponseCache combines the TTL store with the in-flight deduplicator. Only
// successful answers are written back; a failed computation is retryable on
// the very next identical request.
type ResponseCache struct {
	store    Store
	flight   *Flight
	ttl      time.Duration
	logger   *logrus.Logger
	observer Observer
	metrics  ResponseCacheMetrics
}

// NewResponseCache creates a cache. ttl <= 0 selects DefaultTTL.
func NewResponseCache(store Store, ttl time.Duration, logger *logrus.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ResponseCache{
		store:  store,
		flight: NewFlight(),
		ttl:    ttl,
		logger: logger,
	}
}

// SetObserver attaches outcome telemetry. Must be called before use.
func (c *ResponseCache) SetObserver(obs Observer) {
	c.observer = obs
}

// GetOrCompute returns the cached answer for key, or computes it exactly
// once across concurrent identical requests. Cache hits are marked Cached.
func (c *ResponseCache) GetOrCompute(ctx context.Context, key string, fn func(ctx context.Context) (*models.Answer, error)) (*models.Answer, error) {
	var cached models.Answer
	found, err := c.store.Get(ctx, key, &cached)
	if err != nil {
		c.logger.WithError(err).Warn("Cache read failed, computing fresh answer")
	}
	if found {
		atomic.AddInt64(&c.metrics.Hits, 1)
		if c.observer != nil {
			c.observer.Hit()
		}
		cached.Cached = true
		return &cached, nil
	}
	atomic.AddInt64(&c.metrics.Misses, 1)
	if c.observer != nil {
		c.observer.Miss()
	}

	value, shared, err := c.flight.Do(ctx, key, func(runCtx context.Context) (interface{}, error) {
		answer, err := fn(runCtx)
		if err != nil {
			return nil, err
		}
		atomic.AddInt64(&c.metrics.Computed, 1)
		if setErr := c.store.Set(runCtx, key, answer, c.ttl); setErr != nil {
			c.logger.WithError(setErr).Warn("Failed to write answer to cache")
		}
		return answer, nil
	})
	if shared {
		atomic.AddInt64(&c.metrics.Deduped, 1)
		if c.observer != nil {
			c.observer.Deduplicated()
		}
	}
	if err != nil {
		return nil, err
	}
	return value.(*models.Answer), nil
}

// Invalidate drops the cached answer for key.
func (c *ResponseCache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Metrics returns a snapshot of cache statistics.
func (c *ResponseCache) Metrics() ResponseCacheMetrics {
	return ResponseCacheMetrics{
		Hits:     atomic.LoadInt64(&c.metrics.Hits),
		Misses:   atomic.LoadInt64(&c.metrics.Misses),
		Deduped:  atomic.LoadInt64(&c.metrics.Deduped),
		Computed: atomic.LoadInt64(&c.metrics.Computed),
	}
}
