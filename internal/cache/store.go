// Package cache provides the response cache and the in-flight request
// deduplicator. The cache stores only successful answers with a TTL; the
// deduplicator guarantees at most one concurrent upstream computation per
// logical request key.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Store is a TTL'd key-value store for serialized answers.
type Store interface {
	// Get unmarshals the cached value into dest, reporting whether a live
	// entry was found. Expired entries are treated as absent.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	// Set stores the value with the given TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete removes a key.
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	data      []byte
	createdAt time.Time
	expiresAt time.Time
}

// MemoryStoreMetrics tracks store statistics.
type MemoryStoreMetrics struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Expired int64
	Swept   int64
}

// MemoryStore is the in-process Store. Expired entries are purged lazily on
// read and by a periodic sweep started with Start.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	metrics MemoryStoreMetrics

	sweepInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewMemoryStore creates a store sweeping at the given interval (default 60s).
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryStore{
		entries:       make(map[string]memoryEntry),
		sweepInterval: sweepInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the background sweep goroutine.
func (s *MemoryStore) Start() {
	s.wg.Add(1)
	go s.sweepLoop()
}

// Stop stops the sweep goroutine and waits for it to exit.
func (s *MemoryStore) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Get implements Store. Expired entries are removed on read.
func (s *MemoryStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		atomic.AddInt64(&s.metrics.Misses, 1)
		return false, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// refreshed the entry.
		if cur, ok := s.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(s.entries, key)
			atomic.AddInt64(&s.metrics.Expired, 1)
		}
		s.mu.Unlock()
		atomic.AddInt64(&s.metrics.Misses, 1)
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, err
	}
	atomic.AddInt64(&s.metrics.Hits, 1)
	return true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	now := time.Now()
	s.mu.Lock()
	s.entries[key] = memoryEntry{data: data, createdAt: now, expiresAt: now.Add(ttl)}
	s.mu.Unlock()
	atomic.AddInt64(&s.metrics.Sets, 1)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	atomic.AddInt64(&s.metrics.Swept, int64(removed))
	return removed
}

// Len returns the number of live and expired entries currently held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Metrics returns a snapshot of store statistics.
func (s *MemoryStore) Metrics() MemoryStoreMetrics {
	return MemoryStoreMetrics{
		Hits:    atomic.LoadInt64(&s.metrics.Hits),
		Misses:  atomic.LoadInt64(&s.metrics.Misses),
		Sets:    atomic.LoadInt64(&s.metrics.Sets),
		Expired: atomic.LoadInt64(&s.metrics.Expired),
		Swept:   atomic.LoadInt64(&s.metrics.Swept),
	}
}

func (s *MemoryStore) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
