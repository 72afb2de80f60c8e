// Package cache implements the two-tier lookup cache: a process-local fast
// tier backed by a durable shared store. Reads go fast tier first, then the
// durable tier in chunked batches; durable hits are written back into the
// fast tier. Writes go to both tiers.
package cache

import (
	"context"
	"sync"

	"github.com/leadforge/enrichd/pkg/logging"
	"github.com/leadforge/enrichd/pkg/metrics"
	"github.com/leadforge/enrichd/pkg/types"
)

// DurableStore is the remote tier: a key/value store supporting batched get
// and upsert.
type DurableStore interface {
	GetBatch(ctx context.Context, keys []string) (map[string]types.CacheEntry, error)
	PutBatch(ctx context.Context, entries []types.CacheEntry) error
	ExistsBatch(ctx context.Context, keys []string) (map[string]bool, error)
}

// DualTier is a read-through, write-through cache over a fast in-process map
// and a DurableStore. The fast tier is guarded by one lock; contention is low
// relative to the network latency the cache hides.
type DualTier struct {
	name      string
	store     DurableStore
	chunkSize int

	mu   sync.Mutex
	fast map[string]types.CacheEntry

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewDualTier creates a dual-tier cache. chunkSize bounds the number of keys
// per durable-tier round trip.
func NewDualTier(name string, store DurableStore, chunkSize int, m *metrics.Metrics) *DualTier {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	return &DualTier{
		name:      name,
		store:     store,
		chunkSize: chunkSize,
		fast:      make(map[string]types.CacheEntry),
		logger:    logging.GetLogger(),
		metrics:   m,
	}
}

// GetBatch returns the cached entries for the given keys. Keys absent from
// the returned map were found in neither tier.
func (c *DualTier) GetBatch(ctx context.Context, keys []string) (map[string]types.CacheEntry, error) {
	found := make(map[string]types.CacheEntry, len(keys))

	var misses []string
	c.mu.Lock()
	for _, key := range keys {
		if entry, ok := c.fast[key]; ok {
			found[key] = entry
		} else {
			misses = append(misses, key)
		}
	}
	c.mu.Unlock()

	if c.metrics != nil && c.metrics.CacheHitsTotal != nil {
		c.metrics.CacheHitsTotal.WithLabelValues("fast", c.name).Add(float64(len(found)))
	}

	if len(misses) == 0 {
		return found, nil
	}

	for _, chunk := range chunkKeys(misses, c.chunkSize) {
		entries, err := c.store.GetBatch(ctx, chunk)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		for key, entry := range entries {
			found[key] = entry
			c.fast[key] = entry
		}
		c.mu.Unlock()

		if c.metrics != nil && c.metrics.CacheHitsTotal != nil {
			c.metrics.CacheHitsTotal.WithLabelValues("durable", c.name).Add(float64(len(entries)))
			c.metrics.CacheMissesTotal.WithLabelValues(c.name).Add(float64(len(chunk) - len(entries)))
		}
	}

	return found, nil
}

// PutBatch writes entries to both tiers. The fast-tier write is synchronous;
// the durable tier is a bulk upsert with last-write-wins semantics.
func (c *DualTier) PutBatch(ctx context.Context, entries []types.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	c.mu.Lock()
	for _, entry := range entries {
		c.fast[entry.Key] = entry
	}
	c.mu.Unlock()

	return c.store.PutBatch(ctx, entries)
}

// ExistsBatch reports which keys are present in either tier without pulling
// payloads. Used by the candidate selector for dedup probes.
func (c *DualTier) ExistsBatch(ctx context.Context, keys []string) (map[string]bool, error) {
	present := make(map[string]bool, len(keys))

	var misses []string
	c.mu.Lock()
	for _, key := range keys {
		if _, ok := c.fast[key]; ok {
			present[key] = true
		} else {
			misses = append(misses, key)
		}
	}
	c.mu.Unlock()

	for _, chunk := range chunkKeys(misses, c.chunkSize) {
		hits, err := c.store.ExistsBatch(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for key, ok := range hits {
			if ok {
				present[key] = true
			}
		}
	}

	return present, nil
}

// FastLen returns the current size of the fast tier.
func (c *DualTier) FastLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fast)
}

func chunkKeys(keys []string, size int) [][]string {
	if len(keys) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(keys)+size-1)/size)
	for i := 0; i < len(keys); i += size {
		end := i + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[i:end])
	}
	return chunks
}
