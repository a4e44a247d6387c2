// Package cache provides the caching implementations Kestrel uses to skip
// re-analysis of identical document text and to track submission velocity.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-ident/kestrel/internal/domain"
)

// analysisPrefix namespaces cached analysis results from generic entries.
const analysisPrefix = "analysis:"

// LRUCache is an in-memory LRU with per-entry TTL. It serves the Community
// tier on its own and acts as L1 in front of Redis in two-phase mode.
// Keys are namespaced per tenant.
type LRUCache struct {
	mu       sync.RWMutex
	maxSize  int
	index    map[string]*list.Element
	lru      *list.List // front = most recently used
	counters map[string]*windowCounter
}

type lruEntry struct {
	key      string
	value    []byte
	deadline time.Time
}

type windowCounter struct {
	count    int64
	deadline time.Time
}

// NewLRUCache creates an LRU cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		index:    make(map[string]*list.Element),
		lru:      list.New(),
		counters: make(map[string]*windowCounter),
	}
}

func tenantKey(tenantID, key string) string {
	return tenantID + ":" + key
}

// Get returns the cached value, or nil, nil on a miss. Expired entries are
// evicted lazily on access.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[tenantKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.deadline) {
		c.evict(elem)
		return nil, nil
	}

	c.lru.MoveToFront(elem)
	return entry.value, nil
}

// Set stores value under the tenant-scoped key with the given TTL, evicting
// the least recently used entries when over capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	k := tenantKey(tenantID, key)
	deadline := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[k]; ok {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.deadline = deadline
		return nil
	}

	c.index[k] = c.lru.PushFront(&lruEntry{key: k, value: value, deadline: deadline})

	for c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.evict(oldest)
		}
	}

	return nil
}

// Delete removes the tenant-scoped key if present.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[tenantKey(tenantID, key)]; ok {
		c.evict(elem)
	}
	return nil
}

// GetAnalysis returns the cached analysis for a document text hash, or nil
// on a miss.
func (c *LRUCache) GetAnalysis(ctx context.Context, tenantID string, textHash string) (*domain.AnalysisResult, error) {
	data, err := c.Get(ctx, tenantID, analysisPrefix+textHash)
	if err != nil || data == nil {
		return nil, err
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetAnalysis caches an analysis result keyed by document text hash.
func (c *LRUCache) SetAnalysis(ctx context.Context, tenantID string, textHash string, result *domain.AnalysisResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, analysisPrefix+textHash, data, ttl)
}

// IncrementCounter bumps a windowed counter and returns the new count.
// The window restarts once the previous one expires. Used for per-renter
// submission velocity.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	k := tenantKey(tenantID, "counter:"+key)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.counters[k]; ok && now.Before(entry.deadline) {
		entry.count++
		return entry.count, nil
	}

	c.counters[k] = &windowCounter{count: 1, deadline: now.Add(window)}
	return 1, nil
}

// Ping always succeeds for the in-memory cache.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops all entries.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*list.Element)
	c.lru = list.New()
	c.counters = make(map[string]*windowCounter)
	return nil
}

// Stats returns the current entry count and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len(), c.maxSize
}

// evict removes an element; caller must hold the lock.
func (c *LRUCache) evict(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.index, elem.Value.(*lruEntry).key)
}
