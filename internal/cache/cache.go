package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-ident/kestrel/internal/domain"
)

// New builds the cache named by the configuration. "memory" yields the LRU
// cache alone; "redis" yields Redis, wrapped in the two-phase cache when
// EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache layers a local LRU (L1) in front of Redis (L2). Reads hit
// L1 first and warm it from L2; writes go to both with a capped L1 TTL.
// Velocity counters bypass L1 entirely so counts stay exact across nodes.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  NewLRUCache(cfg.LocalMaxSize),
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// localTTL caps the L1 lifetime so L1 never outlives the L2 entry.
func (c *TwoPhaseCache) localTTL(ttl time.Duration) time.Duration {
	if ttl < c.l1TTL {
		return ttl
	}
	return c.l1TTL
}

// Get reads L1 then L2, warming L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both layers.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes the key from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetAnalysis reads L1 then L2, warming L1 on an L2 hit.
func (c *TwoPhaseCache) GetAnalysis(ctx context.Context, tenantID string, textHash string) (*domain.AnalysisResult, error) {
	result, err := c.local.GetAnalysis(ctx, tenantID, textHash)
	if err != nil || result != nil {
		return result, err
	}

	result, err = c.remote.GetAnalysis(ctx, tenantID, textHash)
	if err != nil {
		return nil, err
	}
	if result != nil {
		_ = c.local.SetAnalysis(ctx, tenantID, textHash, result, c.l1TTL)
	}
	return result, nil
}

// SetAnalysis caches the analysis in both layers.
func (c *TwoPhaseCache) SetAnalysis(ctx context.Context, tenantID string, textHash string, result *domain.AnalysisResult, ttl time.Duration) error {
	if err := c.local.SetAnalysis(ctx, tenantID, textHash, result, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.SetAnalysis(ctx, tenantID, textHash, result, ttl)
}

// IncrementCounter delegates to Redis. Counting in L1 would undercount
// resubmissions when multiple Kestrel nodes share a tenant.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping checks both layers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both layers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
