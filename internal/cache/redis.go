package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-ident/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// incrWithWindow increments a counter and arms its expiry only on the first
// hit, so the window is anchored to the first submission.
var incrWithWindow = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache backs the Pro tier and the L2 of two-phase caching, so analysis
// results and velocity counters are shared across Kestrel instances.
// All keys live under the "kestrel:" prefix, scoped per tenant.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection before
// returning.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) key(tenantID, key string) string {
	return "kestrel:" + tenantID + ":" + key
}

// Get returns the cached value, or nil, nil on a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	val, err := c.client.Get(ctx, c.key(tenantID, key)).Bytes()
	switch {
	case err == redis.Nil:
		return nil, nil
	case err != nil:
		return nil, err
	}
	return val, nil
}

// Set stores value with the given TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Set(ctx, c.key(tenantID, key), value, ttl).Err()
}

// Delete removes the key.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Del(ctx, c.key(tenantID, key)).Err()
}

// GetAnalysis returns the cached analysis for a document text hash, or nil
// on a miss.
func (c *RedisCache) GetAnalysis(ctx context.Context, tenantID string, textHash string) (*domain.AnalysisResult, error) {
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
func (c *RedisCache) SetAnalysis(ctx context.Context, tenantID string, textHash string, result *domain.AnalysisResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, analysisPrefix+textHash, data, ttl)
}

// IncrementCounter atomically bumps a windowed counter via a Lua script.
func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	k := c.key(tenantID, "counter:"+key)
	return incrWithWindow.Run(ctx, c.client, []string{k}, window.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
