package exchangerate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultTTL is how long fetched rates stay fresh.
const DefaultTTL = time.Hour

type memoryEntry struct {
	rates     Rates
	fetchedAt time.Time
}

// MemoryCache is an in-process Cache with a per-entry TTL.
type MemoryCache struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache creates an in-process cache. now defaults to time.Now.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{ttl: ttl, now: now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (Rates, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.now().Sub(e.fetchedAt) >= m.ttl {
		return nil, false
	}
	return e.rates, true
}

func (m *MemoryCache) Set(_ context.Context, key string, rates Rates) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{rates: rates, fetchedAt: m.now()}
	m.mu.Unlock()
}

// RedisCache shares rates across instances; Redis expiry enforces the TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (r *RedisCache) key(k string) string {
	return "fx:rates:" + k
}

func (r *RedisCache) Get(ctx context.Context, key string) (Rates, bool) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("Rate cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	rates := make(Rates, len(raw))
	for sym, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, false
		}
		rates[sym] = d
	}
	return rates, true
}

func (r *RedisCache) Set(ctx context.Context, key string, rates Rates) {
	raw := make(map[string]string, len(rates))
	for sym, d := range rates {
		raw[sym] = d.String()
	}
	data, _ := json.Marshal(raw)
	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		r.logger.Warn("Rate cache write failed", zap.String("key", key), zap.Error(err))
	}
}
