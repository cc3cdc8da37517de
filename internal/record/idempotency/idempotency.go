// Package idempotency remembers the outcome of a keyed request so a replay
// within the TTL returns the first outcome instead of applying twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an outcome is remembered.
const DefaultTTL = 24 * time.Hour

// Store keeps encoded outcomes by request key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Store. Expired entries are swept lazily on Put.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expires) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	m.entries[key] = entry{value: append([]byte(nil), value...), expires: now.Add(ttl)}
	return nil
}

const redisKeyPrefix = "kyc:idempotency:"

// Redis is a Store shared across processes.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get idempotency key: %w", err)
	}
	return v, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("put idempotency key: %w", err)
	}
	return nil
}
