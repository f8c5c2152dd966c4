package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	pkgmw "github.com/diagnosis/wanderlust/pkg/middleware"
)

type RedisIdempotency struct{ client *redis.Client }

func NewRedisIdempotency(client *redis.Client) *RedisIdempotency {
	return &RedisIdempotency{client: client}
}

func (s *RedisIdempotency) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (s *RedisIdempotency) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryIdempotency keeps replay entries in process memory. Expired entries are
// dropped when read.
type MemoryIdempotency struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryIdempotency) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", nil
	}
	if s.now().After(e.expires) {
		delete(s.entries, key)
		return "", nil
	}
	return e.value, nil
}

func (s *MemoryIdempotency) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expires: s.now().Add(ttl)}
	return nil
}

var (
	_ pkgmw.IdempotencyStore = (*RedisIdempotency)(nil)
	_ pkgmw.IdempotencyStore = (*MemoryIdempotency)(nil)
)
