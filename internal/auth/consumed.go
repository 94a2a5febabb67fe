package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const consumedPrefix = "auth:consumed:v1:"

// ConsumedTokens records single-use token identifiers. Consume returns true
// the first time an id is seen and false on every later call until ttl passes.
// Release forgets an id so a redemption that failed downstream can be retried.
type ConsumedTokens interface {
	Consume(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id string) error
}

// RedisConsumedTokens keeps consumed ids in Redis with SET NX so concurrent
// redemptions across instances race on one key.
type RedisConsumedTokens struct {
	client redis.UniversalClient
}

func NewRedisConsumedTokens(client redis.UniversalClient) *RedisConsumedTokens {
	return &RedisConsumedTokens{client: client}
}

func (r *RedisConsumedTokens) Consume(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := r.client.SetNX(ctx, consumedPrefix+id, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	return ok, nil
}

func (r *RedisConsumedTokens) Release(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, consumedPrefix+id).Err(); err != nil {
		return fmt.Errorf("release token: %w", err)
	}
	return nil
}

type memoryConsumedTokens struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryConsumedTokens builds a process-local ledger for tests and
// development without Redis.
func NewMemoryConsumedTokens() ConsumedTokens {
	return &memoryConsumedTokens{seen: make(map[string]time.Time), now: time.Now}
}

func (m *memoryConsumedTokens) Consume(_ context.Context, id string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, exp := range m.seen {
		if now.After(exp) {
			delete(m.seen, k)
		}
	}
	if _, exists := m.seen[id]; exists {
		return false, nil
	}
	m.seen[id] = now.Add(ttl)
	return true, nil
}

func (m *memoryConsumedTokens) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	return nil
}
