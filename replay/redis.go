package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// compile-time interface check
var _ Guard = (*RedisGuard)(nil)

// DefaultKeyPrefix namespaces fingerprints in a shared Redis.
const DefaultKeyPrefix = "mandate:replay:"

// RedisGuard shares claimed fingerprints between processes through
// SET NX with expiry.
type RedisGuard struct {
	client redis.Cmdable
	prefix string
	owned  *redis.Client
}

// RedisOption configures a RedisGuard.
type RedisOption func(*RedisGuard)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(g *RedisGuard) { g.prefix = prefix }
}

// NewRedisGuard wraps an existing client.
func NewRedisGuard(client redis.Cmdable, opts ...RedisOption) *RedisGuard {
	g := &RedisGuard{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DialRedisGuard connects to addr and returns a guard using that client.
func DialRedisGuard(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*RedisGuard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // connection never became usable
		return nil, fmt.Errorf("replay: redis ping %s: %w", addr, err)
	}
	g := NewRedisGuard(client, opts...)
	g.owned = client
	return g, nil
}

// Close releases the client when the guard dialed it itself. Guards built
// with NewRedisGuard leave the caller's client open.
func (g *RedisGuard) Close() error {
	if g.owned == nil {
		return nil
	}
	return g.owned.Close()
}

// Claim implements Guard.
func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay: redis claim: %w", err)
	}
	return ok, nil
}
