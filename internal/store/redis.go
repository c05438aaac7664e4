package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Redis is a Redis-backed Store. All primitives are single commands or
// pipelines of server-side atomic operations, so they are safe under
// concurrent callers across process instances.
type Redis struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ Store = (*Redis)(nil)

// RedisOption configures the Redis store.
type RedisOption func(*Redis)

// WithKeyPrefix sets the Redis key prefix (default "divvychat:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.keyPrefix = prefix }
}

// NewRedis creates a new Redis-backed store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func NewRedis(client goredis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client:    client,
		keyPrefix: "divvychat:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(k string) string {
	return r.keyPrefix + k
}

// IncrByFloat atomically adds amount to the float counter at key.
func (r *Redis) IncrByFloat(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	var incr *goredis.FloatCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.IncrByFloat(ctx, r.key(key), amount)
		pipe.ExpireNX(ctx, r.key(key), ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: incrbyfloat %s: %w", key, err)
	}
	return incr.Val(), nil
}

// GetFloat returns the current value of a float counter, 0 if absent.
func (r *Redis) GetFloat(ctx context.Context, key string) (float64, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: getfloat %s: %w", key, err)
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("store: getfloat %s: %w", key, err)
	}
	return f, nil
}

// Incr atomically increments the integer counter at key.
func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, r.key(key))
		pipe.ExpireNX(ctx, r.key(key), ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// WindowAdd records an event in the sorted-set window at key, prunes events
// outside the window, and returns the resulting count.
func (r *Redis) WindowAdd(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (int64, error) {
	score := float64(now.UnixNano())
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)
	// Member must be unique even for same-nanosecond events from different
	// instances.
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	var card *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, r.key(key), "-inf", cutoff)
		pipe.ZAdd(ctx, r.key(key), goredis.Z{Score: score, Member: member})
		card = pipe.ZCard(ctx, r.key(key))
		pipe.Expire(ctx, r.key(key), ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: windowadd %s: %w", key, err)
	}
	return card.Val(), nil
}

// Get returns the value stored at key, or ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err == goredis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value at key with the given TTL.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}
