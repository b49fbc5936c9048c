package detach

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on plain Redis string keys
type RedisBackend struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	ownsClient bool
	breaker    *CircuitBreaker
}

// NewRedisBackend stores entries under prefix with an optional ttl (zero = no expiry).
// The client stays owned by the caller.
func NewRedisBackend(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// WithCircuitBreaker makes every call go through cb, so a Redis outage
// fails fast instead of stalling each store call until its timeout
func (b *RedisBackend) WithCircuitBreaker(cb *CircuitBreaker) *RedisBackend {
	b.breaker = cb
	return b
}

func (b *RedisBackend) redisKey(key string) string {
	return b.prefix + key
}

// exec runs fn through the breaker when one is configured; missing keys are
// not backend failures
func (b *RedisBackend) exec(ctx context.Context, fn func() error) error {
	if b.breaker == nil {
		return fn()
	}
	return b.breaker.Execute(ctx, fn, IsNotFound)
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.exec(ctx, func() error {
		var err error
		data, err = b.client.Get(ctx, b.redisKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return WithContext(ErrNotFound, map[string]interface{}{"key": key})
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *RedisBackend) Put(ctx context.Context, key string, data []byte) error {
	return b.exec(ctx, func() error {
		return b.client.Set(ctx, b.redisKey(key), data, b.ttl).Err()
	})
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.exec(ctx, func() error {
		n, err := b.client.Del(ctx, b.redisKey(key)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return WithContext(ErrNotFound, map[string]interface{}{"key": key})
		}
		return nil
	})
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := b.exec(ctx, func() error {
		var err error
		n, err = b.client.Exists(ctx, b.redisKey(key)).Result()
		return err
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List scans the keyspace; the backend prefix is stripped from the result
func (b *RedisBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.exec(ctx, func() error {
		iter := b.client.Scan(ctx, 0, b.redisKey(prefix)+"*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, strings.TrimPrefix(iter.Val(), b.prefix))
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.exec(ctx, func() error {
		if err := b.client.Ping(ctx).Err(); err != nil {
			return WithContext(ErrBackendUnavailable, map[string]interface{}{
				"addr":  b.client.Options().Addr,
				"cause": err.Error(),
			})
		}
		return nil
	})
}

// Close closes the client only when the backend created it
func (b *RedisBackend) Close() error {
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}
