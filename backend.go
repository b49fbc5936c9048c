package detach

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend stores the encoded form of sanitized entities
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key under prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	// Health check
	Ping(ctx context.Context) error

	// Resource cleanup
	Close() error
}

// BackendConfig holds configuration for any backend
type BackendConfig struct {
	Type string // "filesystem" or "redis"
	Path string // Base directory (filesystem)

	// Redis only
	Prefix string         // Optional prefix for all keys
	TTL    time.Duration  // Zero keeps entries forever
	Redis  *redis.Options // Nil reads REDIS_ADDR, REDIS_PASSWORD and REDIS_DB

	// BreakerFailures > 0 puts a CircuitBreaker in front of the backend
	BreakerFailures int
	BreakerReset    time.Duration
}

// Validate checks if the BackendConfig is valid
func (c BackendConfig) Validate() error {
	switch c.Type {
	case "filesystem":
		if c.Path == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Path",
				"reason": "filesystem backend requires a base path",
			})
		}
	case "redis":
		if c.BreakerFailures < 0 || c.BreakerReset < 0 {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "BreakerFailures",
				"reason": "circuit breaker settings must be non-negative",
			})
		}
		if c.TTL < 0 {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "TTL",
				"value":  c.TTL,
				"reason": "must be non-negative",
			})
		}
	case "":
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"reason": "backend type is required",
		})
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"value":  c.Type,
			"reason": "unknown backend type",
		})
	}
	return nil
}

// NewBackend builds the backend described by cfg
func NewBackend(cfg BackendConfig) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "redis":
		opts := cfg.Redis
		if opts == nil {
			opts = RedisOptions()
		}
		b := NewRedisBackend(redis.NewClient(opts), cfg.Prefix, cfg.TTL)
		b.ownsClient = true
		if cfg.BreakerFailures > 0 {
			reset := cfg.BreakerReset
			if reset == 0 {
				reset = DefaultBreakerReset
			}
			b.WithCircuitBreaker(NewCircuitBreaker(cfg.BreakerFailures, reset))
		}
		return b, nil
	default:
		return NewFilesystemBackend(cfg.Path), nil
	}
}
