package detach

import (
	"testing"
	"time"
)

func TestRedisOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "")
		t.Setenv("REDIS_PASSWORD", "")
		t.Setenv("REDIS_DB", "")

		opts := RedisOptions()
		if opts.Addr != "localhost:6379" || opts.Password != "" || opts.DB != 0 {
			t.Errorf("unexpected defaults: addr=%s password=%q db=%d", opts.Addr, opts.Password, opts.DB)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "redis.example.com:6380")
		t.Setenv("REDIS_PASSWORD", "secret123")
		t.Setenv("REDIS_DB", "5")

		opts := RedisOptions()
		if opts.Addr != "redis.example.com:6380" || opts.Password != "secret123" || opts.DB != 5 {
			t.Errorf("unexpected options: addr=%s password=%q db=%d", opts.Addr, opts.Password, opts.DB)
		}
	})

	t.Run("invalid db falls back", func(t *testing.T) {
		t.Setenv("REDIS_DB", "invalid")
		if opts := RedisOptions(); opts.DB != 0 {
			t.Errorf("expected db 0, got %d", opts.DB)
		}
	})
}

func TestBackendConfigFromEnv(t *testing.T) {
	clear := func(t *testing.T) {
		for _, key := range []string{"DETACH_BACKEND", "DETACH_DATA_DIR", "DETACH_KEY_PREFIX",
			"DETACH_TTL", "DETACH_BREAKER_FAILURES", "DETACH_BREAKER_RESET"} {
			t.Setenv(key, "")
		}
	}

	t.Run("filesystem by default", func(t *testing.T) {
		clear(t)
		cfg, err := BackendConfigFromEnv()
		if err != nil {
			t.Fatalf("BackendConfigFromEnv failed: %v", err)
		}
		if cfg.Type != "filesystem" || cfg.Path != "./data" || cfg.Redis != nil {
			t.Errorf("unexpected config: %+v", cfg)
		}
	})

	t.Run("redis", func(t *testing.T) {
		clear(t)
		t.Setenv("DETACH_BACKEND", "redis")
		t.Setenv("DETACH_KEY_PREFIX", "orders:")
		t.Setenv("DETACH_TTL", "24h")
		t.Setenv("DETACH_BREAKER_FAILURES", "5")
		t.Setenv("DETACH_BREAKER_RESET", "10s")
		t.Setenv("REDIS_ADDR", "cache:6379")

		cfg, err := BackendConfigFromEnv()
		if err != nil {
			t.Fatalf("BackendConfigFromEnv failed: %v", err)
		}
		if cfg.Prefix != "orders:" || cfg.TTL != 24*time.Hour {
			t.Errorf("unexpected prefix/ttl: %+v", cfg)
		}
		if cfg.BreakerFailures != 5 || cfg.BreakerReset != 10*time.Second {
			t.Errorf("unexpected breaker settings: %+v", cfg)
		}
		if cfg.Redis == nil || cfg.Redis.Addr != "cache:6379" {
			t.Errorf("redis options not read: %+v", cfg.Redis)
		}
	})

	t.Run("unparseable ttl", func(t *testing.T) {
		clear(t)
		t.Setenv("DETACH_BACKEND", "redis")
		t.Setenv("DETACH_TTL", "a day")
		if _, err := BackendConfigFromEnv(); !IsInvalidConfig(err) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		clear(t)
		t.Setenv("DETACH_BACKEND", "s3")
		if _, err := BackendConfigFromEnv(); !IsInvalidConfig(err) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}
