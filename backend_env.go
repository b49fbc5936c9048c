package detach

import (
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions builds client options from REDIS_ADDR (default
// "localhost:6379"), REDIS_PASSWORD and REDIS_DB:
//
//	client := redis.NewClient(detach.RedisOptions())
//	backend := detach.NewRedisBackend(client, "entities:", 0)
func RedisOptions() *redis.Options {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// BackendConfigFromEnv describes the store backend from the environment:
//
//	DETACH_BACKEND           "filesystem" (default) or "redis"
//	DETACH_DATA_DIR          filesystem base directory (default "./data")
//	DETACH_KEY_PREFIX        redis key prefix
//	DETACH_TTL               redis entry lifetime, e.g. "24h" (default: none)
//	DETACH_BREAKER_FAILURES  consecutive redis failures before failing fast
//	DETACH_BREAKER_RESET     how long the breaker stays open, e.g. "30s"
//
// The redis connection itself comes from RedisOptions.
func BackendConfigFromEnv() (BackendConfig, error) {
	cfg := BackendConfig{
		Type:            getEnv("DETACH_BACKEND", "filesystem"),
		Path:            getEnv("DETACH_DATA_DIR", "./data"),
		Prefix:          os.Getenv("DETACH_KEY_PREFIX"),
		BreakerFailures: getEnvAsInt("DETACH_BREAKER_FAILURES", 0),
	}

	var err error
	if cfg.TTL, err = getEnvAsDuration("DETACH_TTL", 0); err != nil {
		return cfg, err
	}
	if cfg.BreakerReset, err = getEnvAsDuration("DETACH_BREAKER_RESET", 0); err != nil {
		return cfg, err
	}
	if cfg.Type == "redis" {
		cfg.Redis = RedisOptions()
	}
	return cfg, cfg.Validate()
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvAsDuration fails on a value that is set but unparseable, so a typo
// in a lifetime never silently means "forever"
func getEnvAsDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultVal, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  key,
			"value":  valueStr,
			"reason": "expected a duration such as 30s or 24h",
		})
	}
	return d, nil
}
