package detach

import (
	"os"
	"strconv"
	"time"
)

// Guard defaults
const (
	DefaultMaxDepth             = 20
	DefaultFailOnDepthExceeded  = true
	DefaultWarnOnThreshold      = true
	DefaultDurationThreshold    = 5000 * time.Millisecond
	DefaultObjectCountThreshold = 10000

	// slowWalkDebugThreshold is when a walk gets a debug line even with
	// threshold warnings turned off
	slowWalkDebugThreshold = 10 * time.Second

	// File backend configuration
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755

	// DefaultBreakerReset is how long an open circuit stays open
	DefaultBreakerReset = 30 * time.Second
)

// GuardOptions bounds a walk
type GuardOptions struct {
	// MaxDepth is the deepest level a value may be walked at; the root is level 0
	MaxDepth int
	// FailOnDepthExceeded aborts the walk with ErrDepthExceeded; otherwise the
	// branch is dropped with a warning
	FailOnDepthExceeded bool
	// WarnOnThreshold logs a warning when a walk is slow or large
	WarnOnThreshold      bool
	DurationThreshold    time.Duration
	ObjectCountThreshold int
}

// DefaultGuardOptions returns the default guard configuration
func DefaultGuardOptions() GuardOptions {
	return GuardOptions{
		MaxDepth:             DefaultMaxDepth,
		FailOnDepthExceeded:  DefaultFailOnDepthExceeded,
		WarnOnThreshold:      DefaultWarnOnThreshold,
		DurationThreshold:    DefaultDurationThreshold,
		ObjectCountThreshold: DefaultObjectCountThreshold,
	}
}

// Validate checks if the GuardOptions are valid
func (o GuardOptions) Validate() error {
	if o.MaxDepth < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxDepth",
			"value":  o.MaxDepth,
			"reason": "must be non-negative",
		})
	}
	if o.DurationThreshold < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "DurationThreshold",
			"value":  o.DurationThreshold,
			"reason": "must be non-negative",
		})
	}
	if o.ObjectCountThreshold < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "ObjectCountThreshold",
			"value":  o.ObjectCountThreshold,
			"reason": "must be non-negative",
		})
	}
	return nil
}

// GuardOptionsFromEnv returns DefaultGuardOptions overridden by environment variables.
//
// Environment variables read (with defaults):
//   - DETACH_MAX_DEPTH (default: 20)
//   - DETACH_FAIL_ON_DEPTH (default: true)
//   - DETACH_WARN_ON_THRESHOLD (default: true)
//   - DETACH_DURATION_THRESHOLD_MS (default: 5000)
//   - DETACH_OBJECT_COUNT_THRESHOLD (default: 10000)
//
// Unparseable values fall back to the default. The result is validated.
func GuardOptionsFromEnv() (GuardOptions, error) {
	opts := DefaultGuardOptions()
	opts.MaxDepth = getEnvAsInt("DETACH_MAX_DEPTH", opts.MaxDepth)
	opts.FailOnDepthExceeded = getEnvAsBool("DETACH_FAIL_ON_DEPTH", opts.FailOnDepthExceeded)
	opts.WarnOnThreshold = getEnvAsBool("DETACH_WARN_ON_THRESHOLD", opts.WarnOnThreshold)
	opts.DurationThreshold = time.Duration(getEnvAsInt("DETACH_DURATION_THRESHOLD_MS",
		int(opts.DurationThreshold/time.Millisecond))) * time.Millisecond
	opts.ObjectCountThreshold = getEnvAsInt("DETACH_OBJECT_COUNT_THRESHOLD", opts.ObjectCountThreshold)
	return opts, opts.Validate()
}

// getEnvAsInt reads an integer environment variable with a default fallback.
func getEnvAsInt(key string, defaultVal int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}
