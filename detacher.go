package detach

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// Detacher makes entity graphs safe to serialize: unloaded references are
// replaced by identity-only stand-ins or cleared, loaded lazy collections are
// copied into plain ones, and nothing is ever fetched.
//
// A Detacher is safe for concurrent use. Calls on the same root wait for
// each other; graphs are mutated in place, so two different roots that share
// objects must not be walked at once.
type Detacher struct {
	opts    GuardOptions
	logger  Logger
	metrics Metrics
	hasher  IdentityHasher

	mu           sync.RWMutex
	constructors map[reflect.Type]func(id any) (any, error)

	roots *rootLocks

	// per-type reflection caches
	fields    sync.Map
	accessors sync.Map
}

// Report summarizes one walk
type Report struct {
	Mode                Mode
	Objects             int
	Collisions          int
	ProxiesReplaced     int
	ProxiesUnwrapped    int
	// ProxiesNulled counts unloaded properties cleared in accessor mode
	ProxiesNulled       int
	ValuesNulled        int
	CollectionsNulled   int
	CollectionsReplaced int
	Unresolved          int
	AccessFailures      int
	Truncated           int
	// Mutations counts writes to slots and containers; zero on an already
	// sanitized graph
	Mutations int
	Duration  time.Duration
}

// NewDetacher creates a detacher with no-op logger and metrics
func NewDetacher(opts GuardOptions) (*Detacher, error) {
	return NewDetacherWithObservability(opts, &NoOpLogger{}, &NoOpMetrics{})
}

// NewDetacherWithObservability creates a detacher with logging and metrics
func NewDetacherWithObservability(opts GuardOptions, logger Logger, metrics Metrics) (*Detacher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	return &Detacher{
		opts:         opts,
		logger:       logger,
		metrics:      metrics,
		hasher:       AddressHasher,
		constructors: make(map[reflect.Type]func(any) (any, error)),
		roots:        newRootLocks(defaultRootStripes),
	}, nil
}

// SetLogger updates the logger for this detacher. Walks already running
// keep the logger they started with.
func (d *Detacher) SetLogger(logger Logger) {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger = logger
}

// SetMetrics updates the metrics collector for this detacher
func (d *Detacher) SetMetrics(metrics Metrics) {
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = metrics
}

// WithIdentityHasher replaces the function that buckets object addresses.
// Walks stay correct with any hasher; a poor one only costs time.
func (d *Detacher) WithIdentityHasher(hasher IdentityHasher) *Detacher {
	if hasher == nil {
		hasher = AddressHasher
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hasher = hasher
	return d
}

// observers returns the logger, metrics and hasher a new walk runs with
func (d *Detacher) observers() (Logger, Metrics, IdentityHasher) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.logger, d.metrics, d.hasher
}

// Options returns the guard configuration
func (d *Detacher) Options() GuardOptions {
	return d.opts
}

// RegisterConstructor installs the function that builds a stand-in *T from
// a proxy identifier. Types without one get a zero *T with the identifier
// written to its oid or id field.
func RegisterConstructor[T any](d *Detacher, ctor func(id any) (*T, error)) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constructors[t] = func(id any) (any, error) {
		v, err := ctor(id)
		if err != nil || v == nil {
			return nil, err
		}
		return v, nil
	}
}

func (d *Detacher) constructor(t reflect.Type) func(any) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.constructors[t]
}

// Sanitize walks the graph under root in place. Only a depth limit breach
// with FailOnDepthExceeded fails the call; every other problem is logged and
// counted in the report while the walk carries on.
func (d *Detacher) Sanitize(root any, mode Mode) (*Report, error) {
	report := &Report{Mode: mode}
	rootValue := reflect.ValueOf(root)

	// Concurrent walks of one graph would race on its fields
	unlock := d.roots.lock(rootValue)
	defer unlock()

	w := d.newWalker(mode, report)
	start := time.Now()
	err := w.walkRoot(rootValue)
	report.Duration = time.Since(start)
	report.Objects = w.visited.size()
	report.Collisions = w.visited.collided
	w.visited.clear()

	w.metrics.Timing(MetricSanitizeDuration, report.Duration, "mode", mode.String())
	w.metrics.Histogram(MetricSanitizeObjects, float64(report.Objects), "mode", mode.String())

	if err != nil {
		reason := "error"
		if IsDepthExceeded(err) {
			reason = "depth_exceeded"
		}
		w.metrics.Increment(MetricSanitizeError, "mode", mode.String(), "reason", reason)
		w.logger.Error("sanitize failed",
			"mode", mode.String(),
			"objects", report.Objects,
			"error", err,
		)
		return report, err
	}

	w.guard.finish(unwrapInterface(rootValue), report.Objects, report.Duration)
	w.metrics.Increment(MetricSanitizeSuccess, "mode", mode.String())
	return report, nil
}

// Session detaches an entity from its persistence context, so nothing
// loads through it afterwards
type Session interface {
	Detach(ctx context.Context, entity any) error
}

// SessionFunc adapts a function to the Session interface
type SessionFunc func(ctx context.Context, entity any) error

func (f SessionFunc) Detach(ctx context.Context, entity any) error {
	return f(ctx, entity)
}

// SanitizeDetached detaches root from s, then sanitizes it. A nil session
// skips the detach step.
func (d *Detacher) SanitizeDetached(ctx context.Context, s Session, root any, mode Mode) (*Report, error) {
	if s != nil && root != nil {
		if err := s.Detach(ctx, root); err != nil {
			logger, metrics, _ := d.observers()
			metrics.Increment(MetricSanitizeError, "mode", mode.String(), "reason", "detach")
			logger.Error("session detach failed", "type", reflect.TypeOf(root).String(), "error", err)
			return nil, WithContext(fmt.Errorf("%w: %w", ErrDetachFailed, err), map[string]interface{}{
				"type": reflect.TypeOf(root).String(),
			})
		}
	}
	return d.Sanitize(root, mode)
}

var defaultDetacher, _ = NewDetacher(DefaultGuardOptions())

// Sanitize walks root with the default guard options and no observability
func Sanitize(root any, mode Mode) error {
	_, err := defaultDetacher.Sanitize(root, mode)
	return err
}

// SanitizeDetached detaches root from s and walks it with the default guard options
func SanitizeDetached(ctx context.Context, s Session, root any, mode Mode) error {
	_, err := defaultDetacher.SanitizeDetached(ctx, s, root, mode)
	return err
}
