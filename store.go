package detach

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"path"
	"strings"
	"time"
)

// Store sanitizes entities right before encoding them onto a Backend, so
// nothing written ever carries an unloaded reference
type Store struct {
	backend  Backend
	detacher *Detacher
	logger   Logger
	metrics  Metrics
	name     string
}

// NewStore creates a store with no-op logger and metrics.
// A nil detacher uses the default guard options.
func NewStore(backend Backend, detacher *Detacher) *Store {
	return NewStoreWithObservability(backend, detacher, &NoOpLogger{}, &NoOpMetrics{})
}

// NewStoreWithObservability creates a store with logging and metrics
func NewStoreWithObservability(backend Backend, detacher *Detacher, logger Logger, metrics Metrics) *Store {
	if detacher == nil {
		detacher = defaultDetacher
	}
	return &Store{
		backend:  backend,
		detacher: detacher,
		logger:   logger,
		metrics:  metrics,
		name:     backendName(backend),
	}
}

func backendName(b Backend) string {
	switch b.(type) {
	case *FilesystemBackend:
		return "filesystem"
	case *RedisBackend:
		return "redis"
	}
	return fmt.Sprintf("%T", b)
}

// SetLogger updates the logger for this store
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetrics updates the metrics collector for this store
func (s *Store) SetMetrics(metrics Metrics) {
	s.metrics = metrics
}

// PutJSON sanitizes value field by field and stores its JSON encoding
func (s *Store) PutJSON(ctx context.Context, key string, value interface{}) error {
	return s.put(ctx, key, value, FieldAccess, "json", json.Marshal)
}

// PutXML sanitizes value through its accessors and stores its XML encoding
func (s *Store) PutXML(ctx context.Context, key string, value interface{}) error {
	return s.put(ctx, key, value, AccessorAccess, "xml", xml.Marshal)
}

func (s *Store) put(ctx context.Context, key string, value interface{}, mode Mode, format string, marshal func(any) ([]byte, error)) error {
	report, err := s.detacher.Sanitize(value, mode)
	if err != nil {
		s.metrics.Increment(MetricStoreError, "backend", s.name, "operation", "sanitize")
		return fmt.Errorf("failed to sanitize %s: %w", key, err)
	}
	if report.Unresolved > 0 {
		s.logger.Warn("storing entity with unresolved proxies",
			"key", key,
			"unresolved", report.Unresolved,
		)
	}

	data, err := marshal(value)
	if err != nil {
		s.metrics.Increment(MetricStoreError, "backend", s.name, "operation", "marshal")
		return fmt.Errorf("failed to marshal: %w", err)
	}

	start := time.Now()
	err = s.backend.Put(ctx, key, data)
	s.metrics.Timing(MetricStoreDuration, time.Since(start), "backend", s.name, "operation", "put")

	if err != nil {
		s.metrics.Increment(MetricStoreError, "backend", s.name, "operation", "put")
		return err
	}

	s.metrics.Increment(MetricStorePut, "backend", s.name, "format", format)
	return nil
}

// GetJSON fetches and unmarshals a JSON object
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) error {
	return s.get(ctx, key, dest, "json", json.Unmarshal)
}

// GetXML fetches and unmarshals an XML object
func (s *Store) GetXML(ctx context.Context, key string, dest interface{}) error {
	return s.get(ctx, key, dest, "xml", xml.Unmarshal)
}

func (s *Store) get(ctx context.Context, key string, dest interface{}, format string, unmarshal func([]byte, any) error) error {
	start := time.Now()
	data, err := s.backend.Get(ctx, key)
	s.metrics.Timing(MetricStoreDuration, time.Since(start), "backend", s.name, "operation", "get")

	if err != nil {
		if !IsNotFound(err) {
			s.metrics.Increment(MetricStoreError, "backend", s.name, "operation", "get")
		}
		return err
	}

	if err := unmarshal(data, dest); err != nil {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"key":    key,
			"format": format,
			"cause":  err.Error(),
		})
	}

	s.metrics.Increment(MetricStoreGet, "backend", s.name, "format", format)
	return nil
}

// Save assigns an identifier when e has none and stores it as JSON under
// collection/<oid>.json. It returns the key.
func (s *Store) Save(ctx context.Context, collection string, e Identifiable) (string, error) {
	if AssignID(e) {
		s.logger.Debug("assigned identifier", "collection", collection, "oid", e.GetOid())
	}
	key := EntityKey(collection, e.GetOid())
	if err := s.PutJSON(ctx, key, e); err != nil {
		return "", err
	}
	return key, nil
}

// EntityKey returns the key an entity is saved under
func EntityKey(collection, oid string) string {
	return path.Join(strings.Trim(collection, "/"), oid+".json")
}

// Delete removes an object
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.backend.Delete(ctx, key)
	s.metrics.Timing(MetricStoreDuration, time.Since(start), "backend", s.name, "operation", "delete")

	if err != nil && !IsNotFound(err) {
		s.metrics.Increment(MetricStoreError, "backend", s.name, "operation", "delete")
	}
	return err
}

// Exists checks if a key exists
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.backend.Exists(ctx, key)
}

// List returns all keys with the given prefix
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	return s.backend.List(ctx, prefix)
}

// Backend returns the underlying backend
func (s *Store) Backend() Backend {
	return s.backend
}

// Ping checks backend health
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases resources held by the store and backend
func (s *Store) Close() error {
	return s.backend.Close()
}
