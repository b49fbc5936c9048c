package detach

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics registers the detach collectors on registry.
// A nil registry gets a fresh one, exposed through GetRegistry.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

func (p *PrometheusMetrics) counter(name, subsystem, metric, help string, labels ...string) {
	p.counters[name] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "detach",
			Subsystem: subsystem,
			Name:      metric,
			Help:      help,
		},
		labels,
	)
}

// registerDefaultMetrics registers the collectors for every walk and store metric
func (p *PrometheusMetrics) registerDefaultMetrics() {
	p.counter(MetricSanitizeSuccess, "sanitize", "success_total", "Walks that completed", "mode")
	p.counter(MetricSanitizeError, "sanitize", "errors_total", "Walks aborted with an error", "mode", "reason")
	p.counter(MetricDepthExceeded, "sanitize", "depth_exceeded_total", "Branches that hit the depth limit", "mode")
	p.counter(MetricThresholdBreach, "sanitize", "threshold_breaches_total", "Walks over the size or time threshold", "mode")
	p.counter(MetricCollisions, "identity", "collisions_total", "Identity key collisions between distinct objects")

	p.counter(MetricProxyReplaced, "proxy", "replaced_total", "Unloaded proxies replaced by identity-only stand-ins")
	p.counter(MetricProxyUnwrapped, "proxy", "unwrapped_total", "Loaded proxies replaced by their target")
	p.counter(MetricProxyNulled, "proxy", "nulled_total", "Unloaded properties cleared in accessor mode")
	p.counter(MetricProxyUnresolved, "proxy", "unresolved_total", "Unloaded proxies left in place")

	p.counter(MetricCollectionNulled, "collection", "nulled_total", "Unloaded collections cleared")
	p.counter(MetricCollectionReplaced, "collection", "replaced_total", "Loaded collections copied into plain containers")
	p.counter(MetricAccessFailure, "access", "failures_total", "Fields or properties that could not be read or written")

	p.counter(MetricStorePut, "store", "puts_total", "Entities written", "backend", "format")
	p.counter(MetricStoreGet, "store", "gets_total", "Entities read", "backend", "format")
	p.counter(MetricStoreError, "store", "errors_total", "Store operations that failed", "backend", "operation")

	p.histograms[MetricSanitizeDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "detach",
			Subsystem: "sanitize",
			Name:      "duration_seconds",
			Help:      "Walk duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"mode"},
	)

	p.histograms[MetricSanitizeObjects] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "detach",
			Subsystem: "sanitize",
			Name:      "objects",
			Help:      "Distinct objects visited per walk",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 50000},
		},
		[]string{"mode"},
	)

	p.histograms[MetricStoreDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "detach",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	counter, ok := p.counters[name]
	if !ok {
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "detach",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic counter: " + name,
			},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}

	counter.With(p.extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "detach",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}

	gauge.With(p.extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "detach",
				Name:      sanitizeMetricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}

	histogram.With(p.extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// extractLabels extracts label names from tags (every even index)
func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// sanitizeMetricName turns "detach.x.y" into a valid Prometheus name
func sanitizeMetricName(name string) string {
	name = strings.TrimPrefix(name, "detach.")
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}
