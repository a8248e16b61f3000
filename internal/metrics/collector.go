// Package metrics exposes a small set of Prometheus histograms/counters for
// the filesystem operations layer: per-operation count and latency,
// cache hit/miss, and upload retry counts. This is ambient observability,
// not a component of its own, so it stays deliberately narrow rather
// than mirroring every metric a larger deployment might want.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus collectors zerofs records against.
type Collector struct {
	registry *prometheus.Registry

	opDuration  *prometheus.HistogramVec
	opErrors    *prometheus.CounterVec
	cacheHits   *prometheus.CounterVec
	uploadRetry prometheus.Counter
}

// NewCollector builds and registers zerofs's metrics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zerofs",
			Name:      "operation_duration_seconds",
			Help:      "Duration of filesystem operations in seconds, by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"operation"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zerofs",
			Name:      "operation_errors_total",
			Help:      "Count of filesystem operations that returned a non-zero errno.",
		}, []string{"operation"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zerofs",
			Name:      "cache_requests_total",
			Help:      "Count of disk cache lookups, by hit or miss.",
		}, []string{"result"}),
		uploadRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zerofs",
			Name:      "upload_retries_total",
			Help:      "Count of background upload attempts that failed and were retried.",
		}),
	}

	registry.MustRegister(c.opDuration, c.opErrors, c.cacheHits, c.uploadRetry)
	return c
}

// ObserveOperation records an operation's latency and, if failed is
// true, counts it as an error.
func (c *Collector) ObserveOperation(op string, seconds float64, failed bool) {
	c.opDuration.WithLabelValues(op).Observe(seconds)
	if failed {
		c.opErrors.WithLabelValues(op).Inc()
	}
}

// RecordCacheHit increments the hit or miss counter.
func (c *Collector) RecordCacheHit(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheHits.WithLabelValues(result).Inc()
}

// RecordUploadRetry increments the upload retry counter.
func (c *Collector) RecordUploadRetry() {
	c.uploadRetry.Inc()
}

// Handler returns the HTTP handler serving these metrics in the
// Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
