package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes outbound HTTP client metrics through Prometheus. It
// satisfies the client's MetricsCollector interface.
type Collector struct {
	requestDuration *prometheus.HistogramVec
	requestCount    *prometheus.CounterVec
	requestErrors   *prometheus.CounterVec
	retries         *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec

	calculations *prometheus.CounterVec
	aggregations *prometheus.CounterVec

	httpDuration *prometheus.HistogramVec
}

// NewCollector registers the metric families on the default registry.
func NewCollector() *Collector {
	return &Collector{
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pricing_api",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Outbound HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricing_api",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Outbound HTTP requests by status.",
		}, []string{"method", "path", "status"}),
		requestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricing_api",
			Subsystem: "client",
			Name:      "request_errors_total",
			Help:      "Outbound HTTP requests that failed.",
		}, []string{"method", "path"}),
		retries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricing_api",
			Subsystem: "client",
			Name:      "retries_total",
			Help:      "Retries issued for throttled upstream responses.",
		}, []string{"method", "path"}),
		cacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricing_api",
			Subsystem: "client",
			Name:      "cache_hits_total",
			Help:      "Responses served from the client cache.",
		}, []string{"path"}),
		calculations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricing_api",
			Subsystem: "pricing",
			Name:      "calculations_total",
			Help:      "Rate calculations by symbol and outcome.",
		}, []string{"symbol", "outcome"}),
		aggregations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricing_api",
			Subsystem: "p2p",
			Name:      "aggregations_total",
			Help:      "Market aggregation passes by symbol and outcome.",
		}, []string{"symbol", "outcome"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pricing_api",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Inbound HTTP request latency per route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (c *Collector) RecordRequestDuration(method, path string, statusCode int, duration time.Duration) {
	c.requestDuration.WithLabelValues(method, path, strconv.Itoa(statusCode)).Observe(duration.Seconds())
}

func (c *Collector) RecordRequestCount(method, path string, statusCode int) {
	c.requestCount.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordRequestError(method, path string) {
	c.requestErrors.WithLabelValues(method, path).Inc()
}

func (c *Collector) RecordRetry(method, path string) {
	c.retries.WithLabelValues(method, path).Inc()
}

func (c *Collector) RecordCacheHit(path string) {
	c.cacheHits.WithLabelValues(path).Inc()
}

// RecordCalculation counts one pricing calculation.
func (c *Collector) RecordCalculation(symbol, outcome string) {
	c.calculations.WithLabelValues(symbol, outcome).Inc()
}

// RecordAggregation counts one market aggregation pass.
func (c *Collector) RecordAggregation(symbol, outcome string) {
	c.aggregations.WithLabelValues(symbol, outcome).Inc()
}

// RecordHTTPRequest observes one inbound request against the matched route.
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpDuration.WithLabelValues(method, route, strconv.Itoa(statusCode)).Observe(duration.Seconds())
}
