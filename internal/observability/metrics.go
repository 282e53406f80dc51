// Package observability exposes Prometheus metrics for the request pipeline.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service's Prometheus metrics.
type Collector struct {
	// Request metrics
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Provider metrics
	ProviderLatency *prometheus.HistogramVec
	ProviderErrors  *prometheus.CounterVec
	ProviderRetries prometheus.Counter
	Failovers       prometheus.Counter
	Fallbacks       prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	Deduped     prometheus.Counter

	// Retrieval metrics
	ChunksRetrieved prometheus.Histogram
	DocumentsStored *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewCollector creates and registers the metric set on its own registry, so
// repeated construction (tests, restarts) never panics on re-registration.
func NewCollector() *Collector {
	c := &Collector{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qamind_requests_total",
				Help: "Requests processed, by intent and outcome",
			},
			[]string{"intent", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qamind_request_duration_seconds",
				Help:    "End-to-end request duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"intent"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qamind_provider_latency_seconds",
				Help:    "LLM provider call latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ProviderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qamind_provider_errors_total",
				Help: "Provider call failures, by provider and error kind",
			},
			[]string{"provider", "kind"},
		),
		ProviderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qamind_provider_retries_total",
			Help: "Provider call retries",
		}),
		Failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qamind_failovers_total",
			Help: "Answers produced by a non-primary provider",
		}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qamind_fallbacks_total",
			Help: "Canned fallback answers served after provider exhaustion",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qamind_cache_hits_total",
			Help: "Response cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qamind_cache_misses_total",
			Help: "Response cache misses",
		}),
		Deduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qamind_deduplicated_requests_total",
			Help: "Requests that joined an identical in-flight computation",
		}),
		ChunksRetrieved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qamind_chunks_retrieved",
			Help:    "Chunks retrieved per request",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		DocumentsStored: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qamind_embeddings_stored",
				Help: "Embedding records stored, by project",
			},
			[]string{"project"},
		),
		registry: prometheus.NewRegistry(),
	}

	c.registry.MustRegister(
		c.RequestCount,
		c.RequestDuration,
		c.ProviderLatency,
		c.ProviderErrors,
		c.ProviderRetries,
		c.Failovers,
		c.Fallbacks,
		c.CacheHits,
		c.CacheMisses,
		c.Deduped,
		c.ChunksRetrieved,
		c.DocumentsStored,
	)
	return c
}

// Handler returns the HTTP handler serving the metric exposition.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// CallSucceeded implements the gateway call observer.
func (c *Collector) CallSucceeded(provider, model string, duration time.Duration) {
	c.ProviderLatency.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// CallFailed implements the gateway call observer.
func (c *Collector) CallFailed(provider, model, kind string) {
	c.ProviderErrors.WithLabelValues(provider, kind).Inc()
}

// RetryScheduled implements the gateway call observer.
func (c *Collector) RetryScheduled(provider, model string) {
	c.ProviderRetries.Inc()
}

// Hit implements the response cache observer.
func (c *Collector) Hit() { c.CacheHits.Inc() }

// Miss implements the response cache observer.
func (c *Collector) Miss() { c.CacheMisses.Inc() }

// Deduplicated implements the response cache observer.
func (c *Collector) Deduplicated() { c.Deduped.Inc() }
