// Package metrics exports Prometheus metrics for extraction, matching and the HTTP API.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/umt-belongings/hub/internal/embedding"
	"github.com/umt-belongings/hub/internal/ranking"
)

const namespace = "belongings"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	extractions       *prometheus.CounterVec
	extractionLatency prometheus.Histogram
	matchLatency      *prometheus.HistogramVec
	matchResults      prometheus.Histogram
	candidatesScanned prometheus.Counter
	notifications     *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpLatency       *prometheus.HistogramVec
}

// Config configures the collectors.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64

	// IncludeRuntime registers the Go runtime and process collectors.
	IncludeRuntime bool
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		IncludeRuntime: true,
	}
}

// New creates and registers the collectors.
func New(cfg Config) *Metrics {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{registry: registry}

	m.extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Total number of feature extractions by extractor and outcome",
		},
		[]string{"extractor", "status"},
	)
	m.extractionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_seconds",
			Help:      "Feature extraction latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)
	m.matchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_seconds",
			Help:      "Similarity search latency in seconds, extraction excluded",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"mode"},
	)
	m.matchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_results",
			Help:      "Number of matches returned per ranking pass",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
	)
	m.candidatesScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_scanned_total",
			Help:      "Total number of candidate posts scored",
		},
	)
	m.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of notifications created",
		},
		[]string{"type"},
	)
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"method", "route"},
	)

	registry.MustRegister(
		m.extractions,
		m.extractionLatency,
		m.matchLatency,
		m.matchResults,
		m.candidatesScanned,
		m.notifications,
		m.httpRequests,
		m.httpLatency,
	)
	if cfg.IncludeRuntime {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// RecordExtraction counts one extraction attempt and its latency.
func (m *Metrics) RecordExtraction(extractor string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, embedding.ErrExtractorUnavailable):
		status = "unavailable"
	case errors.Is(err, embedding.ErrExtractionFailed):
		status = "failed"
	default:
		status = "error"
	}
	m.extractions.WithLabelValues(extractor, status).Inc()
	m.extractionLatency.Observe(latency.Seconds())
}

// RecordMatch records the latency of one similarity search. mode is "search",
// "post" or "auto".
func (m *Metrics) RecordMatch(mode string, latency time.Duration) {
	if m == nil {
		return
	}
	m.matchLatency.WithLabelValues(mode).Observe(latency.Seconds())
}

// ObserveRank implements ranking.Observer.
func (m *Metrics) ObserveRank(stats ranking.Stats) {
	if m == nil {
		return
	}
	m.candidatesScanned.Add(float64(stats.Scored))
	m.matchResults.Observe(float64(stats.Returned))
}

// RecordNotification counts one created notification.
func (m *Metrics) RecordNotification(notificationType string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(notificationType).Inc()
}

// RecordHTTPRequest records one served request. route is the router pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(latency.Seconds())
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
