// Package metrics exposes Prometheus collectors for scans and marketplace
// calls. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skinbot"

// Metrics owns a private registry and the bot's collectors.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests   *prometheus.CounterVec
	apiDuration   *prometheus.HistogramVec
	apiRetries    *prometheus.CounterVec
	backoffs      *prometheus.CounterVec
	backoffDelay  *prometheus.HistogramVec
	pages         *prometheus.CounterVec
	items         *prometheus.CounterVec
	opportunities *prometheus.CounterVec
	scans         *prometheus.CounterVec
	activeScans   prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "marketplace", Name: "requests_total",
			Help: "Marketplace API requests by endpoint and status code.",
		}, []string{"endpoint", "status_code"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "marketplace", Name: "request_duration_seconds",
			Help:    "Marketplace API request latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
		apiRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "marketplace", Name: "retries_total",
			Help: "Marketplace API retries by endpoint and reason.",
		}, []string{"endpoint", "reason"}),
		backoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ratelimit", Name: "backoffs_total",
			Help: "Quota backoffs started per endpoint.",
		}, []string{"endpoint"}),
		backoffDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ratelimit", Name: "backoff_seconds",
			Help:    "Length of quota backoffs.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		}, []string{"endpoint"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scanner", Name: "pages_total",
			Help: "Catalog pages processed per game.",
		}, []string{"game"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scanner", Name: "items_total",
			Help: "Listings processed per game.",
		}, []string{"game"}),
		opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scanner", Name: "opportunities_total",
			Help: "Opportunities emitted per game.",
		}, []string{"game"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scanner", Name: "scans_total",
			Help: "Scans finished by final status.",
		}, []string{"status"}),
		activeScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scanner", Name: "active_scans",
			Help: "Scans currently running in this process.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "API requests served by route and status code.",
		}, []string{"route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "API request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiDuration, m.apiRetries,
		m.backoffs, m.backoffDelay,
		m.pages, m.items, m.opportunities, m.scans, m.activeScans,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
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

func (m *Metrics) RecordRequest(endpoint string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	m.apiDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) RecordRetry(endpoint, reason string) {
	if m == nil {
		return
	}
	m.apiRetries.WithLabelValues(endpoint, reason).Inc()
}

func (m *Metrics) RecordBackoff(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.backoffs.WithLabelValues(endpoint).Inc()
	m.backoffDelay.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) RecordPage(game string, items int) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(game).Inc()
	m.items.WithLabelValues(game).Add(float64(items))
}

func (m *Metrics) RecordOpportunity(game string) {
	if m == nil {
		return
	}
	m.opportunities.WithLabelValues(game).Inc()
}

// ScanStarted and ScanFinished bracket one scan run.
func (m *Metrics) ScanStarted() {
	if m == nil {
		return
	}
	m.activeScans.Inc()
}

func (m *Metrics) ScanFinished(status string) {
	if m == nil {
		return
	}
	m.activeScans.Dec()
	m.scans.WithLabelValues(status).Inc()
}

// RecordHTTP observes one request served by the API.
func (m *Metrics) RecordHTTP(route string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
