package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the enrichment engine
type Metrics struct {
	// Lookup metrics
	LookupsTotal   *prometheus.CounterVec
	LookupDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Compliance metrics
	ComplianceChecksTotal *prometheus.CounterVec
	BlacklistHitsTotal    prometheus.Counter

	// Engine metrics
	BatchesTotal  *prometheus.CounterVec
	BatchDuration prometheus.Histogram
	RecordsTotal  *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "enrichd",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	registry := prometheus.NewRegistry()
	factory := promauto(registry)

	m := &Metrics{
		registry: registry,
		LookupsTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "lookups_total",
			Help:      "Identity lookups by service and outcome",
		}, []string{"service", "status"}),
		LookupDuration: factory.histogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Identity lookup latency by service",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		CacheHitsTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by tier and cache name",
		}, []string{"tier", "cache"}),
		CacheMissesTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses by cache name",
		}, []string{"cache"}),
		ComplianceChecksTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "compliance_checks_total",
			Help:      "Compliance denylist checks by registry and outcome",
		}, []string{"registry", "flagged"}),
		BlacklistHitsTotal: factory.counter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "blacklist_hits_total",
			Help:      "Phones short-circuited by the static blacklist",
		}),
		BatchesTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "batches_total",
			Help:      "Processed batches by outcome",
		}, []string{"status"}),
		BatchDuration: factory.histogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "batch_duration_seconds",
			Help:      "End-to-end batch processing latency",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		RecordsTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "records_total",
			Help:      "Enriched records by classification",
		}, []string{"classification"}),
		ErrorsTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "errors_total",
			Help:      "Errors by component and type",
		}, []string{"component", "type"}),
	}

	return m
}

// Handler returns an HTTP handler exposing the metrics
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveLookup records one identity lookup
func (m *Metrics) ObserveLookup(service, status string, duration time.Duration) {
	if m.LookupsTotal == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(service, status).Inc()
	m.LookupDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// ObserveBatch records one processed batch
func (m *Metrics) ObserveBatch(status string, duration time.Duration) {
	if m.BatchesTotal == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(status).Inc()
	m.BatchDuration.Observe(duration.Seconds())
}

// factory helpers keep registration on the private registry

type registryFactory struct {
	registry *prometheus.Registry
}

func promauto(registry *prometheus.Registry) registryFactory {
	return registryFactory{registry: registry}
}

func (f registryFactory) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.registry.MustRegister(c)
	return c
}

func (f registryFactory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.registry.MustRegister(c)
	return c
}

func (f registryFactory) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.registry.MustRegister(h)
	return h
}

func (f registryFactory) histogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	f.registry.MustRegister(h)
	return h
}
