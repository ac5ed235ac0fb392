package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the toolkit.
type Metrics struct {
	config MetricsConfig

	// Download metrics
	downloadsStarted   *prometheus.CounterVec
	downloadsCompleted *prometheus.CounterVec
	downloadDuration   *prometheus.HistogramVec

	// Cache metrics
	cacheLookups  *prometheus.CounterVec
	cachedBundles *prometheus.GaugeVec

	// Resolution metrics
	resolutions        *prometheus.CounterVec
	resolutionDuration prometheus.Histogram

	// Configuration update metrics
	updatesCompleted *prometheus.CounterVec
	updateDuration   *prometheus.HistogramVec
	backupsCreated   prometheus.Counter
	rollbacks        prometheus.Counter

	// Record-store metrics
	storeCalls    *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Download metrics
		downloadsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_started_total",
				Help:      "Total number of bundle downloads started",
			},
			[]string{"descriptor_type"},
		),
		downloadsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_completed_total",
				Help:      "Total number of bundle downloads completed",
			},
			[]string{"descriptor_type", "status"},
		),
		downloadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "download_duration_seconds",
				Help:      "Duration of bundle downloads in seconds",
				Buckets:   buckets,
			},
			[]string{"descriptor_type"},
		),

		// Cache metrics
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of bundle-cache lookups",
			},
			[]string{"descriptor_type", "result"},
		),
		cachedBundles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cached_bundles",
				Help:      "Current number of bundles in the cache",
			},
			[]string{"descriptor_type"},
		),

		// Resolution metrics
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_resolutions_total",
				Help:      "Total number of configuration resolutions",
			},
			[]string{"source", "status"},
		),
		resolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "config_resolution_duration_seconds",
				Help:      "Duration of configuration resolution in seconds",
				Buckets:   buckets,
			},
		),

		// Configuration update metrics
		updatesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_updates_total",
				Help:      "Total number of configuration updates",
			},
			[]string{"status"},
		),
		updateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "config_update_duration_seconds",
				Help:      "Duration of configuration updates in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		backupsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_backups_created_total",
				Help:      "Total number of configuration backups created",
			},
		),
		rollbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_rollbacks_total",
				Help:      "Total number of configuration update rollbacks",
			},
		),

		// Record-store metrics
		storeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_calls_total",
				Help:      "Total number of record-store calls",
			},
			[]string{"entity", "operation"},
		),
		storeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_call_duration_seconds",
				Help:      "Duration of record-store calls in seconds",
				Buckets:   buckets,
			},
			[]string{"entity", "operation"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of record-store errors",
			},
			[]string{"entity", "operation"},
		),

		// Error metrics
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.downloadsStarted,
		m.downloadsCompleted,
		m.downloadDuration,
		m.cacheLookups,
		m.cachedBundles,
		m.resolutions,
		m.resolutionDuration,
		m.updatesCompleted,
		m.updateDuration,
		m.backupsCreated,
		m.rollbacks,
		m.storeCalls,
		m.storeDuration,
		m.storeErrors,
		m.errorsByKind,
	)

	return m, nil
}

// Download Metrics

// RecordDownloadStarted increments the counter for started downloads.
func (m *Metrics) RecordDownloadStarted(descriptorType string) {
	if m.downloadsStarted == nil {
		return
	}
	m.downloadsStarted.WithLabelValues(descriptorType).Inc()
}

// RecordDownloadCompleted records a finished download with its status and duration.
func (m *Metrics) RecordDownloadCompleted(descriptorType, status string, duration time.Duration) {
	if m.downloadsCompleted == nil {
		return
	}
	m.downloadsCompleted.WithLabelValues(descriptorType, status).Inc()
	m.downloadDuration.WithLabelValues(descriptorType).Observe(duration.Seconds())
}

// Cache Metrics

// RecordCacheLookup records a bundle-cache lookup with its result (hit, miss).
func (m *Metrics) RecordCacheLookup(descriptorType, result string) {
	if m.cacheLookups == nil {
		return
	}
	m.cacheLookups.WithLabelValues(descriptorType, result).Inc()
}

// SetCachedBundleCount sets the current count of cached bundles.
func (m *Metrics) SetCachedBundleCount(descriptorType string, count float64) {
	if m.cachedBundles == nil {
		return
	}
	m.cachedBundles.WithLabelValues(descriptorType).Set(count)
}

// Resolution Metrics

// RecordResolution records a configuration resolution outcome. Source names
// where the winning configuration came from (project, site, fallback,
// override).
func (m *Metrics) RecordResolution(source, status string, duration time.Duration) {
	if m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(source, status).Inc()
	m.resolutionDuration.Observe(duration.Seconds())
}

// Update Metrics

// RecordUpdateCompleted records a configuration update with its status and duration.
func (m *Metrics) RecordUpdateCompleted(status string, duration time.Duration) {
	if m.updatesCompleted == nil {
		return
	}
	m.updatesCompleted.WithLabelValues(status).Inc()
	m.updateDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordBackupCreated increments the backup counter.
func (m *Metrics) RecordBackupCreated() {
	if m.backupsCreated == nil {
		return
	}
	m.backupsCreated.Inc()
}

// RecordRollback increments the rollback counter.
func (m *Metrics) RecordRollback() {
	if m.rollbacks == nil {
		return
	}
	m.rollbacks.Inc()
}

// Record-Store Metrics

// RecordStoreCall records a record-store call with its duration.
func (m *Metrics) RecordStoreCall(entity, operation string, duration time.Duration) {
	if m.storeCalls == nil {
		return
	}
	m.storeCalls.WithLabelValues(entity, operation).Inc()
	m.storeDuration.WithLabelValues(entity, operation).Observe(duration.Seconds())
}

// RecordStoreError records a record-store error.
func (m *Metrics) RecordStoreError(entity, operation string) {
	if m.storeErrors == nil {
		return
	}
	m.storeErrors.WithLabelValues(entity, operation).Inc()
}

// Error Metrics

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
