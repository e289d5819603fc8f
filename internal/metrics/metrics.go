package metrics

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

var defaultRegistry = prometheus.DefaultRegisterer

// Config holds metrics configuration.
type Config struct {
	EnableAccountLabel bool
}

// Metrics holds every application metric emitted by the storage engine.
type Metrics struct {
	config Config

	writeOperationsTotal   *prometheus.CounterVec
	writeDuration          *prometheus.HistogramVec
	readOperationsTotal    *prometheus.CounterVec
	readDuration           *prometheus.HistogramVec
	chunkDedupHitsTotal    prometheus.Counter
	chunkDedupMissesTotal  prometheus.Counter
	cacheHitsTotal         prometheus.Counter
	cacheMissesTotal       prometheus.Counter
	cacheEvictionsTotal    prometheus.Counter
	cacheBytes             prometheus.Gauge
	encryptionOperations   *prometheus.CounterVec
	encryptionDuration     *prometheus.HistogramVec
	encryptionErrors       *prometheus.CounterVec
	erasureDegradedWrites  prometheus.Counter
	erasureRebuildsTotal   *prometheus.CounterVec
	accountHealthGauge     *prometheus.GaugeVec
	accountOperationErrors *prometheus.CounterVec
	goroutines             prometheus.Gauge
	memoryAllocBytes       prometheus.Gauge
	memorySysBytes         prometheus.Gauge
	hardwareAccelerationEnabled *prometheus.GaugeVec
}

// NewMetrics creates a new metrics instance with default configuration.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(Config{EnableAccountLabel: true})
}

// NewMetricsWithConfig creates a new metrics instance with the provided configuration.
func NewMetricsWithConfig(cfg Config) *Metrics {
	return newMetricsWithRegistry(defaultRegistry, cfg)
}

// NewMetricsWithRegistry creates a new metrics instance with a custom
// registry. Useful in tests to avoid collector registration conflicts.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg, Config{EnableAccountLabel: true})
}

func newMetricsWithRegistry(reg prometheus.Registerer, cfg Config) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		config: cfg,
		writeOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgfs_write_operations_total",
				Help: "Total number of file write operations",
			},
			[]string{"status"},
		),
		writeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tgfs_write_duration_seconds",
				Help:    "File write operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		readOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgfs_read_operations_total",
				Help: "Total number of file read operations",
			},
			[]string{"status"},
		),
		readDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tgfs_read_duration_seconds",
				Help:    "File read operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		chunkDedupHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tgfs_chunk_dedup_hits_total",
				Help: "Total number of chunks skipped because an identical chunk was already stored",
			},
		),
		chunkDedupMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tgfs_chunk_dedup_misses_total",
				Help: "Total number of chunks uploaded because no identical chunk was found",
			},
		),
		cacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tgfs_chunk_cache_hits_total",
				Help: "Total number of chunk cache hits",
			},
		),
		cacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tgfs_chunk_cache_misses_total",
				Help: "Total number of chunk cache misses",
			},
		),
		cacheEvictionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tgfs_chunk_cache_evictions_total",
				Help: "Total number of chunk cache evictions",
			},
		),
		cacheBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tgfs_chunk_cache_bytes",
				Help: "Current size in bytes of the on-disk chunk cache",
			},
		),
		encryptionOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgfs_encryption_operations_total",
				Help: "Total number of encryption/decryption operations",
			},
			[]string{"operation"}, // "encrypt" or "decrypt"
		),
		encryptionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tgfs_encryption_duration_seconds",
				Help:    "Encryption/decryption operation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation"},
		),
		encryptionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgfs_encryption_errors_total",
				Help: "Total number of encryption/decryption errors",
			},
			[]string{"operation", "error_type"},
		),
		erasureDegradedWrites: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tgfs_erasure_degraded_writes_total",
				Help: "Total number of stripe writes completed with one or more accounts unavailable",
			},
		),
		erasureRebuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgfs_erasure_rebuilds_total",
				Help: "Total number of stripe rebuild operations, by outcome",
			},
			[]string{"outcome"}, // "success" or "failure"
		),
		accountHealthGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tgfs_account_health",
				Help: "Account health state (0=healthy, 1=degraded, 2=unavailable, 3=rebuilding)",
			},
			[]string{"account_id"},
		),
		accountOperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgfs_account_operation_errors_total",
				Help: "Total number of backend account operation errors",
			},
			[]string{"account_id", "operation"},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tgfs_goroutines",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tgfs_memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tgfs_memory_sys_bytes",
				Help: "Total bytes of memory obtained from the OS",
			},
		),
		hardwareAccelerationEnabled: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tgfs_hardware_acceleration_enabled",
				Help: "Hardware acceleration status (1=enabled, 0=disabled)",
			},
			[]string{"type"},
		),
	}
}

// SetHardwareAccelerationStatus sets the hardware acceleration status metric.
func (m *Metrics) SetHardwareAccelerationStatus(accelType string, enabled bool) {
	val := 0.0
	if enabled {
		val = 1.0
	}
	m.hardwareAccelerationEnabled.WithLabelValues(accelType).Set(val)
}

// RecordWrite records a file write operation.
func (m *Metrics) RecordWrite(ctx context.Context, status string, duration time.Duration) {
	labels := prometheus.Labels{"status": status}
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.writeOperationsTotal.With(labels).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.writeOperationsTotal.With(labels).Inc()
		}
		if observer, ok := m.writeDuration.With(labels).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.writeDuration.With(labels).Observe(duration.Seconds())
		}
		return
	}
	m.writeOperationsTotal.With(labels).Inc()
	m.writeDuration.With(labels).Observe(duration.Seconds())
}

// RecordRead records a file read operation.
func (m *Metrics) RecordRead(ctx context.Context, status string, duration time.Duration) {
	labels := prometheus.Labels{"status": status}
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.readOperationsTotal.With(labels).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.readOperationsTotal.With(labels).Inc()
		}
		if observer, ok := m.readDuration.With(labels).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.readDuration.With(labels).Observe(duration.Seconds())
		}
		return
	}
	m.readOperationsTotal.With(labels).Inc()
	m.readDuration.With(labels).Observe(duration.Seconds())
}

// RecordChunkDedup records whether a chunk write was a dedup hit or miss.
func (m *Metrics) RecordChunkDedup(hit bool) {
	if hit {
		m.chunkDedupHitsTotal.Inc()
		return
	}
	m.chunkDedupMissesTotal.Inc()
}

// RecordCacheHit records a chunk cache hit.
func (m *Metrics) RecordCacheHit() { m.cacheHitsTotal.Inc() }

// RecordCacheMiss records a chunk cache miss.
func (m *Metrics) RecordCacheMiss() { m.cacheMissesTotal.Inc() }

// RecordCacheEviction records a chunk cache eviction.
func (m *Metrics) RecordCacheEviction() { m.cacheEvictionsTotal.Inc() }

// SetCacheBytes sets the current chunk cache size in bytes.
func (m *Metrics) SetCacheBytes(bytes int64) { m.cacheBytes.Set(float64(bytes)) }

// RecordEncryptionOperation records an encryption or decryption operation.
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, duration time.Duration) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.encryptionOperations.WithLabelValues(operation).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.encryptionOperations.WithLabelValues(operation).Inc()
		}
		if observer, ok := m.encryptionDuration.WithLabelValues(operation).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.encryptionDuration.WithLabelValues(operation).Observe(duration.Seconds())
		}
		return
	}
	m.encryptionOperations.WithLabelValues(operation).Inc()
	m.encryptionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEncryptionError records an encryption or decryption error.
func (m *Metrics) RecordEncryptionError(operation, errorType string) {
	m.encryptionErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordDegradedWrite records a stripe write completed with one or more
// accounts unavailable.
func (m *Metrics) RecordDegradedWrite() { m.erasureDegradedWrites.Inc() }

// RecordRebuild records the outcome of a stripe rebuild operation.
func (m *Metrics) RecordRebuild(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.erasureRebuildsTotal.WithLabelValues(outcome).Inc()
}

// SetAccountHealth publishes an account's health state as a gauge value.
// state follows account.AccountStatus's ordering (0=healthy..3=rebuilding).
// When EnableAccountLabel is false, every account is collapsed to a single
// "*" series to bound cardinality on pools with many backend accounts.
func (m *Metrics) SetAccountHealth(accountID string, state int) {
	m.accountHealthGauge.WithLabelValues(m.accountLabel(accountID)).Set(float64(state))
}

// RecordAccountOperationError records a failed backend account operation.
func (m *Metrics) RecordAccountOperationError(accountID, operation string) {
	m.accountOperationErrors.WithLabelValues(m.accountLabel(accountID), operation).Inc()
}

func (m *Metrics) accountLabel(accountID string) string {
	if !m.config.EnableAccountLabel {
		return "*"
	}
	return accountID
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// StartSystemMetricsCollector starts a goroutine that periodically updates
// system metrics until ctx is cancelled.
func (m *Metrics) StartSystemMetricsCollector(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.UpdateSystemMetrics()
			}
		}
	}()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// getExemplar extracts the trace ID from ctx for attaching as a Prometheus exemplar.
func getExemplar(ctx context.Context) prometheus.Labels {
	if ctx == nil {
		return nil
	}
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		return prometheus.Labels{"trace_id": spanContext.TraceID().String()}
	}
	return nil
}
