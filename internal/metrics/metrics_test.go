package metrics

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{EnableAccountLabel: true})
	require.NotNil(t, m)
	assert.NotNil(t, m.writeOperationsTotal)
	assert.NotNil(t, m.readOperationsTotal)
	assert.NotNil(t, m.encryptionOperations)
	assert.NotNil(t, m.accountHealthGauge)
}

func TestRecordWriteAndRead(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})

	m.RecordWrite(context.Background(), "ok", 10*time.Millisecond)
	m.RecordRead(context.Background(), "ok", 5*time.Millisecond)
}

func TestRecordChunkDedup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})

	m.RecordChunkDedup(true)
	m.RecordChunkDedup(false)

	assert.InDelta(t, 1, testutilValue(t, reg, "tgfs_chunk_dedup_hits_total"), 0.001)
	assert.InDelta(t, 1, testutilValue(t, reg, "tgfs_chunk_dedup_misses_total"), 0.001)
}

func TestRecordCacheEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})

	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheEviction()
	m.SetCacheBytes(4096)
}

func TestRecordEncryptionOperationAndError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})

	m.RecordEncryptionOperation(context.Background(), "encrypt", time.Millisecond)
	m.RecordEncryptionError("decrypt", "auth_failure")
}

func TestRecordDegradedWriteAndRebuild(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})

	m.RecordDegradedWrite()
	m.RecordRebuild(true)
	m.RecordRebuild(false)
}

func TestSetAccountHealthAndOperationError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})

	m.SetAccountHealth("1", 0)
	m.RecordAccountOperationError("1", "PutBlock")
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetricsWithRegistry(reg, Config{})
	m.RecordWrite(context.Background(), "ok", time.Millisecond)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "tgfs_write_operations_total")
}

func testutilValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
