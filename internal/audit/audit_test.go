package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvance/tgfs/internal/config"
)

type captureWriter struct {
	events []*Event
}

func (w *captureWriter) WriteEvent(event *Event) error {
	w.events = append(w.events, event)
	return nil
}

func TestLogChunkEncryptRecordsEvent(t *testing.T) {
	w := &captureWriter{}
	l := NewLogger(10, w)

	l.LogChunkEncrypt("abc123", true, nil, 5*time.Millisecond, map[string]interface{}{"size": 4096})

	events := l.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeChunkEncrypt, events[0].EventType)
	assert.Equal(t, "abc123", events[0].ChunkID)
	assert.True(t, events[0].Success)
	assert.Empty(t, events[0].Error)
}

func TestLogChunkDecryptRecordsFailure(t *testing.T) {
	w := &captureWriter{}
	l := NewLogger(10, w)

	l.LogChunkDecrypt("abc123", false, errors.New("auth failure"), time.Millisecond, nil)

	events := l.GetEvents()
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
	assert.Equal(t, "auth failure", events[0].Error)
}

func TestMaxEventsBoundsBuffer(t *testing.T) {
	l := NewLogger(2, &captureWriter{})

	l.LogChunkDelete("a", true, nil)
	l.LogChunkDelete("b", true, nil)
	l.LogChunkDelete("c", true, nil)

	events := l.GetEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ChunkID)
	assert.Equal(t, "c", events[1].ChunkID)
}

func TestRedactMetadataKeys(t *testing.T) {
	w := &captureWriter{}
	l := NewLoggerWithRedaction(10, w, []string{"password"})

	l.LogChunkEncrypt("chunk1", true, nil, 0, map[string]interface{}{"password": "secret", "size": 10})

	events := l.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "[REDACTED]", events[0].Metadata["password"])
	assert.Equal(t, 10, events[0].Metadata["size"])
}

func TestLogAccountRebuildAndSnapshot(t *testing.T) {
	l := NewLogger(10, &captureWriter{})

	l.LogAccountRebuild("3", true, nil, 2*time.Second)
	l.LogSnapshot("create", "snap-1", true, nil)

	events := l.GetEvents()
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeAccountRebuild, events[0].EventType)
	assert.Equal(t, EventTypeSnapshot, events[1].EventType)
	assert.Equal(t, "snap-1", events[1].Metadata["snapshot_id"])
}

func TestLogAccessRecordsIno(t *testing.T) {
	l := NewLogger(10, &captureWriter{})

	l.LogAccess("lookup", 42, "req-1", true, nil, time.Millisecond)

	events := l.GetEvents()
	require.Len(t, events, 1)
	assert.Equal(t, uint64(42), events[0].Ino)
	assert.Equal(t, "req-1", events[0].RequestID)
}

func TestNewLoggerFromConfigDefaultsToStdout(t *testing.T) {
	l, err := NewLoggerFromConfig(config.AuditConfig{MaxEvents: 5})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNewLoggerFromConfigRejectsUnknownSink(t *testing.T) {
	_, err := NewLoggerFromConfig(config.AuditConfig{MaxEvents: 5, Sink: config.AuditSinkConfig{Type: "carrier-pigeon"}})
	assert.Error(t, err)
}

func TestNewLoggerFromConfigWrapsBatchSink(t *testing.T) {
	l, err := NewLoggerFromConfig(config.AuditConfig{
		MaxEvents: 5,
		Sink:      config.AuditSinkConfig{Type: "stdout", BatchSize: 10, FlushInterval: time.Second},
	})
	require.NoError(t, err)
	require.NoError(t, l.LogChunkDelete("x", true, nil))
	require.NoError(t, l.Close())
}
