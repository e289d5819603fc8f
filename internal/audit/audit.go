package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ryanuber/go-glob"

	"github.com/mvance/tgfs/internal/config"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeChunkEncrypt represents a chunk encryption operation.
	EventTypeChunkEncrypt EventType = "chunk_encrypt"
	// EventTypeChunkDecrypt represents a chunk decryption operation.
	EventTypeChunkDecrypt EventType = "chunk_decrypt"
	// EventTypeChunkUpload represents a chunk upload to the account pool.
	EventTypeChunkUpload EventType = "chunk_upload"
	// EventTypeChunkDelete represents a chunk stripe deletion.
	EventTypeChunkDelete EventType = "chunk_delete"
	// EventTypeGC represents a garbage collection sweep over unreferenced chunks.
	EventTypeGC EventType = "gc"
	// EventTypeAccountRebuild represents a stripe rebuild onto a replacement account.
	EventTypeAccountRebuild EventType = "account_rebuild"
	// EventTypeSnapshot represents a snapshot creation, export, or import.
	EventTypeSnapshot EventType = "snapshot"
	// EventTypeAccess represents a filesystem-level access operation (open, lookup).
	EventTypeAccess EventType = "access"
)

// Event represents a single audit log event.
type Event struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  EventType              `json:"event_type"`
	Operation  string                 `json:"operation"`
	Ino        uint64                 `json:"ino,omitempty"`
	ChunkID    string                 `json:"chunk_id,omitempty"`
	AccountID  string                 `json:"account_id,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	Duration   time.Duration          `json:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AuditEvent is an alias kept for sink implementations that predate the
// rename to Event.
type AuditEvent = Event

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *Event) error

	// LogChunkEncrypt logs a chunk encryption operation.
	LogChunkEncrypt(chunkID string, success bool, err error, duration time.Duration, metadata map[string]interface{}) error

	// LogChunkDecrypt logs a chunk decryption operation.
	LogChunkDecrypt(chunkID string, success bool, err error, duration time.Duration, metadata map[string]interface{}) error

	// LogChunkUpload logs a chunk stripe upload operation.
	LogChunkUpload(chunkID, accountID string, success bool, err error, duration time.Duration) error

	// LogChunkDelete logs a chunk stripe deletion.
	LogChunkDelete(chunkID string, success bool, err error) error

	// LogAccountRebuild logs a stripe rebuild onto a replacement account.
	LogAccountRebuild(accountID string, success bool, err error, duration time.Duration)

	// LogSnapshot logs a snapshot creation, export, or import.
	LogSnapshot(operation, snapshotID string, success bool, err error)

	// LogAccess logs a general filesystem access operation.
	LogAccess(eventType string, ino uint64, requestID string, success bool, err error, duration time.Duration)

	// GetEvents returns all buffered audit events (for testing/querying).
	GetEvents() []*Event

	// Close closes the logger and its underlying writer.
	Close() error
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu         sync.Mutex
	events     []*Event
	maxEvents  int
	writer     EventWriter
	redactKeys []string
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *Event) error
}

// NewLogger creates a new audit logger.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return NewLoggerWithRedaction(maxEvents, writer, nil)
}

// NewLoggerWithRedaction creates a new audit logger with redaction keys.
func NewLoggerWithRedaction(maxEvents int, writer EventWriter, redactKeys []string) Logger {
	if writer == nil {
		writer = &defaultWriter{}
	}

	return &auditLogger{
		events:     make([]*Event, 0, maxEvents),
		maxEvents:  maxEvents,
		writer:     writer,
		redactKeys: redactKeys,
	}
}

// NewLoggerFromConfig builds a Logger from an audit configuration,
// selecting and wrapping the EventWriter described by cfg.Sink.
func NewLoggerFromConfig(cfg config.AuditConfig) (Logger, error) {
	var writer EventWriter
	switch cfg.Sink.Type {
	case "http":
		writer = NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		writer = NewFileSink(cfg.Sink.FilePath)
	case "stdout", "":
		writer = &StdoutSink{}
	default:
		return nil, fmt.Errorf("unknown audit sink type: %s", cfg.Sink.Type)
	}

	if cfg.Sink.BatchSize > 0 {
		writer = NewBatchSink(writer, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, cfg.Sink.RetryCount, cfg.Sink.RetryBackoff)
	}

	return NewLoggerWithRedaction(cfg.MaxEvents, writer, cfg.RedactMetadataKeys), nil
}

// Log logs an audit event.
func (l *auditLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Metadata = l.redactMetadata(event.Metadata)

	if l.writer != nil {
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if l.maxEvents > 0 && len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}

	return nil
}

// Close closes the logger and its underlying writer.
func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// redactMetadata removes keys matching any of l.redactKeys from
// metadata. Keys may be exact or glob patterns (e.g. "secret_*",
// "*_key") so a single redaction rule can cover a family of field
// names without enumerating every one.
func (l *auditLogger) redactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if len(l.redactKeys) == 0 || len(metadata) == 0 {
		return metadata
	}

	needsRedaction := false
	for k := range metadata {
		if matchesAnyPattern(l.redactKeys, k) {
			needsRedaction = true
			break
		}
	}
	if !needsRedaction {
		return metadata
	}

	clone := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if matchesAnyPattern(l.redactKeys, k) {
			clone[k] = "[REDACTED]"
		} else {
			clone[k] = v
		}
	}
	return clone
}

func matchesAnyPattern(patterns []string, key string) bool {
	for _, p := range patterns {
		if glob.Glob(p, key) {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// LogChunkEncrypt logs a chunk encryption operation.
func (l *auditLogger) LogChunkEncrypt(chunkID string, success bool, err error, duration time.Duration, metadata map[string]interface{}) error {
	return l.Log(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeChunkEncrypt,
		Operation: "encrypt",
		ChunkID:   chunkID,
		Success:   success,
		Error:     errString(err),
		Duration:  duration,
		Metadata:  metadata,
	})
}

// LogChunkDecrypt logs a chunk decryption operation.
func (l *auditLogger) LogChunkDecrypt(chunkID string, success bool, err error, duration time.Duration, metadata map[string]interface{}) error {
	return l.Log(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeChunkDecrypt,
		Operation: "decrypt",
		ChunkID:   chunkID,
		Success:   success,
		Error:     errString(err),
		Duration:  duration,
		Metadata:  metadata,
	})
}

// LogChunkUpload logs a chunk stripe upload operation.
func (l *auditLogger) LogChunkUpload(chunkID, accountID string, success bool, err error, duration time.Duration) error {
	return l.Log(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeChunkUpload,
		Operation: "upload",
		ChunkID:   chunkID,
		AccountID: accountID,
		Success:   success,
		Error:     errString(err),
		Duration:  duration,
	})
}

// LogChunkDelete logs a chunk stripe deletion.
func (l *auditLogger) LogChunkDelete(chunkID string, success bool, err error) error {
	return l.Log(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeChunkDelete,
		Operation: "delete",
		ChunkID:   chunkID,
		Success:   success,
		Error:     errString(err),
	})
}

// LogAccountRebuild logs a stripe rebuild onto a replacement account.
func (l *auditLogger) LogAccountRebuild(accountID string, success bool, err error, duration time.Duration) {
	l.Log(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeAccountRebuild,
		Operation: "rebuild",
		AccountID: accountID,
		Success:   success,
		Error:     errString(err),
		Duration:  duration,
	})
}

// LogSnapshot logs a snapshot creation, export, or import.
func (l *auditLogger) LogSnapshot(operation, snapshotID string, success bool, err error) {
	l.Log(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeSnapshot,
		Operation: operation,
		Metadata:  map[string]interface{}{"snapshot_id": snapshotID},
		Success:   success,
		Error:     errString(err),
	})
}

// LogAccess logs a general filesystem access operation.
func (l *auditLogger) LogAccess(eventType string, ino uint64, requestID string, success bool, err error, duration time.Duration) {
	l.Log(&Event{
		Timestamp: time.Now(),
		EventType: EventType(eventType),
		Operation: eventType,
		Ino:       ino,
		RequestID: requestID,
		Success:   success,
		Error:     errString(err),
		Duration:  duration,
	})
}

// GetEvents returns all buffered audit events (for testing/querying).
func (l *auditLogger) GetEvents() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*Event, len(l.events))
	copy(events, l.events)
	return events
}

// defaultWriter is a default implementation that writes to stdout as JSON.
type defaultWriter struct{}

func (w *defaultWriter) WriteEvent(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	fmt.Printf("%s\n", string(data))
	return nil
}
