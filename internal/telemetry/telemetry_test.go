package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvance/tgfs/internal/config"
)

func TestNewDisabledReturnsNoopTracer(t *testing.T) {
	p, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	assert.NotNil(t, p.Tracer)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewStdoutExporter(t *testing.T) {
	p, err := New(context.Background(), config.TelemetryConfig{Enabled: true, Exporter: "stdout", ServiceName: "tgfsd-test"})
	require.NoError(t, err)
	assert.NotNil(t, p.Tracer)

	_, span := p.Tracer.Start(context.Background(), "test-span")
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewRejectsUnknownExporter(t *testing.T) {
	_, err := New(context.Background(), config.TelemetryConfig{Enabled: true, Exporter: "bogus"})
	assert.Error(t, err)
}
