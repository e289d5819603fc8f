// Package telemetry wires an OpenTelemetry TracerProvider for tgfsd,
// exporting to stdout, OTLP/gRPC, or Jaeger depending on configuration.
// Grounded on the teacher's go.mod otel stack, which the retrieved file
// slice declared but never wired to a component.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mvance/tgfs/internal/apperrors"
	"github.com/mvance/tgfs/internal/config"
)

// Provider wraps an sdktrace.TracerProvider and exposes a named tracer
// for instrumenting orchestrator and pool operations.
type Provider struct {
	tp     *sdktrace.TracerProvider
	Tracer trace.Tracer
}

// New builds a Provider from cfg. When cfg.Enabled is false it installs
// a no-op tracer so callers never need to branch on telemetry being on.
func New(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{Tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "building telemetry resource", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, Tracer: tp.Tracer(cfg.ServiceName)}, nil
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "building otlp exporter", err)
		}
		return exp, nil
	case "jaeger":
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "building jaeger exporter", err)
		}
		return exp, nil
	case "stdout", "":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "building stdout exporter", err)
		}
		return exp, nil
	default:
		return nil, apperrors.New(apperrors.KindConfig, "unknown telemetry exporter: "+cfg.Exporter)
	}
}

// Shutdown flushes and stops the underlying TracerProvider, if one was
// created (New with a disabled config returns a Provider with no
// provider to shut down).
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "shutting down tracer provider", err)
	}
	return nil
}
