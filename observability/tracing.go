// Package observability installs the process-wide OpenTelemetry tracer provider.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// TracingConfig selects the span exporter.
type TracingConfig struct {
	ServiceName string
	// Exporter is "stdout", "otlp", or empty/"none" to leave tracing off.
	// The OTLP exporter reads OTEL_EXPORTER_OTLP_* from the environment.
	Exporter string
	// Writer receives stdout spans; nil means os.Stdout.
	Writer io.Writer
}

// InitTracing installs a tracer provider and returns its shutdown func. With
// no exporter configured it installs nothing and the shutdown is a no-op.
func InitTracing(ctx context.Context, cfg TracingConfig, log *zap.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	exporter, err := buildExporter(ctx, cfg)
	if err != nil {
		return noop, err
	}
	if exporter == nil {
		return noop, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "gridpicks"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if log != nil {
		log.Info("otel tracing initialized", zap.String("service", name), zap.String("exporter", cfg.Exporter))
	}
	return tp.Shutdown, nil
}

func buildExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "none":
		return nil, nil
	case "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case "otlp":
		return otlptracehttp.New(ctx)
	}
	return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
}
