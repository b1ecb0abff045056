package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"service-dispatch/internal/shared/models"
	"service-dispatch/internal/shared/util"
)

// Setup installs a global tracer provider exporting over OTLP/gRPC.
// Without an endpoint it is a no-op.
func Setup(ctx context.Context, cfg models.TelemetryConfig, log *util.Logger) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if cfg.OTLPEndpoint == "" {
		return noop
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		log.Error("telemetry.Setup", "otel exporter error", err)
		return noop
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		log.Error("telemetry.Setup", "otel resource error", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	log.OK("telemetry.Setup", "exporting traces to "+cfg.OTLPEndpoint)

	return provider.Shutdown
}
