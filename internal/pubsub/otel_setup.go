package pubsub

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "livepresence-pubsub"

// TracingConfig configures bus tracing. Heartbeats dominate bus traffic, so
// production setups usually sample.
type TracingConfig struct {
	Enabled     bool    `envconfig:"ENABLED" default:"false"`
	ServiceName string  `envconfig:"SERVICE_NAME" default:"livepresence"`
	ZipkinURL   string  `envconfig:"ZIPKIN_URL" default:"http://localhost:9411/api/v2/spans"`
	SampleRatio float64 `envconfig:"SAMPLE_RATIO" default:"1"`
}

// DefaultTracingConfig returns tracing disabled with full sampling once enabled.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		ServiceName: "livepresence",
		ZipkinURL:   "http://localhost:9411/api/v2/spans",
		SampleRatio: 1,
	}
}

// sampler samples root spans at ratio and follows the parent otherwise.
// Ratios outside (0, 1] mean sample everything.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// SetupOTel initializes OpenTelemetry with a Zipkin exporter for bus observability.
// If config.Enabled is false, it returns a no-op tracer.
func SetupOTel(ctx context.Context, config TracingConfig) (trace.Tracer, func(), error) {
	if !config.Enabled {
		return noop.NewTracerProvider().Tracer(tracerName), func() {}, nil
	}

	exporter, err := zipkin.New(config.ZipkinURL)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", config.ServiceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(config.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("Failed to shut down tracer provider", "error", err)
		}
	}

	return tp.Tracer(tracerName), cleanup, nil
}
