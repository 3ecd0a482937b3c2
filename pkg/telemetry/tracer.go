package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "yugo-reconciler"

// Config selects where spans and metrics go
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	CollectorAddr  string
	MetricInterval time.Duration // default 15s
	SampleRatio    float64       // default 1.0
}

// Telemetry is the process-wide tracer and meter pair. Providers are nil
// when export is disabled.
type Telemetry struct {
	config *Config
	tracer trace.Tracer
	meter  metric.Meter

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

var current *Telemetry

// Init installs the process telemetry. A nil or disabled config keeps the
// global no-op providers so instrumented code never nil-checks.
func Init(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if cfg == nil || !cfg.Enabled {
		name := defaultServiceName
		if cfg != nil && cfg.ServiceName != "" {
			name = cfg.ServiceName
		}
		current = &Telemetry{config: cfg, tracer: otel.Tracer(name), meter: otel.Meter(name)}
		return current, nil
	}

	if cfg.MetricInterval == 0 {
		cfg.MetricInterval = 15 * time.Second
	}
	if cfg.SampleRatio == 0 {
		cfg.SampleRatio = 1.0
	}
	res := createResource(cfg)

	spanExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.CollectorAddr),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.CollectorAddr),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(cfg.MetricInterval))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	current = &Telemetry{
		config:         cfg,
		tracer:         tp.Tracer(cfg.ServiceName),
		meter:          mp.Meter(cfg.ServiceName),
		tracerProvider: tp,
		meterProvider:  mp,
	}
	return current, nil
}

// createResource is not merged with resource.Default(): its schema URL
// conflicts with semconv v1.27.0.
func createResource(cfg *Config) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentNameKey.String(cfg.Environment),
		attribute.String("service.namespace", "yugo"),
		semconv.TelemetrySDKLanguageGo,
	)
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// Shutdown flushes pending spans and metrics
func Shutdown(ctx context.Context) error {
	if current == nil {
		return nil
	}

	var errs []error
	if current.tracerProvider != nil {
		if err := current.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if current.meterProvider != nil {
		if err := current.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GetMeter returns the process meter, or a no-op meter before Init
func GetMeter() metric.Meter {
	if current == nil || current.meter == nil {
		return otel.Meter("noop")
	}
	return current.meter
}

// StartSpan starts a span on the process tracer. Before Init it returns
// whatever span ctx already carries.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if current == nil || current.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return current.tracer.Start(ctx, name, opts...)
}

// SetSpanError records err on the span in ctx
func SetSpanError(ctx context.Context, err error) {
	trace.SpanFromContext(ctx).RecordError(err)
}
