package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"devpulse/internal/config"
	"devpulse/internal/constants"
)

const (
	instrumentationPrefix = "devpulse/"
	exporterDialTimeout   = 5 * time.Second
)

// Provider owns the process-wide SDK tracer provider installed by Init.
type Provider struct {
	sdk       *sdktrace.TracerProvider
	exporting bool
}

// Exporting reports whether spans leave the process.
func (p *Provider) Exporting() bool {
	return p.exporting
}

// Shutdown flushes buffered spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// Init installs the global provider and the W3C propagators. Propagation is
// installed even with export disabled so incoming traceparent headers still
// reach the stream envelopes and the logs.
func Init(cfg config.TracingConfig, serviceName string) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		sdk := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		otel.SetTracerProvider(sdk)
		return &Provider{sdk: sdk}, nil
	}

	res, err := newResource(firstNonEmpty(serviceName, cfg.ServiceName, constants.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := newExporter(cfg.OTLP)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.Sampler)),
	)
	otel.SetTracerProvider(sdk)

	return &Provider{sdk: sdk, exporting: true}, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceNamespaceKey.String("devpulse"),
			attribute.String("pipeline.component", "ingest"),
		),
	)
}

func newExporter(cfg config.OTLPConfig) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), exporterDialTimeout)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// newSampler maps the configured sampler name. Ratios outside [0,1] are
// clamped; unknown names sample everything under the parent's decision.
func newSampler(cfg config.SamplerConfig) sdktrace.Sampler {
	ratio := cfg.Param
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	switch cfg.Type {
	case "always_off":
		return sdktrace.NeverSample()
	case "always_on":
		return sdktrace.AlwaysSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(ratio)
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}

// GetTracer returns a tracer for one pipeline stage, e.g. "router".
func GetTracer(stage string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + stage)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
