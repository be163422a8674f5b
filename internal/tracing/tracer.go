// Package tracing wires OpenTelemetry through the daemon: a provider with
// pluggable exporters, an HTTP server-span middleware, and the span and
// attribute names the ingest and sync pipelines share.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultServiceName identifies the daemon in exported traces.
const DefaultServiceName = "adwd-orchestrator"

// Config selects the tracing backend. The zero value is valid and means
// disabled.
type Config struct {
	// Enabled turns span recording on. Disabled tracing hands out no-op
	// tracers with zero per-span cost.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is one of "none", "file", "stdout", "otlp". "none" records
	// spans for in-process correlation without exporting them.
	Exporter string `mapstructure:"exporter"`

	// FilePath receives JSONL spans when Exporter is "file".
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the gRPC collector address when Exporter is "otlp".
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate is the sampled fraction of new traces, 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate"`

	// ServiceName overrides DefaultServiceName in exported spans.
	ServiceName string `mapstructure:"service_name"`
}

// DefaultConfig returns the daemon's defaults: disabled, and a file
// exporter sampling everything once enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		Exporter:     "file",
		FilePath:     "",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
		ServiceName:  DefaultServiceName,
	}
}

// Provider owns the tracer provider for the daemon's lifetime. A disabled
// provider has no SDK behind it and hands out no-op tracers.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider builds a provider from cfg and installs it as the global
// OpenTelemetry provider when enabled.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer("disabled")}, nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}

	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}

	opts := []sdktrace.TracerProviderOption{
		// Schemaless keeps the resource clear of schema-version conflicts
		// with resource.Default.
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", name),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	sdk := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(sdk)
	return &Provider{sdk: sdk, tracer: sdk.Tracer(name)}, nil
}

// newExporter builds the configured span exporter. nil, nil means spans
// stay in-process.
func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "none", "":
		return nil, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file_path required for file exporter")
		}
		return NewFileExporter(cfg.FilePath)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported exporter type: %q", cfg.Exporter)
	}
}

// Tracer returns the tracer components create spans with. Always non-nil;
// a disabled provider returns a no-op tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled reports whether spans are being recorded.
func (p *Provider) Enabled() bool {
	return p.sdk != nil
}

// Shutdown flushes batched spans and stops the SDK. Safe on a disabled
// provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
