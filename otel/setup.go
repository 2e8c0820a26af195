package otel

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gootel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName is reported when TelemetryConfig.ServiceName is empty.
const DefaultServiceName = "smartcalc"

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	ServiceName string
	// OTLPEndpoint is "host:port" or a URL. Empty disables export.
	OTLPEndpoint string
	Insecure     bool
}

// ShutdownFunc flushes and stops exporters.
type ShutdownFunc func(context.Context) error

// Setup installs a global tracer provider that exports spans over OTLP/HTTP.
// When no endpoint is configured it changes nothing and returns a no-op
// shutdown.
func Setup(ctx context.Context, cfg TelemetryConfig) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		return noop, nil
	}

	opts, err := exporterOptions(endpoint, cfg.Insecure)
	if err != nil {
		return noop, err
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("otel setup: create otlp exporter: %w", err)
	}

	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = DefaultServiceName
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", name)),
	)
	if err != nil {
		return noop, fmt.Errorf("otel setup: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	gootel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the SmartCalc tracer from the global provider.
func Tracer() trace.Tracer {
	return gootel.Tracer(ScopeName)
}

// NewGlobalObserver builds an Observer from the global meter and tracer
// providers.
func NewGlobalObserver() (*Observer, error) {
	return NewObserver(gootel.Meter(ScopeName), Tracer())
}

func exporterOptions(endpoint string, insecure bool) ([]otlptracehttp.Option, error) {
	if !strings.Contains(endpoint, "://") {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return opts, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("otel setup: invalid otlp endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("otel setup: otlp endpoint %q has no host", endpoint)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(u.Host)}
	switch u.Scheme {
	case "http":
		opts = append(opts, otlptracehttp.WithInsecure())
	case "https":
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
	default:
		return nil, fmt.Errorf("otel setup: unsupported otlp endpoint scheme %q", u.Scheme)
	}
	if p := strings.TrimRight(u.Path, "/"); p != "" {
		opts = append(opts, otlptracehttp.WithURLPath(p))
	}
	return opts, nil
}
