package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OTelConfig holds the configuration for OpenTelemetry.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	Enabled        bool
}

// LoadOTelConfig reads OpenTelemetry configuration from the environment.
func LoadOTelConfig(serviceName string) *OTelConfig {
	return &OTelConfig{
		ServiceName:    getEnv("OTEL_SERVICE_NAME", serviceName),
		ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
		Enabled:        getEnv("OTEL_ENABLED", "true") == "true",
	}
}

// Provider holds the OpenTelemetry trace and metric providers.
type Provider struct {
	TraceProvider  *trace.TracerProvider
	MetricProvider *metric.MeterProvider
	config         *OTelConfig
}

// NewProvider wires the OTLP exporters and registers the global providers
// and propagators.
func NewProvider(config *OTelConfig) (*Provider, error) {
	if !config.Enabled {
		GetGlobalLogger().WithComponent("telemetry").Info("OpenTelemetry is disabled")
		return &Provider{config: config}, nil
	}

	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider, err := newTraceProvider(res, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace provider: %w", err)
	}

	metricProvider, err := newMetricProvider(res, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric provider: %w", err)
	}

	otel.SetTracerProvider(traceProvider)
	otel.SetMeterProvider(metricProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		TraceProvider:  traceProvider,
		MetricProvider: metricProvider,
		config:         config,
	}, nil
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.config.Enabled {
		return nil
	}

	var errs []error
	if p.TraceProvider != nil {
		if err := p.TraceProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown trace provider: %w", err))
		}
	}
	if p.MetricProvider != nil {
		if err := p.MetricProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown metric provider: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func newTraceProvider(res *resource.Resource, config *OTelConfig) (*trace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	), nil
}

func newMetricProvider(res *resource.Resource, config *OTelConfig) (*metric.MeterProvider, error) {
	exporter, err := otlpmetrichttp.New(
		context.Background(),
		otlpmetrichttp.WithEndpoint(config.OTLPEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(30*time.Second))),
		metric.WithResource(res),
	), nil
}

// Initialize sets up OpenTelemetry and returns a shutdown hook.
func Initialize(ctx context.Context, config *OTelConfig) (func(), error) {
	provider, err := NewProvider(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenTelemetry provider: %w", err)
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			GetGlobalLogger().WithComponent("telemetry").WithError(err).Error("Error shutting down OpenTelemetry")
		}
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
