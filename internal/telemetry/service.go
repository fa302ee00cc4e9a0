package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/virtualpainter/painter/internal/slogging"
)

// Service manages OpenTelemetry providers and configuration
type Service struct {
	config *Config

	// Providers
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	// Global instances
	tracer trace.Tracer
	meter  metric.Meter

	// registry backs the /metrics endpoint
	registry *promclient.Registry

	// Resource
	resource *resource.Resource
}

// NewService creates a new telemetry service
func NewService(config *Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	service := &Service{
		config: config,
	}

	// Create resource
	if err := service.initResource(); err != nil {
		return nil, fmt.Errorf("failed to initialize resource: %w", err)
	}

	// Initialize tracing
	if config.TracingEnabled {
		if err := service.initTracing(); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	// Initialize metrics
	if config.MetricsEnabled {
		if err := service.initMetrics(); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	// Set global propagator
	service.initPropagation()

	return service, nil
}

// initResource creates the OpenTelemetry resource
func (s *Service) initResource() error {
	attrs := make([]attribute.KeyValue, 0)

	for key, value := range s.config.GetResourceAttributes() {
		attrs = append(attrs, attribute.String(key, value))
	}

	res := resource.NewWithAttributes(
		resource.Default().SchemaURL(),
		attrs...,
	)

	// Merge with default resource
	var err error
	res, err = resource.Merge(resource.Default(), res)
	if err != nil {
		return fmt.Errorf("failed to merge with default resource: %w", err)
	}

	s.resource = res
	return nil
}

// initTracing initializes the tracing provider
func (s *Service) initTracing() error {
	var exporters []sdktrace.SpanExporter

	// Console exporter for development
	if s.config.ConsoleExporter {
		consoleExporter, err := stdouttrace.New(
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return fmt.Errorf("failed to create console trace exporter: %w", err)
		}
		exporters = append(exporters, consoleExporter)
	}

	// OTLP gRPC exporter
	if s.config.TracingEndpoint != "" {
		otlpExporter, err := otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(otlpEndpoint(s.config.TracingEndpoint)),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		exporters = append(exporters, otlpExporter)
	}

	if len(exporters) == 0 {
		return fmt.Errorf("no trace exporters configured")
	}

	// Create span processors
	var spanProcessors []sdktrace.SpanProcessor
	for _, exporter := range exporters {
		if s.config.IsDevelopment {
			// Use simple span processor in development for immediate export
			spanProcessors = append(spanProcessors, sdktrace.NewSimpleSpanProcessor(exporter))
		} else {
			// Use batch span processor in production for better performance
			spanProcessors = append(spanProcessors, sdktrace.NewBatchSpanProcessor(exporter))
		}
	}

	// Create sampler based on configuration
	var sampler sdktrace.Sampler
	switch rate := s.config.TracingSampleRate; {
	case rate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case rate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}

	// Create tracer provider
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(s.resource),
		sdktrace.WithSampler(sampler),
	}

	for _, processor := range spanProcessors {
		opts = append(opts, sdktrace.WithSpanProcessor(processor))
	}

	s.tracerProvider = sdktrace.NewTracerProvider(opts...)

	// Set global tracer provider
	otel.SetTracerProvider(s.tracerProvider)

	// Create tracer instance
	s.tracer = s.tracerProvider.Tracer(
		s.config.ServiceName,
		trace.WithInstrumentationVersion(s.config.ServiceVersion),
		trace.WithSchemaURL("https://opentelemetry.io/schemas/1.24.0"),
	)

	slogging.Get().Debug("Tracing initialized with %d exporters, sample rate: %.2f",
		len(exporters), s.config.TracingSampleRate)

	return nil
}

// initMetrics initializes the metrics provider
func (s *Service) initMetrics() error {
	var readers []sdkmetric.Reader

	// Prometheus exporter for pull-based metrics, on a private registry so
	// that several services can coexist in one process
	s.registry = promclient.NewRegistry()
	prometheusExporter, err := prometheus.New(prometheus.WithRegisterer(s.registry))
	if err != nil {
		return fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	readers = append(readers, prometheusExporter)

	// OTLP gRPC exporter for push-based metrics
	if s.config.MetricsEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(otlpEndpoint(s.config.MetricsEndpoint)),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}

		periodicReader := sdkmetric.NewPeriodicReader(
			otlpExporter,
			sdkmetric.WithInterval(s.config.MetricsInterval),
		)
		readers = append(readers, periodicReader)
	}

	if len(readers) == 0 {
		return fmt.Errorf("no metrics readers configured")
	}

	// Create meter provider
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(s.resource),
	}

	for _, reader := range readers {
		opts = append(opts, sdkmetric.WithReader(reader))
	}

	s.meterProvider = sdkmetric.NewMeterProvider(opts...)

	// Set global meter provider
	otel.SetMeterProvider(s.meterProvider)

	// Create meter instance
	s.meter = s.meterProvider.Meter(
		s.config.ServiceName,
		metric.WithInstrumentationVersion(s.config.ServiceVersion),
		metric.WithSchemaURL("https://opentelemetry.io/schemas/1.24.0"),
	)

	slogging.Get().Debug("Metrics initialized with %d readers", len(readers))

	return nil
}

// initPropagation sets up context propagation
func (s *Service) initPropagation() {
	// Set up W3C Trace Context and Baggage propagation
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// GetTracer returns the service tracer, a no-op tracer when tracing is disabled
func (s *Service) GetTracer() trace.Tracer {
	if s.tracer == nil {
		return tracenoop.NewTracerProvider().Tracer(s.config.ServiceName)
	}
	return s.tracer
}

// GetMeter returns the service meter, a no-op meter when metrics are disabled
func (s *Service) GetMeter() metric.Meter {
	if s.meter == nil {
		return metricnoop.NewMeterProvider().Meter(s.config.ServiceName)
	}
	return s.meter
}

// MetricsHandler serves the Prometheus exposition format, nil when metrics are disabled
func (s *Service) MetricsHandler() http.Handler {
	if s.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// GetTracerProvider returns the tracer provider
func (s *Service) GetTracerProvider() *sdktrace.TracerProvider {
	return s.tracerProvider
}

// GetMeterProvider returns the meter provider
func (s *Service) GetMeterProvider() *sdkmetric.MeterProvider {
	return s.meterProvider
}

// Shutdown gracefully shuts down all telemetry providers
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error

	// Shutdown tracer provider
	if s.tracerProvider != nil {
		if err := s.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}

	// Shutdown meter provider
	if s.meterProvider != nil {
		if err := s.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slogging.Get().Debug("Telemetry service shutdown completed")
	return nil
}

// ForceFlush forces all pending telemetry data to be exported
func (s *Service) ForceFlush(ctx context.Context) error {
	var errs []error

	// Force flush tracer provider
	if s.tracerProvider != nil {
		if err := s.tracerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush tracer provider: %w", err))
		}
	}

	// Force flush meter provider
	if s.meterProvider != nil {
		if err := s.meterProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush meter provider: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("flush errors: %w", errors.Join(errs...))
	}

	return nil
}

// Health checks the health of the telemetry service
func (s *Service) Health() HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Details: make(map[string]any),
	}

	// Check tracer provider
	if s.config.TracingEnabled {
		status.Details["tracing_enabled"] = s.tracerProvider != nil
	}

	// Check meter provider
	if s.config.MetricsEnabled {
		status.Details["metrics_enabled"] = s.meterProvider != nil
	}

	status.Details["service_name"] = s.config.ServiceName
	status.Details["service_version"] = s.config.ServiceVersion
	status.Details["environment"] = s.config.Environment

	return status
}

// HealthStatus represents the health status of the telemetry service
type HealthStatus struct {
	Healthy bool           `json:"healthy"`
	Details map[string]any `json:"details"`
}
