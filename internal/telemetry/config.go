package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Config holds configuration options for OpenTelemetry
type Config struct {
	// Service information
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Tracing configuration
	TracingEnabled    bool
	TracingSampleRate float64
	TracingEndpoint   string

	// Metrics configuration
	MetricsEnabled  bool
	MetricsInterval time.Duration
	MetricsEndpoint string

	// Resource attributes
	ResourceAttributes map[string]string

	// Development settings
	IsDevelopment   bool
	ConsoleExporter bool
}

// DefaultConfig returns a configuration with Prometheus metrics on and tracing off
func DefaultConfig() *Config {
	return &Config{
		ServiceName:       "virtual-painter",
		ServiceVersion:    "1.0.0",
		Environment:       "development",
		TracingSampleRate: 1.0,
		MetricsEnabled:    true,
		MetricsInterval:   30 * time.Second,
		IsDevelopment:     true,
	}
}

// Validate validates the telemetry configuration
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1, got %f", c.TracingSampleRate)
	}
	if c.MetricsEndpoint != "" && c.MetricsInterval <= 0 {
		return fmt.Errorf("metrics interval must be positive when an OTLP metrics endpoint is set")
	}
	if c.TracingEnabled && c.TracingEndpoint == "" && !c.ConsoleExporter {
		return fmt.Errorf("tracing requires an OTLP endpoint or the console exporter")
	}
	return nil
}

// GetResourceAttributes returns the resource attributes including service information
func (c *Config) GetResourceAttributes() map[string]string {
	attrs := make(map[string]string, len(c.ResourceAttributes)+3)
	for k, v := range c.ResourceAttributes {
		attrs[k] = v
	}
	attrs["service.name"] = c.ServiceName
	attrs["service.version"] = c.ServiceVersion
	attrs["deployment.environment"] = c.Environment
	return attrs
}

// otlpEndpoint strips the scheme, the gRPC exporters take host:port
func otlpEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimPrefix(endpoint, "https://")
}
