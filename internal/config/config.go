package config

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/virtualpainter/painter/internal/canvas"
	"github.com/virtualpainter/painter/internal/envutil"
	"github.com/virtualpainter/painter/internal/slogging"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Canvas      CanvasConfig      `yaml:"canvas"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Gesture     GestureConfig     `yaml:"gesture"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Secrets     SecretsConfig     `yaml:"secrets"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `yaml:"port" env:"SERVER_PORT"`
	Interface    string        `yaml:"interface" env:"SERVER_INTERFACE"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	TLSEnabled   bool          `yaml:"tls_enabled" env:"SERVER_TLS_ENABLED"`
	TLSCertFile  string        `yaml:"tls_cert_file" env:"SERVER_TLS_CERT_FILE"`
	TLSKeyFile   string        `yaml:"tls_key_file" env:"SERVER_TLS_KEY_FILE"`
	// AllowedOrigins limits websocket upgrades; empty allows any origin
	AllowedOrigins []string `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS"`
}

// WebSocketConfig holds websocket transport configuration
type WebSocketConfig struct {
	SendBufferSize  int           `yaml:"send_buffer_size" env:"WEBSOCKET_SEND_BUFFER_SIZE"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" env:"WEBSOCKET_MAX_MESSAGE_BYTES"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"WEBSOCKET_PING_INTERVAL"`
	PongTimeout     time.Duration `yaml:"pong_timeout" env:"WEBSOCKET_PONG_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WEBSOCKET_WRITE_TIMEOUT"`
}

// CanvasConfig holds the shape of every new session canvas
type CanvasConfig struct {
	Width        int    `yaml:"width" env:"CANVAS_WIDTH"`
	Height       int    `yaml:"height" env:"CANVAS_HEIGHT"`
	HistoryLimit int    `yaml:"history_limit" env:"CANVAS_HISTORY_LIMIT"`
	BrushSize    int    `yaml:"brush_size" env:"CANVAS_BRUSH_SIZE"`
	EraseMargin  int    `yaml:"erase_margin" env:"CANVAS_ERASE_MARGIN"`
	BrushColor   string `yaml:"brush_color" env:"CANVAS_BRUSH_COLOR"`
	Background   string `yaml:"background" env:"CANVAS_BACKGROUND"`
}

// Session retention policies
const (
	RetentionRetain = "retain"
	RetentionTTL    = "ttl"
)

// SessionsConfig holds session lifecycle configuration
type SessionsConfig struct {
	Retention        string        `yaml:"retention" env:"SESSIONS_RETENTION"`
	TTL              time.Duration `yaml:"ttl" env:"SESSIONS_TTL"`
	ReapInterval     time.Duration `yaml:"reap_interval" env:"SESSIONS_REAP_INTERVAL"`
	RestoreOnStartup bool          `yaml:"restore_on_startup" env:"SESSIONS_RESTORE_ON_STARTUP"`
	RestoreTimeout   time.Duration `yaml:"restore_timeout" env:"SESSIONS_RESTORE_TIMEOUT"`
}

// Persistence backends
const (
	BackendNone  = "none"
	BackendHTTP  = "http"
	BackendRedis = "redis"
	BackendSQL   = "sql"
)

// PersistenceConfig holds durability backend configuration
type PersistenceConfig struct {
	Backend          string        `yaml:"backend" env:"PERSISTENCE_BACKEND"`
	APIURL           string        `yaml:"api_url" env:"PERSISTENCE_API_URL"`
	APIToken         string        `yaml:"api_token" env:"PERSISTENCE_API_TOKEN"` //nolint:gosec // bearer credential for the REST backend
	RequestTimeout   time.Duration `yaml:"request_timeout" env:"PERSISTENCE_REQUEST_TIMEOUT"`
	FailureThreshold int           `yaml:"failure_threshold" env:"PERSISTENCE_FAILURE_THRESHOLD"`
	// BreakerReset reopens the gateway after this long; zero keeps it disabled
	// for the rest of the process lifetime
	BreakerReset  time.Duration `yaml:"breaker_reset" env:"PERSISTENCE_BREAKER_RESET"`
	RetryAttempts int           `yaml:"retry_attempts" env:"PERSISTENCE_RETRY_ATTEMPTS"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"PERSISTENCE_RETRY_INTERVAL"`
	QueueSize     int           `yaml:"queue_size" env:"PERSISTENCE_QUEUE_SIZE"`
	Workers       int           `yaml:"workers" env:"PERSISTENCE_WORKERS"`
	Redis         RedisConfig   `yaml:"redis"`
	SQL           SQLConfig     `yaml:"sql"`
}

// SQLConfig holds relational backend configuration
type SQLConfig struct {
	// Driver is sqlite, postgres, mysql or sqlserver
	Driver string `yaml:"driver" env:"PERSISTENCE_SQL_DRIVER"`
	// DSN may be left empty and supplied by the secrets provider
	DSN          string        `yaml:"dsn" env:"PERSISTENCE_SQL_DSN"` //nolint:gosec // G117 - may embed a password
	MaxOpenConns int           `yaml:"max_open_conns" env:"PERSISTENCE_SQL_MAX_OPEN_CONNS"`
	SessionTTL   time.Duration `yaml:"session_ttl" env:"PERSISTENCE_SQL_SESSION_TTL"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host       string        `yaml:"host" env:"REDIS_HOST"`
	Port       string        `yaml:"port" env:"REDIS_PORT"`
	Password   string        `yaml:"password" env:"REDIS_PASSWORD"` //nolint:gosec // G117 - Redis connection password
	DB         int           `yaml:"db" env:"REDIS_DB"`
	KeyPrefix  string        `yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"REDIS_SESSION_TTL"`
}

// Gesture sources
const (
	GestureSourceNone   = "none"
	GestureSourceRemote = "remote"
)

// GestureConfig selects the hand gesture classifier
type GestureConfig struct {
	Source      string        `yaml:"source" env:"GESTURE_SOURCE"`
	Endpoint    string        `yaml:"endpoint" env:"GESTURE_ENDPOINT"`
	Timeout     time.Duration `yaml:"timeout" env:"GESTURE_TIMEOUT"`
	JPEGQuality int           `yaml:"jpeg_quality" env:"GESTURE_JPEG_QUALITY"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level" env:"LOGGING_LEVEL"`
	IsDev            bool   `yaml:"is_dev" env:"LOGGING_IS_DEV"`
	IsTest           bool   `yaml:"is_test" env:"LOGGING_IS_TEST"`
	LogDir           string `yaml:"log_dir" env:"LOGGING_LOG_DIR"`
	MaxAgeDays       int    `yaml:"max_age_days" env:"LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB        int    `yaml:"max_size_mb" env:"LOGGING_MAX_SIZE_MB"`
	MaxBackups       int    `yaml:"max_backups" env:"LOGGING_MAX_BACKUPS"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console" env:"LOGGING_ALSO_LOG_TO_CONSOLE"`
	LogAPIRequests   bool   `yaml:"log_api_requests" env:"LOGGING_LOG_API_REQUESTS"`
	LogWebSocketMsg  bool   `yaml:"log_websocket_messages" env:"LOGGING_LOG_WEBSOCKET_MESSAGES"`
}

// TelemetryConfig holds metrics and tracing configuration
type TelemetryConfig struct {
	ServiceName       string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	MetricsEnabled    bool    `yaml:"metrics_enabled" env:"OTEL_METRICS_ENABLED"`
	MetricsEndpoint   string  `yaml:"metrics_endpoint" env:"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"`
	TracingEnabled    bool    `yaml:"tracing_enabled" env:"OTEL_TRACING_ENABLED"`
	TracingEndpoint   string  `yaml:"tracing_endpoint" env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" env:"OTEL_TRACING_SAMPLE_RATE"`
	ConsoleExporter   bool    `yaml:"console_exporter" env:"OTEL_CONSOLE_EXPORTER"`
}

// Secrets providers
const (
	SecretsProviderEnv = "env"
	SecretsProviderAWS = "aws"
	SecretsProviderOCI = "oci"
)

// SecretsConfig selects where credentials missing from the config are read from
type SecretsConfig struct {
	Provider         string `yaml:"provider" env:"SECRETS_PROVIDER"`
	AWSRegion        string `yaml:"aws_region" env:"SECRETS_AWS_REGION"`
	AWSSecretName    string `yaml:"aws_secret_name" env:"SECRETS_AWS_SECRET_NAME"`
	OCICompartmentID string `yaml:"oci_compartment_id" env:"SECRETS_OCI_COMPARTMENT_ID"`
	OCIVaultID       string `yaml:"oci_vault_id" env:"SECRETS_OCI_VAULT_ID"`
	OCISecretName    string `yaml:"oci_secret_name" env:"SECRETS_OCI_SECRET_NAME"`
}

// Load loads configuration from YAML file with environment variable overrides
func Load(configFile string) (*Config, error) {
	config := getDefaultConfig()

	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from YAML: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, fmt.Errorf("failed to override with environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns a configuration with default values
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8765",
			Interface:    "0.0.0.0",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		WebSocket: WebSocketConfig{
			SendBufferSize:  256,
			MaxMessageBytes: 8 << 20,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
		},
		Canvas: CanvasConfig{
			Width:        canvas.DefaultWidth,
			Height:       canvas.DefaultHeight,
			HistoryLimit: canvas.DefaultHistoryLimit,
			BrushSize:    canvas.DefaultBrushSize,
			EraseMargin:  canvas.DefaultEraseMargin,
			BrushColor:   "#000000",
			Background:   "#ffffff",
		},
		Sessions: SessionsConfig{
			Retention:      RetentionRetain,
			TTL:            24 * time.Hour,
			ReapInterval:   5 * time.Minute,
			RestoreTimeout: 10 * time.Second,
		},
		Persistence: PersistenceConfig{
			Backend:          BackendNone,
			APIURL:           "http://localhost:5000/api",
			RequestTimeout:   10 * time.Second,
			FailureThreshold: 3,
			RetryAttempts:    3,
			RetryInterval:    time.Second,
			QueueSize:        256,
			Workers:          2,
			Redis: RedisConfig{
				Host:       "localhost",
				Port:       "6379",
				KeyPrefix:  "painter:",
				SessionTTL: 24 * time.Hour,
			},
			SQL: SQLConfig{
				Driver:       "sqlite",
				MaxOpenConns: 10,
				SessionTTL:   24 * time.Hour,
			},
		},
		Gesture: GestureConfig{
			Source:      GestureSourceNone,
			Timeout:     2 * time.Second,
			JPEGQuality: 80,
		},
		Logging: LoggingConfig{
			Level:            "info",
			IsDev:            true,
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName:       "virtual-painter",
			MetricsEnabled:    true,
			TracingSampleRate: 1.0,
		},
		Secrets: SecretsConfig{
			Provider: SecretsProviderEnv,
		},
	}
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// overrideWithEnv overrides configuration values with environment variables
func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

// overrideStructWithEnv recursively overrides struct fields with environment variables
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := envutil.Get(envTag, "")
		if envValue == "" {
			continue
		}

		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setFieldFromString sets a struct field value from a string based on the field type
func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(boolVal)
	case reflect.Int:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(int64(intVal))
	case reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int64 value: %s", value)
			}
			field.SetInt(intVal)
		}
	case reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(floatVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			slice := make([]string, 0, len(parts))
			for _, part := range parts {
				trimmed := strings.TrimSpace(part)
				if trimmed != "" {
					slice = append(slice, trimmed)
				}
			}
			field.Set(reflect.ValueOf(slice))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.TLSEnabled && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		return fmt.Errorf("tls cert and key files are required when tls is enabled")
	}

	if c.WebSocket.SendBufferSize <= 0 {
		return fmt.Errorf("websocket send buffer size must be greater than 0")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket pong timeout must be greater than the ping interval")
	}

	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		return fmt.Errorf("canvas dimensions must be positive")
	}
	if c.Canvas.HistoryLimit <= 0 {
		return fmt.Errorf("canvas history limit must be greater than 0")
	}
	if c.Canvas.BrushSize <= 0 {
		return fmt.Errorf("canvas brush size must be greater than 0")
	}
	if _, err := canvas.ParseHexColor(c.Canvas.BrushColor); err != nil {
		return fmt.Errorf("canvas brush color: %w", err)
	}
	if _, err := canvas.ParseHexColor(c.Canvas.Background); err != nil {
		return fmt.Errorf("canvas background: %w", err)
	}

	switch c.Sessions.Retention {
	case RetentionRetain:
	case RetentionTTL:
		if c.Sessions.TTL <= 0 {
			return fmt.Errorf("sessions ttl must be greater than 0 when retention is %q", RetentionTTL)
		}
		if c.Sessions.ReapInterval <= 0 {
			return fmt.Errorf("sessions reap interval must be greater than 0 when retention is %q", RetentionTTL)
		}
	default:
		return fmt.Errorf("invalid sessions retention %q (must be %q or %q)", c.Sessions.Retention, RetentionRetain, RetentionTTL)
	}

	switch c.Persistence.Backend {
	case BackendNone:
	case BackendHTTP:
		if c.Persistence.APIURL == "" {
			return fmt.Errorf("persistence api url is required for the http backend")
		}
	case BackendRedis:
		if c.Persistence.Redis.Host == "" || c.Persistence.Redis.Port == "" {
			return fmt.Errorf("redis host and port are required for the redis backend")
		}
	case BackendSQL:
		switch c.Persistence.SQL.Driver {
		case "sqlite", "postgres", "mysql", "sqlserver":
		default:
			return fmt.Errorf("invalid sql driver %q", c.Persistence.SQL.Driver)
		}
	default:
		return fmt.Errorf("invalid persistence backend %q", c.Persistence.Backend)
	}
	if c.Persistence.FailureThreshold <= 0 {
		return fmt.Errorf("persistence failure threshold must be greater than 0")
	}
	if c.Persistence.RetryAttempts <= 0 {
		return fmt.Errorf("persistence retry attempts must be greater than 0")
	}
	if c.Persistence.QueueSize <= 0 || c.Persistence.Workers <= 0 {
		return fmt.Errorf("persistence queue size and workers must be greater than 0")
	}

	switch c.Gesture.Source {
	case GestureSourceNone:
	case GestureSourceRemote:
		if c.Gesture.Endpoint == "" {
			return fmt.Errorf("gesture endpoint is required for the remote source")
		}
	default:
		return fmt.Errorf("invalid gesture source %q", c.Gesture.Source)
	}

	switch c.Secrets.Provider {
	case "", SecretsProviderEnv:
	case SecretsProviderAWS:
		if c.Secrets.AWSRegion == "" || c.Secrets.AWSSecretName == "" {
			return fmt.Errorf("aws secrets provider requires region and secret name")
		}
	case SecretsProviderOCI:
		if c.Secrets.OCICompartmentID == "" || c.Secrets.OCIVaultID == "" {
			return fmt.Errorf("oci secrets provider requires compartment id and vault id")
		}
	default:
		return fmt.Errorf("invalid secrets provider %q", c.Secrets.Provider)
	}

	if c.Telemetry.TracingSampleRate < 0 || c.Telemetry.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1")
	}

	return nil
}

// IsTestMode returns true if running in test mode
func (c *Config) IsTestMode() bool {
	return c.Logging.IsTest || isRunningInTest()
}

// isRunningInTest detects if we're running under 'go test'
func isRunningInTest() bool {
	return flag.Lookup("test.v") != nil
}

// GetLogLevel returns the parsed log level
func (c *Config) GetLogLevel() slogging.LogLevel {
	return slogging.ParseLogLevel(c.Logging.Level)
}

// GetServerAddress returns the listen address
func (c *Config) GetServerAddress() string {
	return c.Server.Interface + ":" + c.Server.Port
}

// CanvasOptions converts the canvas section to canvas.Options. Colours are
// validated by Validate.
func (c *Config) CanvasOptions() canvas.Options {
	brush, _ := canvas.ParseHexColor(c.Canvas.BrushColor)
	background, _ := canvas.ParseHexColor(c.Canvas.Background)
	return canvas.Options{
		Width:        c.Canvas.Width,
		Height:       c.Canvas.Height,
		HistoryLimit: c.Canvas.HistoryLimit,
		BrushSize:    c.Canvas.BrushSize,
		EraseMargin:  c.Canvas.EraseMargin,
		BrushColor:   brush,
		Background:   background,
	}
}

// GetRedisAddress returns the host:port of the Redis backend
func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%s", c.Persistence.Redis.Host, c.Persistence.Redis.Port)
}
