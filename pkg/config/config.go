package config

import "time"

// Transport type constants
const (
	// TransportNetHTTP mounts the pipeline on a net/http ServeMux
	TransportNetHTTP = "nethttp"
	// TransportGin mounts the pipeline on a gin engine
	TransportGin = "gin"
	// TransportGorilla mounts the pipeline on a gorilla/mux router
	TransportGorilla = "gorilla"
)

// Config is the root configuration of the RPC server.
type Config struct {
	Service     ServiceConfig     `mapstructure:"service"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Transport   string            `mapstructure:"transport"`
	Protocol    string            `mapstructure:"protocol"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	RequestID   RequestIDConfig   `mapstructure:"request_id"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Compression CompressionConfig `mapstructure:"compression"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Management  ManagementConfig  `mapstructure:"management"`
	Presign     PresignConfig     `mapstructure:"presign"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name            string        `mapstructure:"name"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPConfig configures the public listener.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig configures the logger, request logging and redaction.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Redaction is "redact" or "reveal". It is resolved once at startup.
	Redaction            string   `mapstructure:"redaction"`
	Requests             bool     `mapstructure:"requests"`
	LogStart             bool     `mapstructure:"log_start"`
	Fields               []string `mapstructure:"fields"`
	SensitiveHeaders     []string `mapstructure:"sensitive_headers"`
	SensitivePath        bool     `mapstructure:"sensitive_path"`
	SensitiveQueryKeys   []string `mapstructure:"sensitive_query_keys"`
	ExcludedPathPrefixes []string `mapstructure:"excluded_path_prefixes"`
}

// RequestIDConfig configures the request identity stage.
type RequestIDConfig struct {
	// ResponseHeader echoes the ID to callers when set.
	ResponseHeader string `mapstructure:"response_header"`
}

// LimitsConfig configures timeouts and backpressure.
type LimitsConfig struct {
	MaxInFlight int           `mapstructure:"max_in_flight"`
	Rate        float64       `mapstructure:"rate"`
	Burst       int           `mapstructure:"burst"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// MaxBodyBytes bounds request bodies. Zero disables the limit.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// CompressionConfig configures response compression.
type CompressionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Gzip    bool `mapstructure:"gzip"`
	Brotli  bool `mapstructure:"brotli"`
	MinSize int  `mapstructure:"min_size"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// ManagementConfig configures the listener serving /healthz, /metrics and /version.
type ManagementConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PresignConfig configures URL presigning.
type PresignConfig struct {
	Region          string        `mapstructure:"region"`
	Service         string        `mapstructure:"service"`
	Endpoint        string        `mapstructure:"endpoint"`
	UsePathStyle    bool          `mapstructure:"use_path_style"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key" secret:"true"`
	SessionToken    string        `mapstructure:"session_token" secret:"true"`
	Expiry          time.Duration `mapstructure:"expiry"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "rpc-server",
			Environment:     "production",
			ShutdownTimeout: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Transport: TransportNetHTTP,
		Protocol:  "awsJson1_1",
		Logging: LoggingConfig{
			Level:            "info",
			Format:           "json",
			Redaction:        "redact",
			Requests:         true,
			SensitiveHeaders: []string{"Authorization", "Cookie", "Set-Cookie", "X-Amz-Security-Token"},
		},
		RequestID: RequestIDConfig{
			ResponseHeader: "X-Request-Id",
		},
		Limits: LimitsConfig{
			Timeout:      15 * time.Second,
			MaxBodyBytes: 10 << 20,
		},
		Compression: CompressionConfig{
			Enabled: true,
			Gzip:    true,
			Brotli:  true,
			MinSize: 256,
		},
		Tracing: TracingConfig{
			SampleRate: 1.0,
		},
		Management: ManagementConfig{
			Enabled:      true,
			Port:         9090,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Presign: PresignConfig{
			Region:  "us-east-1",
			Service: "s3",
			Expiry:  15 * time.Minute,
		},
	}
}
