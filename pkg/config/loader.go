package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nimburion/rpcserver/pkg/observability/logger"
	"github.com/nimburion/rpcserver/pkg/observability/sensitive"
	"github.com/nimburion/rpcserver/pkg/protocol/factory"
)

// DefaultEnvPrefix prefixes every environment variable the loader reads.
const DefaultEnvPrefix = "RPC"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to "RPC")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	// Nested keys are only visible to Unmarshal through explicit bindings.
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	bindings := map[string]string{
		"service.name":             "SERVICE_NAME",
		"service.environment":      "SERVICE_ENVIRONMENT",
		"service.shutdown_timeout": "SERVICE_SHUTDOWN_TIMEOUT",

		"http.port":          "HTTP_PORT",
		"http.read_timeout":  "HTTP_READ_TIMEOUT",
		"http.write_timeout": "HTTP_WRITE_TIMEOUT",
		"http.idle_timeout":  "HTTP_IDLE_TIMEOUT",

		"transport": "TRANSPORT",
		"protocol":  "PROTOCOL",

		"logging.level":                  "LOG_LEVEL",
		"logging.format":                 "LOG_FORMAT",
		"logging.redaction":              "LOG_REDACTION",
		"logging.requests":               "LOG_REQUESTS",
		"logging.log_start":              "LOG_START",
		"logging.fields":                 "LOG_FIELDS",
		"logging.sensitive_headers":      "LOG_SENSITIVE_HEADERS",
		"logging.sensitive_path":         "LOG_SENSITIVE_PATH",
		"logging.sensitive_query_keys":   "LOG_SENSITIVE_QUERY_KEYS",
		"logging.excluded_path_prefixes": "LOG_EXCLUDED_PATH_PREFIXES",

		"request_id.response_header": "REQUEST_ID_RESPONSE_HEADER",

		"limits.max_in_flight":  "LIMITS_MAX_IN_FLIGHT",
		"limits.rate":           "LIMITS_RATE",
		"limits.burst":          "LIMITS_BURST",
		"limits.timeout":        "LIMITS_TIMEOUT",
		"limits.max_body_bytes": "LIMITS_MAX_BODY_BYTES",

		"compression.enabled":  "COMPRESSION_ENABLED",
		"compression.gzip":     "COMPRESSION_GZIP",
		"compression.brotli":   "COMPRESSION_BROTLI",
		"compression.min_size": "COMPRESSION_MIN_SIZE",

		"tracing.enabled":     "TRACING_ENABLED",
		"tracing.endpoint":    "TRACING_ENDPOINT",
		"tracing.insecure":    "TRACING_INSECURE",
		"tracing.sample_rate": "TRACING_SAMPLE_RATE",

		"management.enabled":       "MGMT_ENABLED",
		"management.port":          "MGMT_PORT",
		"management.read_timeout":  "MGMT_READ_TIMEOUT",
		"management.write_timeout": "MGMT_WRITE_TIMEOUT",

		"presign.region":            "PRESIGN_REGION",
		"presign.service":           "PRESIGN_SERVICE",
		"presign.endpoint":          "PRESIGN_ENDPOINT",
		"presign.use_path_style":    "PRESIGN_USE_PATH_STYLE",
		"presign.access_key_id":     "PRESIGN_ACCESS_KEY_ID",
		"presign.secret_access_key": "PRESIGN_SECRET_ACCESS_KEY",
		"presign.session_token":     "PRESIGN_SESSION_TOKEN",
		"presign.expiry":            "PRESIGN_EXPIRY",
	}
	for key, suffix := range bindings {
		_ = v.BindEnv(key, l.prefixedEnv(suffix))
	}
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)
	v.SetDefault("service.shutdown_timeout", cfg.Service.ShutdownTimeout)

	v.SetDefault("http.port", cfg.HTTP.Port)
	v.SetDefault("http.read_timeout", cfg.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", cfg.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", cfg.HTTP.IdleTimeout)

	v.SetDefault("transport", cfg.Transport)
	v.SetDefault("protocol", cfg.Protocol)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("logging.requests", cfg.Logging.Requests)
	v.SetDefault("logging.log_start", cfg.Logging.LogStart)
	v.SetDefault("logging.fields", cfg.Logging.Fields)
	v.SetDefault("logging.sensitive_headers", cfg.Logging.SensitiveHeaders)
	v.SetDefault("logging.sensitive_path", cfg.Logging.SensitivePath)
	v.SetDefault("logging.sensitive_query_keys", cfg.Logging.SensitiveQueryKeys)
	v.SetDefault("logging.excluded_path_prefixes", cfg.Logging.ExcludedPathPrefixes)

	v.SetDefault("request_id.response_header", cfg.RequestID.ResponseHeader)

	v.SetDefault("limits.max_in_flight", cfg.Limits.MaxInFlight)
	v.SetDefault("limits.rate", cfg.Limits.Rate)
	v.SetDefault("limits.burst", cfg.Limits.Burst)
	v.SetDefault("limits.timeout", cfg.Limits.Timeout)
	v.SetDefault("limits.max_body_bytes", cfg.Limits.MaxBodyBytes)

	v.SetDefault("compression.enabled", cfg.Compression.Enabled)
	v.SetDefault("compression.gzip", cfg.Compression.Gzip)
	v.SetDefault("compression.brotli", cfg.Compression.Brotli)
	v.SetDefault("compression.min_size", cfg.Compression.MinSize)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", cfg.Tracing.Insecure)
	v.SetDefault("tracing.sample_rate", cfg.Tracing.SampleRate)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)

	v.SetDefault("presign.region", cfg.Presign.Region)
	v.SetDefault("presign.service", cfg.Presign.Service)
	v.SetDefault("presign.endpoint", cfg.Presign.Endpoint)
	v.SetDefault("presign.use_path_style", cfg.Presign.UsePathStyle)
	v.SetDefault("presign.access_key_id", cfg.Presign.AccessKeyID)
	v.SetDefault("presign.secret_access_key", cfg.Presign.SecretAccessKey)
	v.SetDefault("presign.session_token", cfg.Presign.SessionToken)
	v.SetDefault("presign.expiry", cfg.Presign.Expiry)
}

// Validate validates the configuration and returns every problem found.
func (l *ViperLoader) Validate(cfg *Config) error {
	return cfg.Validate()
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	c.Logging.Fields = normalizeStringSlice(c.Logging.Fields)
	c.Logging.SensitiveHeaders = normalizeStringSlice(c.Logging.SensitiveHeaders)
	c.Logging.SensitiveQueryKeys = normalizeStringSlice(c.Logging.SensitiveQueryKeys)
	c.Logging.ExcludedPathPrefixes = normalizeStringSlice(c.Logging.ExcludedPathPrefixes)

	if strings.TrimSpace(c.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}
	if c.Service.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("service.shutdown_timeout must be positive"))
	}

	if err := validatePort("http.port", c.HTTP.Port); err != nil {
		errs = append(errs, err)
	}

	validTransports := []string{TransportNetHTTP, TransportGin, TransportGorilla}
	if !slices.Contains(validTransports, strings.ToLower(c.Transport)) {
		errs = append(errs, fmt.Errorf("invalid transport: %s (must be one of: %v)", c.Transport, validTransports))
	}
	if !slices.ContainsFunc(factory.SupportedNames(), func(name string) bool { return strings.EqualFold(name, c.Protocol) }) {
		errs = append(errs, fmt.Errorf("invalid protocol: %s (must be one of: %v)", c.Protocol, factory.SupportedNames()))
	}

	if _, err := logger.ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if _, err := logger.ParseLogFormat(c.Logging.Format); err != nil {
		errs = append(errs, fmt.Errorf("logging.format: %w", err))
	}
	if _, err := sensitive.ParsePolicy(c.Logging.Redaction); err != nil {
		errs = append(errs, fmt.Errorf("logging.redaction: %w", err))
	}

	if c.Limits.MaxInFlight < 0 {
		errs = append(errs, errors.New("limits.max_in_flight must not be negative"))
	}
	if c.Limits.Rate < 0 {
		errs = append(errs, errors.New("limits.rate must not be negative"))
	}
	if c.Limits.Burst < 0 {
		errs = append(errs, errors.New("limits.burst must not be negative"))
	}
	if c.Limits.Timeout < 0 {
		errs = append(errs, errors.New("limits.timeout must not be negative"))
	}
	if c.Limits.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("limits.max_body_bytes must not be negative"))
	}

	if c.Compression.MinSize < 0 {
		errs = append(errs, errors.New("compression.min_size must not be negative"))
	}

	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("tracing.sample_rate must be between 0 and 1"))
	}

	if c.Management.Enabled {
		if err := validatePort("management.port", c.Management.Port); err != nil {
			errs = append(errs, err)
		} else if c.Management.Port == c.HTTP.Port {
			errs = append(errs, errors.New("management.port must differ from http.port"))
		}
	}

	if (c.Presign.AccessKeyID == "") != (c.Presign.SecretAccessKey == "") {
		errs = append(errs, errors.New("presign.access_key_id and presign.secret_access_key must be set together"))
	}
	if c.Presign.Expiry < 0 || c.Presign.Expiry > 7*24*time.Hour {
		errs = append(errs, errors.New("presign.expiry must be between 0 and 168h"))
	}

	return errors.Join(errs...)
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}

func normalizeStringSlice(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
