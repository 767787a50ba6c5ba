// Package logging instruments requests flowing through the pipeline.
//
// Values that may carry customer data (the path, selected query values and
// headers) are wrapped in sensitive.Sensitive so the configured redaction
// policy decides what reaches the log.
package logging

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nimburion/rpcserver/pkg/middleware/requestid"
	"github.com/nimburion/rpcserver/pkg/observability/logger"
	"github.com/nimburion/rpcserver/pkg/observability/sensitive"
	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/routing"
)

// Log field name constants
const (
	FieldRequestID     = logger.FieldRequestID
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldOperation     = "operation"
	FieldStatus        = "status"
	FieldDurationMS    = "duration_ms"
	FieldError         = "error"
	FieldRemoteAddr    = "remote_addr"
	FieldRemotePort    = "remote_port"
	FieldHost          = "host"
	FieldUserAgent     = "user_agent"
	FieldRequestLength = "request_length"
	FieldHeaders       = "headers"
)

var (
	defaultFields = []string{
		FieldRequestID,
		FieldMethod,
		FieldPath,
		FieldOperation,
		FieldStatus,
		FieldDurationMS,
		FieldRemoteAddr,
		FieldError,
	}
	validFields = map[string]struct{}{
		FieldRequestID:     {},
		FieldMethod:        {},
		FieldPath:          {},
		FieldQuery:         {},
		FieldOperation:     {},
		FieldStatus:        {},
		FieldDurationMS:    {},
		FieldError:         {},
		FieldRemoteAddr:    {},
		FieldRemotePort:    {},
		FieldHost:          {},
		FieldUserAgent:     {},
		FieldRequestLength: {},
		FieldHeaders:       {},
	}
	fieldAliases = map[string]string{
		"uri":          FieldPath,
		"query_string": FieldQuery,
		"target":       FieldOperation,
		"agent":        FieldUserAgent,
	}
)

// Sensitivity marks which parts of a request may contain customer data.
type Sensitivity struct {
	// Policy is resolved once at startup.
	Policy sensitive.Policy
	// Headers lists sensitive header names, case-insensitive.
	Headers []string
	// Path marks the whole request path as sensitive.
	Path bool
	// QueryKeys lists sensitive query parameters. "*" marks all of them.
	QueryKeys []string
}

// DefaultSensitivity treats credentials and session tokens as sensitive.
func DefaultSensitivity() Sensitivity {
	return Sensitivity{
		Policy:  sensitive.PolicyRedact,
		Headers: []string{"Authorization", "Cookie", "Set-Cookie", "X-Amz-Security-Token"},
	}
}

// Config configures the request logging stage.
type Config struct {
	Enabled              bool
	LogStart             bool
	Fields               []string
	ExcludedPathPrefixes []string
	Sensitivity          Sensitivity
}

// DefaultConfig returns default request logging behavior.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		LogStart:    false,
		Fields:      append([]string{}, defaultFields...),
		Sensitivity: DefaultSensitivity(),
	}
}

// Layer creates the logging stage with default configuration.
func Layer(log logger.Logger) pipeline.Layer {
	return WithConfig(log, DefaultConfig())
}

// WithConfig creates the logging stage. Server faults (5xx) are logged at
// error level, everything else at info.
func WithConfig(log logger.Logger, cfg Config) pipeline.Layer {
	normalized := normalize(cfg)

	return pipeline.Around(func(req *http.Request, next pipeline.Service) (*pipeline.Response, error) {
		if !normalized.enabledFor(req.URL.Path) {
			return next.Call(req)
		}

		// Handlers may take the ID out of the extensions, so it is read up front.
		var requestID string
		if id, ok := requestid.FromContext(req.Context()); ok {
			requestID = id.String()
		}

		start := time.Now()
		if normalized.LogStart {
			log.Info("request started", normalized.buildFields(requestID, req, nil, 0, nil, true)...)
		}

		resp, err := next.Call(req)
		duration := time.Since(start)

		fields := normalized.buildFields(requestID, req, resp, duration, err, false)
		switch {
		case err != nil:
			log.Error("request failed", fields...)
		case resp != nil && resp.StatusCode >= http.StatusInternalServerError:
			log.Error("request completed", fields...)
		default:
			log.Info("request completed", fields...)
		}
		return resp, err
	})
}

type settings struct {
	Config
	headers   map[string]struct{}
	queryKeys map[string]struct{}
	allQuery  bool
}

func normalize(cfg Config) settings {
	s := settings{Config: cfg}
	s.Fields = normalizeFields(cfg.Fields)

	s.headers = make(map[string]struct{}, len(cfg.Sensitivity.Headers))
	for _, name := range cfg.Sensitivity.Headers {
		s.headers[http.CanonicalHeaderKey(strings.TrimSpace(name))] = struct{}{}
	}
	s.queryKeys = make(map[string]struct{}, len(cfg.Sensitivity.QueryKeys))
	for _, key := range cfg.Sensitivity.QueryKeys {
		if key == "*" {
			s.allQuery = true
			continue
		}
		s.queryKeys[key] = struct{}{}
	}
	return s
}

func (s settings) enabledFor(path string) bool {
	if !s.Enabled {
		return false
	}
	for _, prefix := range s.ExcludedPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

func normalizeFields(fields []string) []string {
	if len(fields) == 0 {
		return append([]string{}, defaultFields...)
	}

	normalized := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		name := strings.ToLower(strings.TrimSpace(field))
		if alias, ok := fieldAliases[name]; ok {
			name = alias
		}
		if _, ok := validFields[name]; !ok {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		normalized = append(normalized, name)
	}
	if len(normalized) == 0 {
		return append([]string{}, defaultFields...)
	}
	return normalized
}

func (s settings) buildFields(requestID string, req *http.Request, resp *pipeline.Response, duration time.Duration, err error, isStart bool) []any {
	args := make([]any, 0, len(s.Fields)*2)
	for _, field := range s.Fields {
		value, ok := s.resolveFieldValue(field, requestID, req, resp, duration, err, isStart)
		if !ok {
			continue
		}
		args = append(args, field, value)
	}
	return args
}

func (s settings) resolveFieldValue(field, requestID string, req *http.Request, resp *pipeline.Response, duration time.Duration, err error, isStart bool) (any, bool) {
	policy := s.Sensitivity.Policy
	switch field {
	case FieldRequestID:
		if requestID == "" {
			return nil, false
		}
		return requestID, true
	case FieldMethod:
		return req.Method, true
	case FieldPath:
		if s.Sensitivity.Path {
			return policy.Value(req.URL.Path), true
		}
		return req.URL.Path, true
	case FieldQuery:
		if req.URL.RawQuery == "" {
			return nil, false
		}
		return s.query(req), true
	case FieldOperation:
		key, ok := routing.KeyFrom(req)
		if !ok {
			return nil, false
		}
		return key.Target, true
	case FieldStatus:
		if isStart || resp == nil {
			return nil, false
		}
		return resp.StatusCode, true
	case FieldDurationMS:
		if isStart {
			return nil, false
		}
		return duration.Milliseconds(), true
	case FieldError:
		if err == nil {
			return nil, false
		}
		return err, true
	case FieldRemoteAddr:
		return req.RemoteAddr, true
	case FieldRemotePort:
		_, port, splitErr := net.SplitHostPort(req.RemoteAddr)
		if splitErr != nil {
			return "", false
		}
		return port, true
	case FieldHost:
		return req.Host, true
	case FieldUserAgent:
		return req.UserAgent(), true
	case FieldRequestLength:
		if req.ContentLength < 0 {
			return 0, true
		}
		return req.ContentLength, true
	case FieldHeaders:
		return s.headerValues(req.Header), true
	default:
		return nil, false
	}
}

func (s settings) query(req *http.Request) map[string]any {
	values := req.URL.Query()
	out := make(map[string]any, len(values))
	for key, v := range values {
		value := strings.Join(v, ",")
		if _, marked := s.queryKeys[key]; marked || s.allQuery {
			out[key] = s.Sensitivity.Policy.Value(value)
			continue
		}
		out[key] = value
	}
	return out
}

func (s settings) headerValues(header http.Header) map[string]any {
	out := make(map[string]any, len(header))
	for name, values := range header {
		value := strings.Join(values, ",")
		if _, marked := s.headers[http.CanonicalHeaderKey(name)]; marked {
			out[name] = s.Sensitivity.Policy.Value(value)
			continue
		}
		out[name] = value
	}
	return out
}
