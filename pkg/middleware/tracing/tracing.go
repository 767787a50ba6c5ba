// Package tracing opens an OpenTelemetry server span for every request.
package tracing

import (
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/rpcserver/pkg/middleware/requestid"
	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/routing"
)

// Config holds configuration for the tracing stage.
type Config struct {
	// TracerName identifies the tracer. Defaults to "rpc-server".
	TracerName string
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
	// Propagator defaults to the global propagator.
	Propagator propagation.TextMapPropagator
	// Protocol is recorded as rpc.system.
	Protocol string
	// OmitPath keeps the request path out of span attributes, for services
	// whose paths carry customer data.
	OmitPath bool
	// ExcludedPathPrefixes disables tracing for matching path prefixes.
	ExcludedPathPrefixes []string
}

// Layer creates the tracing stage. The span is renamed after the operation
// once the router has selected one.
func Layer(cfg Config) pipeline.Layer {
	if cfg.TracerName == "" {
		cfg.TracerName = "rpc-server"
	}
	provider := cfg.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	propagator := cfg.Propagator
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	tracer := provider.Tracer(cfg.TracerName)

	return pipeline.Around(func(req *http.Request, next pipeline.Service) (*pipeline.Response, error) {
		if cfg.excluded(req.URL.Path) {
			return next.Call(req)
		}

		ctx := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+req.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		attrs := []attribute.KeyValue{
			attribute.String("http.method", req.Method),
			attribute.String("http.host", req.Host),
			attribute.String("http.user_agent", req.UserAgent()),
		}
		if cfg.Protocol != "" {
			attrs = append(attrs, attribute.String("rpc.system", cfg.Protocol))
		}
		if !cfg.OmitPath {
			attrs = append(attrs, attribute.String("http.target", req.URL.Path))
		}
		if id, ok := requestid.FromContext(req.Context()); ok {
			attrs = append(attrs, attribute.String("request.id", id.String()))
		}
		span.SetAttributes(attrs...)

		req = req.WithContext(ctx)
		resp, err := next.Call(req)

		if key, ok := routing.KeyFrom(req); ok {
			span.SetName(key.Target)
			span.SetAttributes(attribute.String("rpc.method", key.Target))
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return resp, err
		}
		if resp != nil {
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
			if resp.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		}
		return resp, err
	})
}

func (cfg Config) excluded(path string) bool {
	for _, prefix := range cfg.ExcludedPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
