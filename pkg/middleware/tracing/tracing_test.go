package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/rpcserver/pkg/middleware/requestid"
	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/protocol/awsjson"
	"github.com/nimburion/rpcserver/pkg/routing"
)

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	return recorder, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
}

func TestLayer_SpanNamedAfterOperation(t *testing.T) {
	// Given: a router behind request IDs and tracing
	recorder, provider := newRecorder()
	router, err := routing.NewBuilder(awsjson.New11()).
		RouteFunc(http.MethodPost, "ObjectStore.GetObject", func(req *http.Request) (*pipeline.Response, error) {
			if !trace.SpanContextFromContext(req.Context()).IsValid() {
				t.Error("handler must run inside the server span")
			}
			return pipeline.NewResponse(http.StatusOK), nil
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	svc := pipeline.Stack(router, requestid.Layer(), Layer(Config{TracerProvider: provider, Protocol: "awsJson1_1"}))

	// When: a request is dispatched
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(awsjson.TargetHeader, "ObjectStore.GetObject")
	if _, err := svc.Call(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Then: one server span describes the operation
	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "ObjectStore.GetObject" {
		t.Errorf("unexpected span name %q", span.Name())
	}
	if span.SpanKind() != trace.SpanKindServer {
		t.Errorf("expected server span, got %v", span.SpanKind())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("expected ok status, got %v", span.Status())
	}
	attrs := span.Attributes()
	if v, _ := attrValue(attrs, "rpc.system"); v.AsString() != "awsJson1_1" {
		t.Errorf("unexpected rpc.system %q", v.AsString())
	}
	if v, _ := attrValue(attrs, "http.status_code"); v.AsInt64() != http.StatusOK {
		t.Errorf("unexpected status attribute %d", v.AsInt64())
	}
	if _, ok := attrValue(attrs, "request.id"); !ok {
		t.Error("expected request.id attribute")
	}
}

func TestLayer_ServerErrorStatus(t *testing.T) {
	recorder, provider := newRecorder()
	handler := pipeline.ServiceFunc(func(*http.Request) (*pipeline.Response, error) {
		return pipeline.NewResponse(http.StatusServiceUnavailable), nil
	})

	_, _ = pipeline.Stack(handler, Layer(Config{TracerProvider: provider})).Call(httptest.NewRequest(http.MethodGet, "/", nil))

	span := recorder.Ended()[0]
	if span.Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", span.Status())
	}
	if span.Name() != "HTTP GET" {
		t.Fatalf("unrouted span keeps its method name, got %q", span.Name())
	}
}

func TestLayer_RecordsError(t *testing.T) {
	recorder, provider := newRecorder()
	handler := pipeline.ServiceFunc(func(*http.Request) (*pipeline.Response, error) {
		return nil, errors.New("boom")
	})

	_, err := pipeline.Stack(handler, Layer(Config{TracerProvider: provider})).Call(httptest.NewRequest(http.MethodGet, "/", nil))
	if err == nil {
		t.Fatal("expected error to propagate")
	}

	span := recorder.Ended()[0]
	if span.Status().Code != codes.Error || span.Status().Description != "boom" {
		t.Fatalf("unexpected status %v", span.Status())
	}
	if len(span.Events()) == 0 {
		t.Fatal("expected an exception event")
	}
}

func TestLayer_OmitPathAndExclusions(t *testing.T) {
	recorder, provider := newRecorder()
	handler := pipeline.ServiceFunc(func(*http.Request) (*pipeline.Response, error) {
		return pipeline.NewResponse(http.StatusOK), nil
	})
	svc := pipeline.Stack(handler, Layer(Config{
		TracerProvider:       provider,
		OmitPath:             true,
		ExcludedPathPrefixes: []string{"/healthz"},
	}))

	_, _ = svc.Call(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	_, _ = svc.Call(httptest.NewRequest(http.MethodGet, "/customers/alice", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if _, ok := attrValue(spans[0].Attributes(), "http.target"); ok {
		t.Fatal("path must be omitted")
	}
}

func TestLayer_PropagatesIncomingContext(t *testing.T) {
	recorder, provider := newRecorder()
	handler := pipeline.ServiceFunc(func(*http.Request) (*pipeline.Response, error) {
		return pipeline.NewResponse(http.StatusOK), nil
	})
	svc := pipeline.Stack(handler, Layer(Config{TracerProvider: provider, Propagator: propagation.TraceContext{}}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	_, _ = svc.Call(req)

	span := recorder.Ended()[0]
	if got := span.Parent().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected remote parent trace, got %s", got)
	}
	_ = provider.Shutdown(context.Background())
}
