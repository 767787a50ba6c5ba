package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/rpcserver/pkg/observability/sensitive"
)

// SpanOperation represents a traced storage operation.
type SpanOperation string

// Span operation constants
const (
	SpanOperationStoreGet  SpanOperation = "store.get"
	SpanOperationStorePut  SpanOperation = "store.put"
	SpanOperationStoreList SpanOperation = "store.list"
)

// StoreSpanOption customizes a storage span.
type StoreSpanOption func(*storeSpanOptions)

type storeSpanOptions struct {
	provider   trace.TracerProvider
	attributes []attribute.KeyValue
}

// StartStoreSpan creates a child span for a storage operation performed by an
// operation handler.
func StartStoreSpan(ctx context.Context, operation SpanOperation, opts ...StoreSpanOption) (context.Context, trace.Span) {
	spanOpts := &storeSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("store.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	provider := spanOpts.provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer("store").Start(ctx, string(operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(spanOpts.attributes...),
	)
}

// WithTracerProvider overrides the global provider.
func WithTracerProvider(provider trace.TracerProvider) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.provider = provider
	}
}

// WithBucket records the bucket name.
func WithBucket(bucket string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("store.bucket", bucket))
	}
}

// WithObjectKey records the object key under the redaction policy, since keys
// may name customer data.
func WithObjectKey(key string, policy sensitive.Policy) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("store.key", fmt.Sprint(policy.Value(key))))
	}
}

// RecordError records an error in the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
