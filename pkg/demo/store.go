// Package demo is a small in-memory object store served over any of the
// supported protocols. It backs the serve command and end-to-end tests.
package demo

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/rpcserver/pkg/observability/sensitive"
	"github.com/nimburion/rpcserver/pkg/observability/tracing"
)

var (
	// ErrNoSuchBucket is returned for operations on a bucket that was never written.
	ErrNoSuchBucket = errors.New("no such bucket")
	// ErrNoSuchKey is returned when the object does not exist.
	ErrNoSuchKey = errors.New("no such key")
)

// Object is a stored object.
type Object struct {
	Key          string
	Body         []byte
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Store keeps objects in memory. Buckets are created on first write.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string]Object

	now      func() time.Time
	policy   sensitive.Policy
	provider trace.TracerProvider
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithRedaction sets how object keys appear in spans.
func WithRedaction(policy sensitive.Policy) StoreOption {
	return func(s *Store) { s.policy = policy }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(provider trace.TracerProvider) StoreOption {
	return func(s *Store) { s.provider = provider }
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		buckets: make(map[string]map[string]Object),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) span(ctx context.Context, op tracing.SpanOperation, bucket, key string) (context.Context, trace.Span) {
	opts := []tracing.StoreSpanOption{tracing.WithBucket(bucket)}
	if key != "" {
		opts = append(opts, tracing.WithObjectKey(key, s.policy))
	}
	if s.provider != nil {
		opts = append(opts, tracing.WithTracerProvider(s.provider))
	}
	return tracing.StartStoreSpan(ctx, op, opts...)
}

// Put stores body under bucket/key, replacing any previous object.
func (s *Store) Put(ctx context.Context, bucket, key string, body []byte, contentType string) (Object, error) {
	_, span := s.span(ctx, tracing.SpanOperationStorePut, bucket, key)
	defer span.End()

	sum := md5.Sum(body)
	obj := Object{
		Key:          key,
		Body:         append([]byte(nil), body...),
		ContentType:  contentType,
		ETag:         `"` + hex.EncodeToString(sum[:]) + `"`,
		LastModified: s.now().UTC(),
	}

	s.mu.Lock()
	objects, ok := s.buckets[bucket]
	if !ok {
		objects = make(map[string]Object)
		s.buckets[bucket] = objects
	}
	objects[key] = obj
	s.mu.Unlock()

	tracing.RecordSuccess(span)
	return obj, nil
}

// Get returns the object at bucket/key.
func (s *Store) Get(ctx context.Context, bucket, key string) (Object, error) {
	_, span := s.span(ctx, tracing.SpanOperationStoreGet, bucket, key)
	defer span.End()

	s.mu.RLock()
	objects, ok := s.buckets[bucket]
	var obj Object
	var found bool
	if ok {
		obj, found = objects[key]
	}
	s.mu.RUnlock()

	switch {
	case !ok:
		tracing.RecordError(span, ErrNoSuchBucket)
		return Object{}, ErrNoSuchBucket
	case !found:
		tracing.RecordError(span, ErrNoSuchKey)
		return Object{}, ErrNoSuchKey
	}
	tracing.RecordSuccess(span)
	return obj, nil
}

// List returns up to limit objects whose key starts with prefix, sorted by
// key. A non-positive limit means 1000.
func (s *Store) List(ctx context.Context, bucket, prefix string, limit int) ([]Object, bool, error) {
	_, span := s.span(ctx, tracing.SpanOperationStoreList, bucket, "")
	defer span.End()

	if limit <= 0 {
		limit = 1000
	}

	s.mu.RLock()
	objects, ok := s.buckets[bucket]
	matched := make([]Object, 0, len(objects))
	for key, obj := range objects {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, obj)
		}
	}
	s.mu.RUnlock()

	if !ok {
		tracing.RecordError(span, ErrNoSuchBucket)
		return nil, false, ErrNoSuchBucket
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Key < matched[j].Key })
	truncated := len(matched) > limit
	if truncated {
		matched = matched[:limit]
	}
	tracing.RecordSuccess(span)
	return matched, truncated, nil
}
