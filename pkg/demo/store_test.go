package demo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nimburion/rpcserver/pkg/observability/sensitive"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestStore_SpansRedactKeys(t *testing.T) {
	// Given: a store tracing into a recorder with the default redaction policy
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	s := NewStore(WithClock(fixedClock), WithTracerProvider(provider))
	ctx := context.Background()

	// When: an object is written and a missing one is read
	if _, err := s.Put(ctx, "photos", "customers/alice.png", []byte("x"), "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, _ = s.Get(ctx, "photos", "customers/bob.png")

	// Then: both spans carry the bucket, never the key, and the miss is an error
	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	for _, span := range ended {
		for _, attr := range span.Attributes() {
			if attr.Key == "store.key" && attr.Value.Emit() != sensitive.Redacted {
				t.Fatalf("key leaked into span %s: %q", span.Name(), attr.Value.Emit())
			}
		}
	}
	if ended[1].Status().Code != codes.Error {
		t.Fatalf("expected error status on miss, got %v", ended[1].Status())
	}
}

func TestStore_PutGet(t *testing.T) {
	// Given: an object written to a fresh bucket
	s := NewStore(WithClock(fixedClock))
	ctx := context.Background()
	put, err := s.Put(ctx, "photos", "2026/cat.jpg", []byte("meow"), "image/jpeg")
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// When: it is read back
	got, err := s.Get(ctx, "photos", "2026/cat.jpg")

	// Then: body, metadata and ETag match the write
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Body) != "meow" || got.ContentType != "image/jpeg" {
		t.Fatalf("unexpected object %+v", got)
	}
	if got.ETag != `"4a4be40c96ac6314e91d93f38043a634"` || got.ETag != put.ETag {
		t.Fatalf("unexpected etag %s", got.ETag)
	}
	if !got.LastModified.Equal(fixedClock()) {
		t.Fatalf("unexpected last modified %v", got.LastModified)
	}
}

func TestStore_PutCopiesBody(t *testing.T) {
	s := NewStore()
	body := []byte("abc")
	if _, err := s.Put(context.Background(), "b", "k", body, ""); err != nil {
		t.Fatal(err)
	}
	body[0] = 'z'

	got, _ := s.Get(context.Background(), "b", "k")
	if string(got.Body) != "abc" {
		t.Fatalf("stored body aliased caller slice: %q", got.Body)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "nope", "k"); !errors.Is(err, ErrNoSuchBucket) {
		t.Fatalf("expected ErrNoSuchBucket, got %v", err)
	}
	if _, err := s.Put(ctx, "b", "k", nil, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "b", "other"); !errors.Is(err, ErrNoSuchKey) {
		t.Fatalf("expected ErrNoSuchKey, got %v", err)
	}
	if _, _, err := s.List(ctx, "nope", "", 0); !errors.Is(err, ErrNoSuchBucket) {
		t.Fatalf("expected ErrNoSuchBucket from list, got %v", err)
	}
}

func TestStore_ListPrefixAndLimit(t *testing.T) {
	// Given: keys inserted out of order
	s := NewStore()
	ctx := context.Background()
	for _, key := range []string{"logs/b", "img/x", "logs/a", "logs/c"} {
		if _, err := s.Put(ctx, "b", key, []byte(key), ""); err != nil {
			t.Fatal(err)
		}
	}

	// When: listing a prefix with a limit
	objects, truncated, err := s.List(ctx, "b", "logs/", 2)

	// Then: the first keys in order are returned and the listing is truncated
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 || objects[0].Key != "logs/a" || objects[1].Key != "logs/b" {
		t.Fatalf("unexpected listing %+v", objects)
	}
	if !truncated {
		t.Fatal("expected truncated listing")
	}

	objects, truncated, _ = s.List(ctx, "b", "logs/", 0)
	if len(objects) != 3 || truncated {
		t.Fatalf("expected full listing, got %d truncated=%v", len(objects), truncated)
	}
}

func TestStore_ListIsSortedProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("listing is sorted and complete", prop.ForAll(
		func(keys []string) bool {
			s := NewStore()
			ctx := context.Background()
			unique := make(map[string]struct{})
			for i, key := range keys {
				key = fmt.Sprintf("%s-%d", key, i%7)
				unique[key] = struct{}{}
				if _, err := s.Put(ctx, "b", key, nil, ""); err != nil {
					return false
				}
			}
			if len(unique) == 0 {
				return true
			}
			objects, _, err := s.List(ctx, "b", "", len(unique))
			if err != nil || len(objects) != len(unique) {
				return false
			}
			for i := 1; i < len(objects); i++ {
				if objects[i-1].Key >= objects[i].Key {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
