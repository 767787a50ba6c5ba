package requestid

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/nimburion/rpcserver/pkg/extension"
	"github.com/nimburion/rpcserver/pkg/pipeline"
)

var uuidPattern = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-4[a-f0-9]{3}-[89ab][a-f0-9]{3}-[a-f0-9]{12}$`)

func TestLayer_InsertsID(t *testing.T) {
	// Given: a handler that extracts the request ID
	var captured ServerRequestID
	handler := pipeline.ServiceFunc(func(req *http.Request) (*pipeline.Response, error) {
		id, err := Extract(req)
		if err != nil {
			return nil, err
		}
		captured = id
		return pipeline.NewResponse(http.StatusOK), nil
	})

	// When: the request flows through the provider layer
	svc := pipeline.Stack(handler, Layer())
	if _, err := svc.Call(httptest.NewRequest(http.MethodPost, "/", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Then: a v4 UUID was generated
	if captured.IsZero() {
		t.Fatal("expected a generated request ID")
	}
	if !uuidPattern.MatchString(captured.String()) {
		t.Fatalf("expected UUID v4 format, got %s", captured)
	}
}

func TestExtract_SecondAttemptFails(t *testing.T) {
	var first, second error
	handler := pipeline.ServiceFunc(func(req *http.Request) (*pipeline.Response, error) {
		_, first = Extract(req)
		_, second = Extract(req)
		return pipeline.NewResponse(http.StatusOK), nil
	})

	if _, err := pipeline.Stack(handler, Layer()).Call(httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != nil {
		t.Fatalf("first extraction must succeed, got %v", first)
	}
	if !errors.Is(second, ErrMissingRequestID) {
		t.Fatalf("second extraction must fail with ErrMissingRequestID, got %v", second)
	}
}

func TestExtract_WithoutLayer(t *testing.T) {
	// A request with an empty store and a request with no store at all both fail.
	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := Extract(bare); !errors.Is(err, ErrMissingRequestID) {
		t.Fatalf("expected ErrMissingRequestID, got %v", err)
	}

	withStore, _ := extension.Ensure(httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := Extract(withStore)
	if !errors.Is(err, ErrMissingRequestID) {
		t.Fatalf("expected ErrMissingRequestID, got %v", err)
	}
	var missing *extension.MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected the missing-extension cause to be preserved, got %v", err)
	}
}

func TestFromContext_DoesNotConsume(t *testing.T) {
	handler := pipeline.ServiceFunc(func(req *http.Request) (*pipeline.Response, error) {
		peeked, ok := FromContext(req.Context())
		if !ok {
			t.Fatal("expected request ID in context")
		}
		taken, err := Extract(req)
		if err != nil {
			t.Fatalf("extract after peek failed: %v", err)
		}
		if peeked != taken {
			t.Fatalf("peek and extract disagree: %s vs %s", peeked, taken)
		}
		if _, ok := FromContext(req.Context()); ok {
			t.Fatal("extracted ID must no longer be visible")
		}
		return pipeline.NewResponse(http.StatusOK), nil
	})

	if _, err := pipeline.Stack(handler, Layer()).Call(httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLayer_ResponseHeader(t *testing.T) {
	var seen string
	handler := pipeline.ServiceFunc(func(req *http.Request) (*pipeline.Response, error) {
		id, err := Extract(req)
		if err != nil {
			return nil, err
		}
		seen = id.String()
		return &pipeline.Response{StatusCode: http.StatusOK}, nil
	})

	resp, err := pipeline.Stack(handler, Layer(WithResponseHeader(""))).Call(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.Header.Get(DefaultResponseHeader); got != seen {
		t.Fatalf("expected header %q, got %q", seen, got)
	}
}

func TestLayer_NoResponseHeaderByDefault(t *testing.T) {
	handler := pipeline.ServiceFunc(func(*http.Request) (*pipeline.Response, error) {
		return pipeline.NewResponse(http.StatusOK), nil
	})
	resp, err := pipeline.Stack(handler, Layer()).Call(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Header.Get(DefaultResponseHeader) != "" {
		t.Fatal("the request ID must not leave the service unless configured")
	}
}
