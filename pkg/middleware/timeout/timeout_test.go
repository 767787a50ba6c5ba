package timeout

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/protocol"
	"github.com/nimburion/rpcserver/pkg/protocol/awsjson"
)

func waitForDeadline(req *http.Request) (*pipeline.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

func TestLayer_DeadlineExceededReturns504(t *testing.T) {
	svc := pipeline.Stack(pipeline.ServiceFunc(waitForDeadline), Layer(Config{
		Enabled: true,
		Default: 5 * time.Millisecond,
	}, awsjson.New11()))

	resp, err := svc.Call(httptest.NewRequest(http.MethodPost, "/", nil))
	if err != nil {
		t.Fatalf("expected rendered response, got %v", err)
	}
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected status %d, got %d", http.StatusGatewayTimeout, resp.StatusCode)
	}
	if resp.Header.Get(protocol.ErrorTypeHeader) != protocol.RequestTimeoutException {
		t.Fatalf("unexpected error type %q", resp.Header.Get(protocol.ErrorTypeHeader))
	}
}

func TestLayer_LateSuccessStillTimesOut(t *testing.T) {
	handler := pipeline.ServiceFunc(func(req *http.Request) (*pipeline.Response, error) {
		<-req.Context().Done()
		return pipeline.NewResponse(http.StatusOK), nil
	})
	svc := pipeline.Stack(handler, Layer(Config{Enabled: true, Default: time.Millisecond}, awsjson.New11()))

	resp, _ := svc.Call(httptest.NewRequest(http.MethodPost, "/", nil))
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected status %d, got %d", http.StatusGatewayTimeout, resp.StatusCode)
	}
}

func TestLayer_ExcludedPathBypassesTimeout(t *testing.T) {
	handler := pipeline.ServiceFunc(func(req *http.Request) (*pipeline.Response, error) {
		if _, ok := req.Context().Deadline(); ok {
			t.Error("excluded path must not carry a deadline")
		}
		return pipeline.NewResponse(http.StatusOK), nil
	})
	svc := pipeline.Stack(handler, Layer(Config{
		Enabled:              true,
		Default:              time.Millisecond,
		ExcludedPathPrefixes: []string{"/health"},
	}, awsjson.New11()))

	resp, _ := svc.Call(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
}

func TestLayer_DisabledAndDefaults(t *testing.T) {
	if DefaultConfig().Enabled {
		t.Fatal("timeouts are opt-in")
	}
	if got := normalize(Config{Enabled: true}).Default; got != 15*time.Second {
		t.Fatalf("expected default 15s, got %s", got)
	}

	handler := pipeline.ServiceFunc(func(req *http.Request) (*pipeline.Response, error) {
		if _, ok := req.Context().Deadline(); ok {
			t.Error("disabled stage must not set a deadline")
		}
		return pipeline.NewResponse(http.StatusOK), nil
	})
	_, _ = pipeline.Stack(handler, Layer(DefaultConfig(), awsjson.New11())).Call(httptest.NewRequest(http.MethodGet, "/", nil))
}
