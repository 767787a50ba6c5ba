package recovery

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nimburion/rpcserver/pkg/middleware/requestid"
	"github.com/nimburion/rpcserver/pkg/middleware/testutil"
	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/protocol/awsjson"
)

func TestLayer_RecoversPanic(t *testing.T) {
	// Given: a handler that panics behind the recovery stage
	mock := testutil.NewMockLogger()
	handler := pipeline.ServiceFunc(func(*http.Request) (*pipeline.Response, error) {
		panic("something went wrong")
	})
	svc := pipeline.Stack(handler, requestid.Layer(), Layer(mock, awsjson.New11()))

	// When: the request is served
	resp, err := svc.Call(httptest.NewRequest(http.MethodPost, "/", nil))

	// Then: an internal failure is rendered and the panic logged with the request ID
	if err != nil {
		t.Fatalf("expected rendered response, got %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"__type":"InternalFailure"}` {
		t.Fatalf("panic details must not reach the client, got %s", resp.Body)
	}

	entries := mock.Find("panic recovered")
	if len(entries) != 1 {
		t.Fatalf("expected one panic entry, got %d", len(entries))
	}
	if entries[0].Fields["panic"] != "something went wrong" {
		t.Errorf("unexpected panic field %v", entries[0].Fields["panic"])
	}
	if stack, _ := entries[0].Fields["stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Errorf("expected stack trace, got %q", stack)
	}
	if _, ok := entries[0].Fields["request_id"]; !ok {
		t.Error("expected request_id on the panic entry")
	}
}

func TestLayer_PassThrough(t *testing.T) {
	mock := testutil.NewMockLogger()
	handler := pipeline.ServiceFunc(func(*http.Request) (*pipeline.Response, error) {
		return pipeline.NewResponse(http.StatusNoContent), nil
	})

	resp, err := pipeline.Stack(handler, Layer(mock, awsjson.New11())).Call(httptest.NewRequest(http.MethodPost, "/", nil))
	if err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %+v %v", resp, err)
	}
	if len(mock.Logs()) != 0 {
		t.Fatalf("expected no logs, got %v", mock.Logs())
	}
}

func TestLayer_RepanicsAbortHandler(t *testing.T) {
	handler := pipeline.ServiceFunc(func(*http.Request) (*pipeline.Response, error) {
		panic(http.ErrAbortHandler)
	})
	svc := pipeline.Stack(handler, Layer(testutil.NewMockLogger(), awsjson.New11()))

	defer func() {
		if recover() != http.ErrAbortHandler {
			t.Fatal("expected ErrAbortHandler to propagate")
		}
	}()
	_, _ = svc.Call(httptest.NewRequest(http.MethodPost, "/", nil))
}
