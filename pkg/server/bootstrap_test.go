package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nimburion/rpcserver/pkg/config"
	"github.com/nimburion/rpcserver/pkg/middleware/requestid"
	"github.com/nimburion/rpcserver/pkg/middleware/testutil"
	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/protocol/awsjson"
	"github.com/nimburion/rpcserver/pkg/routing"
	"github.com/nimburion/rpcserver/pkg/server/transport"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Management.Enabled = false
	return cfg
}

// echoRequestID answers with the request ID it extracted.
func echoRequestID(req *http.Request) (*pipeline.Response, error) {
	id, err := requestid.Extract(req)
	if err != nil {
		return nil, err
	}
	return pipeline.NewResponse(http.StatusOK).WithBody("application/x-amz-json-1.1", []byte(id.String())), nil
}

func objectRoutes(b *routing.Builder) {
	b.RouteFunc(http.MethodPost, awsjson.Target("Objects", "GetObject"), echoRequestID)
}

func send(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/", strings.NewReader("{}"))
	if target != "" {
		req.Header.Set(awsjson.TargetHeader, target)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBuild_EndToEnd(t *testing.T) {
	for _, transportType := range transport.SupportedTypes() {
		t.Run(transportType, func(t *testing.T) {
			// Given: a single GetObject route served over the chosen transport
			cfg := testConfig()
			cfg.Transport = transportType
			app, err := Build(Options{Config: cfg, Logger: testutil.NewMockLogger(), Routes: objectRoutes})
			if err != nil {
				t.Fatalf("build: %v", err)
			}

			// When/Then: the matching request is dispatched
			rec := send(app.Handler, http.MethodPost, "Objects.GetObject")
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if rec.Body.String() != rec.Header().Get(requestid.DefaultResponseHeader) {
				t.Fatalf("handler saw %q, header carries %q", rec.Body.String(), rec.Header().Get(requestid.DefaultResponseHeader))
			}

			// When/Then: the wrong method is refused without a body
			rec = send(app.Handler, http.MethodGet, "Objects.GetObject")
			if rec.Code != http.StatusMethodNotAllowed || rec.Body.Len() != 0 {
				t.Fatalf("expected empty 405, got %d %q", rec.Code, rec.Body.String())
			}

			// When/Then: an unknown operation is rendered by the protocol
			rec = send(app.Handler, http.MethodPost, "Objects.PutObject")
			if rec.Code != http.StatusNotFound {
				t.Fatalf("expected 404, got %d", rec.Code)
			}
			if got := rec.Header().Get("Content-Type"); got != "application/x-amz-json-1.1" {
				t.Fatalf("unexpected content type %q", got)
			}
			if rec.Body.String() != `{"__type":"UnknownOperationException"}` {
				t.Fatalf("unexpected body %q", rec.Body.String())
			}
		})
	}
}

func TestBuild_DuplicateRouteAbortsStartup(t *testing.T) {
	_, err := Build(Options{
		Config: testConfig(),
		Routes: func(b *routing.Builder) {
			objectRoutes(b)
			objectRoutes(b)
		},
	})
	if !errors.Is(err, routing.ErrDuplicateRoute) {
		t.Fatalf("expected duplicate route error, got %v", err)
	}
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Protocol = "grpc"
	if _, err := Build(Options{Config: cfg, Routes: objectRoutes}); err == nil {
		t.Fatal("expected invalid config error")
	}
	if _, err := Build(Options{Config: testConfig()}); err == nil {
		t.Fatal("expected missing routes error")
	}
}

func TestBuild_ManagementListener(t *testing.T) {
	app, err := Build(Options{Config: config.DefaultConfig(), Routes: objectRoutes})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if app.Management == nil {
		t.Fatal("expected management server")
	}
	if names := app.Health.List(); len(names) != 1 || names[0] != "pipeline" {
		t.Fatalf("expected pipeline readiness check, got %v", names)
	}
}

func TestBuild_RequestIDsDistinctUnderConcurrency(t *testing.T) {
	app, err := Build(Options{Config: testConfig(), Routes: objectRoutes})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	const n = 64
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := send(app.Handler, http.MethodPost, "Objects.GetObject")
			if rec.Body.String() == rec.Header().Get(requestid.DefaultResponseHeader) {
				ids[i] = rec.Body.String()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for i, id := range ids {
		if id == "" {
			t.Fatalf("request %d saw a foreign or missing id", i)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate request id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestBuild_BackpressureIsRendered(t *testing.T) {
	// Given: one in-flight slot held by a blocked handler
	cfg := testConfig()
	cfg.Limits.MaxInFlight = 1
	release := make(chan struct{})
	entered := make(chan struct{})
	app, err := Build(Options{Config: cfg, Routes: func(b *routing.Builder) {
		b.RouteFunc(http.MethodPost, "Objects.Slow", func(*http.Request) (*pipeline.Response, error) {
			close(entered)
			<-release
			return pipeline.NewResponse(http.StatusOK), nil
		})
	}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	done := make(chan int, 1)
	go func() { done <- send(app.Handler, http.MethodPost, "Objects.Slow").Code }()
	<-entered

	// When: a second request arrives
	rec := send(app.Handler, http.MethodPost, "Objects.Slow")

	// Then: it is refused with a throttling error instead of queued
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ThrottlingException") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	close(release)
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Fatalf("expected first request to succeed, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first request did not finish")
	}
}

func TestBuild_TimeoutIsRendered(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.Timeout = 20 * time.Millisecond
	app, err := Build(Options{Config: cfg, Routes: func(b *routing.Builder) {
		b.RouteFunc(http.MethodPost, "Objects.Hang", func(req *http.Request) (*pipeline.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})
	}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	rec := send(app.Handler, http.MethodPost, "Objects.Hang")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
}

func TestBuild_BodyLimitIsRendered(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MaxBodyBytes = 1
	app, err := Build(Options{Config: cfg, Routes: objectRoutes})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	rec := send(app.Handler, http.MethodPost, "Objects.GetObject")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Amzn-Errortype"); got != "RequestEntityTooLarge" {
		t.Fatalf("unexpected error type %q", got)
	}
}

func TestBuild_RestJSONLabels(t *testing.T) {
	cfg := testConfig()
	cfg.Protocol = "restJson1"
	app, err := Build(Options{Config: cfg, Routes: func(b *routing.Builder) {
		b.RouteFunc(http.MethodGet, "/{Bucket}/{Key+}", func(req *http.Request) (*pipeline.Response, error) {
			params := routing.ParamsFrom(req)
			return pipeline.NewResponse(http.StatusOK).WithBody("text/plain", []byte(params.Get("Bucket")+"|"+params.Get("Key"))), nil
		})
	}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/photos/2024/cat.png", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "photos|2024/cat.png" {
		t.Fatalf("unexpected %d %q", rec.Code, rec.Body.String())
	}
}

func TestLayers_OmitsDisabledStages(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.Timeout = 0
	cfg.Limits.MaxBodyBytes = 0
	cfg.Compression.Enabled = false

	app, err := Build(Options{Config: cfg, Routes: objectRoutes})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	layers, err := Layers(cfg, testutil.NewMockLogger(), app.Protocol, nil, nil)
	if err != nil {
		t.Fatalf("layers: %v", err)
	}
	if len(layers) != 5 {
		t.Fatalf("expected 5 always-on stages, got %d", len(layers))
	}

	cfg.Limits.Timeout = time.Second
	cfg.Limits.MaxInFlight = 10
	cfg.Limits.MaxBodyBytes = 1024
	cfg.Compression.Enabled = true
	layers, err = Layers(cfg, testutil.NewMockLogger(), app.Protocol, nil, nil)
	if err != nil {
		t.Fatalf("layers: %v", err)
	}
	if len(layers) != 9 {
		t.Fatalf("expected 9 stages, got %d", len(layers))
	}
}
