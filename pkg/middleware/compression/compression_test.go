package compression

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"

	"github.com/nimburion/rpcserver/pkg/pipeline"
)

var payload = []byte(`{"Contents":[` + strings.Repeat(`{"Key":"photos/cat.png","Size":1024},`, 20) + `{}]}`)

func respond(contentType string, body []byte) pipeline.ServiceFunc {
	return func(*http.Request) (*pipeline.Response, error) {
		return pipeline.NewResponse(http.StatusOK).WithBody(contentType, body), nil
	}
}

func call(t *testing.T, cfg Config, handler pipeline.Service, acceptEncoding string) *pipeline.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	resp, err := pipeline.Stack(handler, Layer(cfg)).Call(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func TestLayer_UsesBrotliWhenAccepted(t *testing.T) {
	resp := call(t, DefaultConfig(), respond("application/x-amz-json-1.1", payload), "br, gzip")

	if resp.Header.Get("Content-Encoding") != "br" {
		t.Fatalf("expected br encoding, got %q", resp.Header.Get("Content-Encoding"))
	}
	body, err := io.ReadAll(brotli.NewReader(bytes.NewReader(resp.Body)))
	if err != nil {
		t.Fatalf("failed to decode br body: %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("round trip mismatch")
	}
	if resp.Header.Get("Vary") != "Accept-Encoding" {
		t.Fatalf("expected Vary header, got %q", resp.Header.Get("Vary"))
	}
}

func TestLayer_FallsBackToGzip(t *testing.T) {
	resp := call(t, DefaultConfig(), respond("application/json", payload), "gzip")

	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", resp.Header.Get("Content-Encoding"))
	}
	reader, err := gzip.NewReader(bytes.NewReader(resp.Body))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil || !bytes.Equal(body, payload) {
		t.Fatalf("round trip mismatch: %v", err)
	}
}

func TestLayer_SkipsUncompressible(t *testing.T) {
	tests := []struct {
		name           string
		handler        pipeline.Service
		acceptEncoding string
	}{
		{"no accept-encoding", respond("application/json", payload), ""},
		{"identity only", respond("application/json", payload), "identity"},
		{"small body", respond("application/json", []byte(`{}`)), "gzip"},
		{"binary type", respond("image/png", payload), "gzip"},
		{"empty 405", pipeline.ServiceFunc(func(*http.Request) (*pipeline.Response, error) {
			return pipeline.NewResponse(http.StatusMethodNotAllowed), nil
		}), "gzip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, DefaultConfig(), tt.handler, tt.acceptEncoding)
			if resp.Header.Get("Content-Encoding") != "" {
				t.Fatalf("expected no encoding, got %q", resp.Header.Get("Content-Encoding"))
			}
		})
	}
}

func TestNegotiateEncoding(t *testing.T) {
	cfg := DefaultConfig()
	tests := map[string]string{
		"gzip;q=1.0, br;q=0.5": "gzip",
		"br;q=0, gzip":         "gzip",
		"*":                    "br",
		"deflate":              "",
	}
	for header, want := range tests {
		if got := negotiateEncoding(header, cfg); got != want {
			t.Errorf("negotiateEncoding(%q) = %q, want %q", header, got, want)
		}
	}

	gzipOnly := cfg
	gzipOnly.EnableBrotli = false
	if got := negotiateEncoding("br, gzip", gzipOnly); got != "gzip" {
		t.Errorf("expected gzip when brotli is disabled, got %q", got)
	}
}
