// Package compression encodes response bodies with Brotli or Gzip based on
// Accept-Encoding negotiation.
package compression

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/nimburion/rpcserver/pkg/pipeline"
)

const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"
)

// Config controls response compression behavior.
type Config struct {
	Enabled                  bool
	EnableGzip               bool
	EnableBrotli             bool
	GzipLevel                int
	BrotliLevel              int
	MinSize                  int
	CompressibleContentTypes []string
	ExcludedPathPrefixes     []string
}

// DefaultConfig returns the default compression behavior.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		EnableGzip:   true,
		EnableBrotli: true,
		GzipLevel:    gzip.DefaultCompression,
		BrotliLevel:  4,
		MinSize:      256,
		CompressibleContentTypes: []string{
			"text/",
			"application/json",
			"application/x-amz-json-",
			"application/xml",
		},
	}
}

// Layer compresses materialized responses. Bodies that are small, already
// encoded or not of a compressible type are left untouched.
func Layer(cfg Config) pipeline.Layer {
	cfg = normalizeConfig(cfg)

	return pipeline.Around(func(req *http.Request, next pipeline.Service) (*pipeline.Response, error) {
		if !cfg.Enabled || req.Method == http.MethodHead || isExcludedPath(req.URL.Path, cfg.ExcludedPathPrefixes) {
			return next.Call(req)
		}
		encoding := negotiateEncoding(req.Header.Get("Accept-Encoding"), cfg)
		if encoding == "" {
			return next.Call(req)
		}

		resp, err := next.Call(req)
		if err != nil || resp == nil {
			return resp, err
		}
		if resp.Header == nil {
			resp.Header = make(http.Header)
		}
		appendVary(resp.Header, "Accept-Encoding")

		if noBodyStatus(resp.StatusCode) ||
			len(resp.Body) == 0 ||
			len(resp.Body) < cfg.MinSize ||
			resp.Header.Get("Content-Encoding") != "" ||
			!isCompressibleContentType(resp.Header.Get("Content-Type"), cfg.CompressibleContentTypes) {
			return resp, nil
		}

		compressed, compressErr := compress(encoding, resp.Body, cfg)
		if compressErr != nil {
			return resp, nil
		}
		resp.Body = compressed
		resp.Header.Set("Content-Encoding", encoding)
		resp.Header.Del("Content-Length")
		return resp, nil
	})
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.GzipLevel == 0 {
		cfg.GzipLevel = def.GzipLevel
	}
	if cfg.BrotliLevel <= 0 {
		cfg.BrotliLevel = def.BrotliLevel
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}
	if len(cfg.CompressibleContentTypes) == 0 {
		cfg.CompressibleContentTypes = def.CompressibleContentTypes
	}
	return cfg
}

func compress(encoding string, body []byte, cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	switch encoding {
	case encodingBrotli:
		w := brotli.NewWriterLevel(&buf, cfg.BrotliLevel)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		w, err := gzip.NewWriterLevel(&buf, cfg.GzipLevel)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func isExcludedPath(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.TrimSpace(prefix) != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func negotiateEncoding(acceptEncoding string, cfg Config) string {
	if acceptEncoding == "" {
		return ""
	}

	qBr, hasBr := qualityForEncoding(acceptEncoding, encodingBrotli)
	qGzip, hasGzip := qualityForEncoding(acceptEncoding, encodingGzip)
	qAny, hasAny := qualityForEncoding(acceptEncoding, "*")

	if cfg.EnableBrotli && !hasBr && hasAny {
		qBr = qAny
		hasBr = true
	}
	if cfg.EnableGzip && !hasGzip && hasAny {
		qGzip = qAny
		hasGzip = true
	}

	best := ""
	bestQ := float64(0)

	if cfg.EnableBrotli && hasBr && qBr > 0 {
		best = encodingBrotli
		bestQ = qBr
	}
	if cfg.EnableGzip && hasGzip && qGzip > 0 {
		if qGzip > bestQ {
			best = encodingGzip
		}
	}

	return best
}

func qualityForEncoding(acceptEncoding, encoding string) (float64, bool) {
	for _, part := range strings.Split(acceptEncoding, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}

		sections := strings.Split(token, ";")
		name := strings.ToLower(strings.TrimSpace(sections[0]))
		if name != strings.ToLower(encoding) {
			continue
		}

		q := 1.0
		for _, section := range sections[1:] {
			kv := strings.SplitN(strings.TrimSpace(section), "=", 2)
			if len(kv) != 2 || strings.ToLower(kv[0]) != "q" {
				continue
			}
			if parsed, err := strconv.ParseFloat(kv[1], 64); err == nil {
				q = parsed
			}
		}
		return q, true
	}
	return 0, false
}

func noBodyStatus(statusCode int) bool {
	return statusCode == http.StatusNoContent || statusCode == http.StatusNotModified || (statusCode >= 100 && statusCode < 200)
}

func isCompressibleContentType(contentType string, allow []string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return true
	}
	for _, prefix := range allow {
		if strings.HasPrefix(ct, strings.ToLower(strings.TrimSpace(prefix))) {
			return true
		}
	}
	return false
}

func appendVary(header http.Header, value string) {
	current := header.Get("Vary")
	if current == "" {
		header.Set("Vary", value)
		return
	}
	for _, part := range strings.Split(current, ",") {
		if strings.EqualFold(strings.TrimSpace(part), value) {
			return
		}
	}
	header.Set("Vary", current+", "+value)
}
