// Package timeout bounds how long a request may spend in the inner stages.
package timeout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nimburion/rpcserver/pkg/pipeline"
)

// Config configures the request timeout stage.
type Config struct {
	Enabled              bool
	Default              time.Duration
	ExcludedPathPrefixes []string
}

// DefaultConfig returns default timeout behavior.
func DefaultConfig() Config {
	return Config{
		Enabled:              false,
		Default:              15 * time.Second,
		ExcludedPathPrefixes: []string{},
	}
}

// Layer applies a deadline to the request context. A request that exceeds it
// is answered with the protocol's timeout response, even if an inner stage
// produced something else after the deadline passed.
func Layer(cfg Config, renderer pipeline.Renderer) pipeline.Layer {
	normalized := normalize(cfg)
	return pipeline.Around(func(req *http.Request, next pipeline.Service) (*pipeline.Response, error) {
		if !normalized.appliesTo(req.URL.Path) {
			return next.Call(req)
		}

		reqCtx, cancel := context.WithTimeout(req.Context(), normalized.Default)
		defer cancel()

		resp, err := next.Call(req.WithContext(reqCtx))
		if !isDeadlineExceeded(err, reqCtx.Err()) {
			return resp, err
		}
		return renderer.Render(context.DeadlineExceeded), nil
	})
}

func normalize(cfg Config) Config {
	normalized := cfg
	if normalized.Default <= 0 {
		normalized.Default = DefaultConfig().Default
	}
	return normalized
}

func (cfg Config) appliesTo(path string) bool {
	if !cfg.Enabled {
		return false
	}
	for _, prefix := range cfg.ExcludedPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

func isDeadlineExceeded(err error, reqErr error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(reqErr, context.DeadlineExceeded)
}
