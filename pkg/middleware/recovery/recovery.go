// Package recovery turns handler panics into protocol error responses.
package recovery

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/nimburion/rpcserver/pkg/observability/logger"
	"github.com/nimburion/rpcserver/pkg/pipeline"
)

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Layer creates a stage that recovers from panics in inner stages, logs the
// panic with its stack trace and renders an internal failure with renderer.
func Layer(log logger.Logger, renderer pipeline.Renderer) pipeline.Layer {
	return pipeline.Around(func(req *http.Request, next pipeline.Service) (resp *pipeline.Response, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}

			log.WithContext(req.Context()).Error("panic recovered",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			resp, err = renderer.Render(&PanicError{Value: r}), nil
		}()

		return next.Call(req)
	})
}
