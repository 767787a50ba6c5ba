// Package requestsize bounds the size of request bodies.
package requestsize

import (
	"fmt"
	"net/http"

	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/protocol"
)

// ErrorType is the error type of rejected requests.
const ErrorType = protocol.RequestEntityTooLarge

// Layer enforces a maximum request body size in bytes. Declared lengths are
// rejected before the inner service runs. Undeclared ones fail the body read
// with *http.MaxBytesError, which protocol.Classify renders as the same 413.
// A non-positive maxBytes disables the stage.
func Layer(maxBytes int64) pipeline.Layer {
	return pipeline.Around(func(req *http.Request, next pipeline.Service) (*pipeline.Response, error) {
		if maxBytes <= 0 || req.Body == nil || req.Body == http.NoBody {
			return next.Call(req)
		}

		if req.ContentLength > maxBytes {
			return nil, tooLarge(maxBytes)
		}

		req.Body = http.MaxBytesReader(nil, req.Body, maxBytes)
		return next.Call(req)
	})
}

func tooLarge(maxBytes int64) *protocol.OperationError {
	return protocol.NewError(ErrorType, fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", maxBytes)).
		WithHTTPStatus(http.StatusRequestEntityTooLarge)
}
