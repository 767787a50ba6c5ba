// Package requestid generates a server request ID for every request entering
// the pipeline and lets handlers and later stages retrieve it.
//
// A ServerRequestID identifies one request within one service instance. It is
// meant for collating logs and for callers reporting issues; it is not a
// distributed-tracing correlation ID and is never forwarded downstream.
package requestid

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/nimburion/rpcserver/pkg/extension"
	"github.com/nimburion/rpcserver/pkg/pipeline"
)

// DefaultResponseHeader is used by WithResponseHeader when no name is given.
const DefaultResponseHeader = "X-Request-Id"

// ErrMissingRequestID means the request never passed through Layer or the ID
// was already extracted. It always indicates a pipeline configuration defect.
var ErrMissingRequestID = errors.New("the ServerRequestID is not present in the request")

// ServerRequestID is an opaque random 128-bit identifier.
type ServerRequestID struct {
	id uuid.UUID
}

// New generates a fresh ServerRequestID.
func New() ServerRequestID {
	return ServerRequestID{id: uuid.New()}
}

func (r ServerRequestID) String() string {
	return r.id.String()
}

// RequestID returns the string form of the ID. It lets the logger read the ID
// without depending on this package.
func (r ServerRequestID) RequestID() string {
	return r.id.String()
}

// UUID returns the underlying UUID.
func (r ServerRequestID) UUID() uuid.UUID {
	return r.id
}

// IsZero reports whether r was never generated.
func (r ServerRequestID) IsZero() bool {
	return r.id == uuid.Nil
}

// Option configures the provider layer.
type Option func(*options)

type options struct {
	responseHeader string
}

// WithResponseHeader echoes the generated ID to the caller in the named
// response header.
func WithResponseHeader(name string) Option {
	return func(o *options) {
		if name == "" {
			name = DefaultResponseHeader
		}
		o.responseHeader = name
	}
}

// Layer returns the stage that inserts a fresh ServerRequestID into each
// request's extensions before forwarding it.
func Layer(opts ...Option) pipeline.Layer {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	return pipeline.Around(func(req *http.Request, next pipeline.Service) (*pipeline.Response, error) {
		req, ext := extension.Ensure(req)
		id := New()
		extension.Insert(ext, id)

		resp, err := next.Call(req)
		if o.responseHeader != "" && resp != nil {
			if resp.Header == nil {
				resp.Header = make(http.Header)
			}
			resp.Header.Set(o.responseHeader, id.String())
		}
		return resp, err
	})
}

// Extract takes the ServerRequestID out of req. The value is removed, so a
// second Extract on the same request fails with ErrMissingRequestID.
func Extract(req *http.Request) (ServerRequestID, error) {
	id, err := extension.Take[ServerRequestID](extension.FromRequest(req))
	if err != nil {
		return ServerRequestID{}, fmt.Errorf("%w: %w", ErrMissingRequestID, err)
	}
	return id, nil
}

// FromContext reads the ServerRequestID without removing it. It is meant for
// logging and tracing stages.
func FromContext(ctx context.Context) (ServerRequestID, bool) {
	ext, ok := extension.From(ctx)
	if !ok {
		return ServerRequestID{}, false
	}
	return extension.Get[ServerRequestID](ext)
}
