// Package pipeline defines the composable request pipeline: services that
// produce responses, layers that wrap them, and the readiness contract that
// carries backpressure from the innermost service out to the transport.
package pipeline

import (
	"context"
	"errors"
	"net/http"
)

// ErrNotReady is returned by Ready (and by Call when a stage loses a race for
// capacity) when a service cannot accept a request right now. Stages propagate
// it outward instead of queueing the request.
var ErrNotReady = errors.New("service is not ready to accept requests")

// Service is a dispatch unit.
//
// Callers must invoke Ready before Call. Both must be safe for concurrent use
// by independent requests; per-call state belongs in the request's extensions.
type Service interface {
	// Ready reports whether the service can accept one more request.
	Ready(ctx context.Context) error
	// Call handles req and returns its response.
	Call(req *http.Request) (*Response, error)
}

// Renderer converts a framework error into a protocol-conformant response.
// Implementations must be total and must not panic.
type Renderer interface {
	Render(err error) *Response
}

// ServiceFunc adapts a function to a Service that is always ready.
type ServiceFunc func(req *http.Request) (*Response, error)

// Ready always succeeds.
func (f ServiceFunc) Ready(context.Context) error { return nil }

// Call invokes f.
func (f ServiceFunc) Call(req *http.Request) (*Response, error) { return f(req) }

// Layer wraps an inner service with a stage.
type Layer interface {
	Wrap(inner Service) Service
}

// LayerFunc adapts a function to a Layer.
type LayerFunc func(inner Service) Service

// Wrap invokes f.
func (f LayerFunc) Wrap(inner Service) Service { return f(inner) }

// StageFunc is the body of a stage: it may inspect or replace req, decide
// whether to forward it to next, and post-process the response.
type StageFunc func(req *http.Request, next Service) (*Response, error)

// Around builds a Layer from fn. The resulting stage is ready exactly when its
// inner service is ready.
func Around(fn StageFunc) Layer {
	return LayerFunc(func(inner Service) Service {
		return &stage{inner: inner, fn: fn}
	})
}

type stage struct {
	inner Service
	fn    StageFunc
}

func (s *stage) Ready(ctx context.Context) error {
	return s.inner.Ready(ctx)
}

func (s *stage) Call(req *http.Request) (*Response, error) {
	return s.fn(req, s.inner)
}

// Stack wraps inner with layers. The first layer is the outermost: it sees the
// request first and the response last.
func Stack(inner Service, layers ...Layer) Service {
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] == nil {
			continue
		}
		inner = layers[i].Wrap(inner)
	}
	return inner
}

// Builder collects layers in outer-to-inner order.
type Builder struct {
	layers []Layer
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Use appends layers closer to the handler than the ones already added.
func (b *Builder) Use(layers ...Layer) *Builder {
	b.layers = append(b.layers, layers...)
	return b
}

// Len reports how many layers were added.
func (b *Builder) Len() int {
	return len(b.layers)
}

// Build nests the collected layers around inner.
func (b *Builder) Build(inner Service) Service {
	return Stack(inner, b.layers...)
}
