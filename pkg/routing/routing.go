// Package routing matches inbound requests to operation handlers.
//
// The dispatch algorithm is protocol-agnostic: a Protocol computes candidate
// targets for a request and renders failures, while the Router owns the
// immutable registry and the NotFound / MethodNotAllowed decision.
package routing

import (
	"net/http"

	"github.com/nimburion/rpcserver/pkg/extension"
	"github.com/nimburion/rpcserver/pkg/pipeline"
)

// RouteKey identifies a registered operation: the HTTP method plus the
// protocol-specific target (an X-Amz-Target value, a URI template, ...).
type RouteKey struct {
	Method string
	Target string
}

func (k RouteKey) String() string {
	return k.Method + " " + k.Target
}

// Candidate is a registered target that matches a request, ignoring method.
type Candidate struct {
	Target string
	// Params holds values bound while matching (for example URI labels).
	Params Params
}

// Matcher computes the candidates for a request, best match first.
// It must be pure and safe for concurrent use.
type Matcher interface {
	Match(req *http.Request) []Candidate
}

// Protocol is the capability set a wire protocol plugs into the router.
type Protocol interface {
	pipeline.Renderer

	// Name is the protocol identifier, e.g. "awsJson1_1".
	Name() string
	// Compile validates the registered targets and returns their matcher.
	// It runs once, when the router is built.
	Compile(targets []string) (Matcher, error)
}

// Params are values bound by the matcher for the dispatched request.
type Params map[string]string

// Get returns the named parameter or "".
func (p Params) Get(name string) string {
	return p[name]
}

// ParamsFrom returns the parameters bound to req by the router.
func ParamsFrom(req *http.Request) Params {
	p, _ := extension.Get[Params](extension.FromRequest(req))
	return p
}

// MatchedKey is stored in the request extensions once a route is selected.
type MatchedKey RouteKey

// KeyFrom returns the route key selected for req.
func KeyFrom(req *http.Request) (RouteKey, bool) {
	k, ok := extension.Get[MatchedKey](extension.FromRequest(req))
	return RouteKey(k), ok
}
