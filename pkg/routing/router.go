package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/nimburion/rpcserver/pkg/extension"
	"github.com/nimburion/rpcserver/pkg/observability/logger"
	"github.com/nimburion/rpcserver/pkg/pipeline"
)

// Builder collects routes before the registry is frozen.
type Builder struct {
	protocol Protocol
	logger   logger.Logger
	routes   map[RouteKey]pipeline.Service
	errs     []error
}

// NewBuilder creates a Builder for protocol.
func NewBuilder(protocol Protocol) *Builder {
	return &Builder{
		protocol: protocol,
		logger:   logger.NewNop(),
		routes:   make(map[RouteKey]pipeline.Service),
	}
}

// WithLogger sets the logger used by the built router.
func (b *Builder) WithLogger(log logger.Logger) *Builder {
	if log != nil {
		b.logger = log
	}
	return b
}

// Route registers handler under method and target. Registration problems are
// reported by Build.
func (b *Builder) Route(method, target string, handler pipeline.Service) *Builder {
	method = strings.ToUpper(strings.TrimSpace(method))
	key := RouteKey{Method: method, Target: target}
	switch {
	case method == "":
		b.errs = append(b.errs, fmt.Errorf("%w: empty method for target %q", ErrInvalidRoute, target))
		return b
	case target == "":
		b.errs = append(b.errs, fmt.Errorf("%w: empty target for method %s", ErrInvalidRoute, method))
		return b
	case handler == nil:
		b.errs = append(b.errs, fmt.Errorf("%w: nil handler for %s", ErrInvalidRoute, key))
		return b
	}
	if _, exists := b.routes[key]; exists {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateRoute, key))
		return b
	}
	b.routes[key] = handler
	return b
}

// RouteFunc registers a function handler.
func (b *Builder) RouteFunc(method, target string, fn pipeline.ServiceFunc) *Builder {
	return b.Route(method, target, fn)
}

// Build freezes the registry. Any registration error, including duplicate
// keys, aborts construction.
func (b *Builder) Build() (*Router, error) {
	if b.protocol == nil {
		return nil, errors.New("routing: protocol is required")
	}
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	routes := make(map[RouteKey]pipeline.Service, len(b.routes))
	targets := make(map[string]struct{}, len(b.routes))
	for key, handler := range b.routes {
		routes[key] = handler
		targets[key.Target] = struct{}{}
	}

	names := make([]string, 0, len(targets))
	for target := range targets {
		names = append(names, target)
	}
	sort.Strings(names)

	matcher, err := b.protocol.Compile(names)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRoute, b.protocol.Name(), err)
	}

	return &Router{
		protocol: b.protocol,
		matcher:  matcher,
		routes:   routes,
		targets:  targets,
		logger:   b.logger,
	}, nil
}

// Router dispatches requests through an immutable registry. It is safe for
// unrestricted concurrent use.
type Router struct {
	protocol Protocol
	matcher  Matcher
	routes   map[RouteKey]pipeline.Service
	targets  map[string]struct{}
	logger   logger.Logger
}

// Match is the outcome of a successful lookup.
type Match struct {
	Key     RouteKey
	Handler pipeline.Service
	Params  Params
}

// Match selects the handler for req. It is pure for a fixed registry.
func (r *Router) Match(req *http.Request) (Match, error) {
	candidates := r.matcher.Match(req)

	shared := ""
	for _, candidate := range candidates {
		if _, registered := r.targets[candidate.Target]; !registered {
			continue
		}
		key := RouteKey{Method: req.Method, Target: candidate.Target}
		if handler, ok := r.routes[key]; ok {
			return Match{Key: key, Handler: handler, Params: candidate.Params}, nil
		}
		if shared == "" {
			shared = candidate.Target
		}
	}

	if shared != "" {
		return Match{}, &Error{Kind: KindMethodNotAllowed, Method: req.Method, Target: shared}
	}
	return Match{}, &Error{Kind: KindNotFound, Method: req.Method}
}

// Protocol returns the protocol the router was built for.
func (r *Router) Protocol() Protocol {
	return r.protocol
}

// Routes lists the registered keys sorted by target then method.
func (r *Router) Routes() []RouteKey {
	keys := make([]RouteKey, 0, len(r.routes))
	for key := range r.routes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Target != keys[j].Target {
			return keys[i].Target < keys[j].Target
		}
		return keys[i].Method < keys[j].Method
	})
	return keys
}

// Ready always succeeds; handler readiness is checked per call.
func (r *Router) Ready(context.Context) error {
	return nil
}

// Call matches req, invokes the selected handler and renders every error with
// the router's protocol, so outer stages always observe a response.
func (r *Router) Call(req *http.Request) (*pipeline.Response, error) {
	m, err := r.Match(req)
	if err != nil {
		r.logger.WithContext(req.Context()).Debug("routing failed",
			"protocol", r.protocol.Name(),
			"method", req.Method,
			"kind", kindOf(err).String(),
		)
		return r.protocol.Render(err), nil
	}

	req, ext := extension.Ensure(req)
	extension.Insert(ext, MatchedKey(m.Key))
	if m.Params != nil {
		extension.Insert(ext, m.Params)
	}

	if err := m.Handler.Ready(req.Context()); err != nil {
		return r.protocol.Render(err), nil
	}

	resp, err := m.Handler.Call(req)
	if err != nil {
		var missing *extension.MissingError
		if errors.As(err, &missing) {
			r.logger.WithContext(req.Context()).Error("request context is missing a required value; check the pipeline configuration",
				"operation", m.Key.String(),
				"error", err,
			)
		}
		return r.protocol.Render(err), nil
	}
	if resp == nil {
		return r.protocol.Render(errNilResponse), nil
	}
	return resp, nil
}

var errNilResponse = errors.New("handler returned no response")

func kindOf(err error) Kind {
	var routingErr *Error
	if errors.As(err, &routingErr) {
		return routingErr.Kind
	}
	return 0
}
