package routing

import (
	"errors"
	"fmt"
)

// Kind classifies a routing failure.
type Kind uint8

const (
	// KindNotFound means no registered route shares the request's discriminators.
	KindNotFound Kind = iota + 1
	// KindMethodNotAllowed means a route shares every non-method discriminator
	// but is registered under a different method.
	KindMethodNotAllowed
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "unknown"
	}
}

// Error is the typed outcome of a failed match.
type Error struct {
	Kind   Kind
	Method string
	Target string
}

// ErrNotFound and ErrMethodNotAllowed are matched with errors.Is against any
// *Error of the same kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrMethodNotAllowed = &Error{Kind: KindMethodNotAllowed}
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindMethodNotAllowed:
		return fmt.Sprintf("method %s not allowed for %q", e.Method, e.Target)
	default:
		return "no operation matches the request"
	}
}

// Is reports whether target is a routing error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// ErrDuplicateRoute is returned by Builder.Build when two handlers are
// registered under the same route key.
var ErrDuplicateRoute = errors.New("duplicate route")

// ErrInvalidRoute is returned by Builder.Build for malformed registrations.
var ErrInvalidRoute = errors.New("invalid route")
