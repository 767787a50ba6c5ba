// Package extension provides the request-scoped typed value store shared by
// pipeline stages and operation handlers.
//
// An Extensions value holds at most one value per Go type. It is created empty
// when a request enters the pipeline, travels with the request context and is
// cleared when the exchange completes. It must never be retained beyond the
// request that owns it.
package extension

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
)

// Extensions maps a type to a single owned value of that type.
type Extensions struct {
	mu     sync.Mutex
	values map[reflect.Type]any
}

// New creates an empty Extensions store.
func New() *Extensions {
	return &Extensions{values: make(map[reflect.Type]any)}
}

// MissingError reports that no value of the requested type is stored.
type MissingError struct {
	Type reflect.Type
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("extension %s is not present in the request", e.Type)
}

// Insert stores value, replacing any value of the same type.
// It returns the replaced value, if any.
func Insert[T any](e *Extensions, value T) (T, bool) {
	var previous T
	if e == nil {
		return previous, false
	}
	key := typeOf[T]()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.values == nil {
		e.values = make(map[reflect.Type]any)
	}
	old, ok := e.values[key]
	e.values[key] = value
	if ok {
		previous = old.(T)
	}
	return previous, ok
}

// Get returns the stored value of type T without removing it.
func Get[T any](e *Extensions) (T, bool) {
	var zero T
	if e == nil {
		return zero, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.values[typeOf[T]()]
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// Remove deletes and returns the stored value of type T.
func Remove[T any](e *Extensions) (T, bool) {
	var zero T
	if e == nil {
		return zero, false
	}
	key := typeOf[T]()

	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.values[key]
	if !ok {
		return zero, false
	}
	delete(e.values, key)
	return v.(T), true
}

// Find returns a stored value assignable to T without removing it. T is
// usually an interface, so callers can read a value without importing the
// package that defines its concrete type. When several values match, any one
// of them is returned.
func Find[T any](e *Extensions) (T, bool) {
	var zero T
	if e == nil {
		return zero, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range e.values {
		if found, ok := v.(T); ok {
			return found, true
		}
	}
	return zero, false
}

// Take removes the value of type T and fails with *MissingError when absent.
// A second Take of the same type on the same store always fails.
func Take[T any](e *Extensions) (T, error) {
	v, ok := Remove[T](e)
	if !ok {
		return v, &MissingError{Type: typeOf[T]()}
	}
	return v, nil
}

// Len reports the number of stored values.
func (e *Extensions) Len() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.values)
}

// Clear drops every stored value.
func (e *Extensions) Clear() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.values)
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

type contextKey struct{}

// WithExtensions returns a copy of ctx carrying ext.
func WithExtensions(ctx context.Context, ext *Extensions) context.Context {
	return context.WithValue(ctx, contextKey{}, ext)
}

// From returns the Extensions carried by ctx.
func From(ctx context.Context) (*Extensions, bool) {
	if ctx == nil {
		return nil, false
	}
	ext, ok := ctx.Value(contextKey{}).(*Extensions)
	return ext, ok && ext != nil
}

// FromRequest returns the Extensions attached to req, or nil.
func FromRequest(req *http.Request) *Extensions {
	if req == nil {
		return nil
	}
	ext, _ := From(req.Context())
	return ext
}

// Ensure returns req with an Extensions store attached, creating an empty one
// when the request does not carry any yet.
func Ensure(req *http.Request) (*http.Request, *Extensions) {
	if ext := FromRequest(req); ext != nil {
		return req, ext
	}
	ext := New()
	return req.WithContext(WithExtensions(req.Context(), ext)), ext
}
