// Package protocol holds what every wire protocol shares when rendering
// framework and operation errors: the error taxonomy, the mapping from Go
// errors to HTTP status and error type, and a total rendering helper.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nimburion/rpcserver/pkg/extension"
	"github.com/nimburion/rpcserver/pkg/pipeline"
	"github.com/nimburion/rpcserver/pkg/routing"
)

// ErrorTypeHeader carries the error type on every error response.
const ErrorTypeHeader = "X-Amzn-Errortype"

// Error types emitted by the framework itself.
const (
	UnknownOperationException = "UnknownOperationException"
	InternalFailure           = "InternalFailure"
	ThrottlingException       = "ThrottlingException"
	RequestTimeoutException   = "RequestTimeoutException"
	RequestEntityTooLarge     = "RequestEntityTooLarge"
)

// OperationError is the error contract for operation handlers. Its type and
// message are sent to the client, its cause never is.
type OperationError struct {
	Type       string
	Message    string
	HTTPStatus int
	cause      error
}

// NewError creates an OperationError of the given type.
func NewError(errorType, message string) *OperationError {
	return &OperationError{Type: errorType, Message: message}
}

// WithHTTPStatus sets the response status.
func (e *OperationError) WithHTTPStatus(status int) *OperationError {
	e.HTTPStatus = status
	return e
}

// WithCause records the underlying error for logs.
func (e *OperationError) WithCause(cause error) *OperationError {
	e.cause = cause
	return e
}

func (e *OperationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.cause)
	}
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

func (e *OperationError) Unwrap() error {
	return e.cause
}

// NewClientError creates a 400 OperationError.
func NewClientError(errorType, message string) *OperationError {
	return NewError(errorType, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewNotFoundError creates a 404 OperationError.
func NewNotFoundError(errorType, message string) *OperationError {
	return NewError(errorType, message).WithHTTPStatus(http.StatusNotFound)
}

// Fault is the protocol-independent description of an error response.
type Fault struct {
	Status int
	// Type is empty only for MethodNotAllowed.
	Type string
	// Message is only set for operation errors; framework faults never expose
	// diagnostic detail.
	Message string
}

// Classify maps err to the response every protocol must produce for it.
// Unknown errors, including missing request context, are internal failures.
// A body read cut short by http.MaxBytesReader is a size violation even when
// an operation wrapped it in its own error.
func Classify(err error) Fault {
	var opErr *OperationError
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, routing.ErrMethodNotAllowed):
		return Fault{Status: http.StatusMethodNotAllowed}
	case errors.Is(err, routing.ErrNotFound):
		return Fault{Status: http.StatusNotFound, Type: UnknownOperationException}
	case errors.Is(err, pipeline.ErrNotReady):
		return Fault{Status: http.StatusServiceUnavailable, Type: ThrottlingException}
	case errors.Is(err, context.DeadlineExceeded):
		return Fault{Status: http.StatusGatewayTimeout, Type: RequestTimeoutException}
	case errors.As(err, &maxBytesErr):
		return Fault{Status: http.StatusRequestEntityTooLarge, Type: RequestEntityTooLarge}
	case errors.As(err, &opErr):
		status := opErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		errorType := opErr.Type
		if errorType == "" {
			errorType = InternalFailure
		}
		return Fault{Status: status, Type: errorType, Message: opErr.Message}
	default:
		return Fault{Status: http.StatusInternalServerError, Type: InternalFailure}
	}
}

// IsConfigurationFault reports whether err means a required request-scoped
// value was missing, which always points at a misassembled pipeline.
func IsConfigurationFault(err error) bool {
	var missing *extension.MissingError
	return errors.As(err, &missing)
}

// Encoder serializes a Fault in one protocol's error encoding.
type Encoder interface {
	ContentType() string
	EncodeError(f Fault) ([]byte, error)
}

// Render builds the response for err. It never fails: when the body cannot be
// encoded the response keeps its status and headers with an empty body.
func Render(enc Encoder, err error) *pipeline.Response {
	f := Classify(err)
	resp := pipeline.NewResponse(f.Status)
	if f.Status == http.StatusMethodNotAllowed {
		return resp
	}

	resp.Header.Set("Content-Type", enc.ContentType())
	resp.Header.Set(ErrorTypeHeader, f.Type)
	resp.Body = encodeBody(enc, f)
	return resp
}

func encodeBody(enc Encoder, f Fault) (body []byte) {
	defer func() {
		if recover() != nil {
			body = nil
		}
	}()
	body, err := enc.EncodeError(f)
	if err != nil {
		return nil
	}
	return body
}
