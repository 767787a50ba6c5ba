package pipeline

import (
	"net/http"
	"strconv"
)

// Response is a fully materialized HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse creates an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{StatusCode: status, Header: make(http.Header)}
}

// WithBody sets the body and content type and returns r.
func (r *Response) WithBody(contentType string, body []byte) *Response {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Body = body
	return r
}

// Send writes r to w. Content-Length is always derived from the body.
func (r *Response) Send(w http.ResponseWriter) error {
	status := r.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	dst := w.Header()
	for key, values := range r.Header {
		dst[key] = append([]string(nil), values...)
	}
	dst.Set("Content-Length", strconv.Itoa(len(r.Body)))
	w.WriteHeader(status)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}
