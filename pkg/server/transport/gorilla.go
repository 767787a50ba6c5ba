package transport

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Gorilla mounts h under a catch-all path prefix. Paths are neither cleaned
// nor decoded, so REST labels see the request exactly as sent.
func Gorilla(h http.Handler) http.Handler {
	r := mux.NewRouter()
	r.SkipClean(true)
	r.UseEncodedPath()
	r.PathPrefix("/").Handler(h)
	return r
}
