package transport

import "net/http"

// NetHTTP mounts h at the root of a ServeMux.
func NetHTTP(h http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", h)
	return mux
}
