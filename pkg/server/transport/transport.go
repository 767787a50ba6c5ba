// Package transport mounts the pipeline handler on one of the supported HTTP
// routers. The pipeline owns routing, so every router forwards all paths and
// methods to it unchanged.
package transport

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var supported = map[string]func(http.Handler) http.Handler{
	"nethttp": NetHTTP,
	"gin":     Gin,
	"gorilla": Gorilla,
}

// Mount wraps h in the router named by transportType. An empty type selects nethttp.
func Mount(transportType string, h http.Handler) (http.Handler, error) {
	tt := strings.TrimSpace(strings.ToLower(transportType))
	if tt == "" {
		tt = "nethttp"
	}
	if mount, ok := supported[tt]; ok {
		return mount(h), nil
	}
	return nil, fmt.Errorf("unsupported transport %q (supported: %s)", transportType, strings.Join(SupportedTypes(), ", "))
}

// SupportedTypes returns the supported transport types.
func SupportedTypes() []string {
	types := make([]string, 0, len(supported))
	for t := range supported {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
