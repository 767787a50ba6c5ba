package transport

import (
	"net/http"

	ginpkg "github.com/gin-gonic/gin"
)

// Gin mounts h on a catch-all route of a gin engine. Methods gin does not
// register through Any fall through to NoRoute.
func Gin(h http.Handler) http.Handler {
	ginpkg.SetMode(ginpkg.ReleaseMode)
	engine := ginpkg.New()
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false
	engine.HandleMethodNotAllowed = false
	engine.UseRawPath = true
	engine.UnescapePathValues = false

	handler := ginpkg.WrapH(h)
	engine.Any("/*path", handler)
	engine.NoRoute(handler)
	return engine
}
