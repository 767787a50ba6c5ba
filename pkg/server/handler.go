package server

import (
	"errors"
	"net/http"

	"github.com/nimburion/rpcserver/pkg/extension"
	"github.com/nimburion/rpcserver/pkg/observability/logger"
	"github.com/nimburion/rpcserver/pkg/pipeline"
)

var errNoResponse = errors.New("pipeline returned no response")

// Handler adapts a pipeline to net/http. Every request gets a fresh
// extensions store, released when the exchange completes. Readiness is
// checked before the call and a refusal is rendered, never queued.
func Handler(svc pipeline.Service, renderer pipeline.Renderer, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ext := extension.New()
		defer ext.Clear()
		r = r.WithContext(extension.WithExtensions(r.Context(), ext))

		resp := serve(svc, renderer, r)
		if err := resp.Send(w); err != nil {
			log.WithContext(r.Context()).Debug("response write failed", "error", err)
		}
	})
}

func serve(svc pipeline.Service, renderer pipeline.Renderer, r *http.Request) *pipeline.Response {
	if err := svc.Ready(r.Context()); err != nil {
		return renderer.Render(err)
	}
	resp, err := svc.Call(r)
	if err != nil {
		return renderer.Render(err)
	}
	if resp == nil {
		return renderer.Render(errNoResponse)
	}
	return resp
}
