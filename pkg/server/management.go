package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nimburion/rpcserver/pkg/health"
	"github.com/nimburion/rpcserver/pkg/observability/metrics"
	"github.com/nimburion/rpcserver/pkg/version"
)

// ManagementHandler serves the operator endpoints:
//   - /healthz: liveness, always 200
//   - /readyz: readiness checks, 503 when any check is unhealthy; ?check=<name>
//     runs a single check and answers 404 with the registered names when it
//     does not exist
//   - /metrics: Prometheus metrics
//   - /version: build metadata
func ManagementHandler(checks *health.Registry, reg *metrics.Registry, info version.Info) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if name := req.URL.Query().Get("check"); name != "" {
			result, err := checks.CheckOne(req.Context(), name)
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error(), "checks": checks.List()})
				return
			}
			writeJSON(w, readinessStatus(result.Status), result)
			return
		}
		result := checks.Check(req.Context())
		writeJSON(w, readinessStatus(result.Status), result)
	}).Methods(http.MethodGet)

	r.Handle("/metrics", reg.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, info)
	}).Methods(http.MethodGet)

	return r
}

// readinessStatus keeps degraded instances in rotation; only unhealthy ones
// answer 503.
func readinessStatus(status health.Status) int {
	if status == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
