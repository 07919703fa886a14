package rest

import (
	"net/http"

	httptransport "github.com/ValentinKolb/dLock/rpc/transport/http"
	"github.com/VictoriaMetrics/metrics"
)

// NewRouter creates a new HTTP router with all API routes.
// With debug set every request is logged.
func NewRouter(handler *Handler, debug bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /locks/{type}/{id}", handler.CheckLock)
	mux.HandleFunc("POST /locks/{type}/{id}", handler.AcquireLock)
	mux.HandleFunc("DELETE /locks/{type}/{id}", handler.ReleaseLock)
	mux.HandleFunc("DELETE /owners/{owner}/locks", handler.ReleaseAllForOwner)
	mux.HandleFunc("POST /sweep", handler.SweepExpired)

	// Prometheus metrics of the lock managers and the process
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		handler.metrics.WritePrometheus(w)
		metrics.WritePrometheus(w, true)
	})

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if debug {
		return httptransport.LoggerMiddleware(log, mux.ServeHTTP)
	}
	return mux
}
