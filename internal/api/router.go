package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theblitlabs/parity-sync/internal/api/handlers"
	"github.com/theblitlabs/parity-sync/internal/api/middleware"
)

// Router wraps mux.Router with the middleware stack and route table for the
// sync engine's local API, consumed by the desktop UI and CLI.
type Router struct {
	*mux.Router
}

func NewRouter(syncHandler *handlers.SyncHandler, registry *prometheus.Registry) *Router {
	r := &Router{Router: mux.NewRouter()}
	r.Use(middleware.Logging)
	r.registerRoutes(syncHandler, registry)
	return r
}

func (r *Router) registerRoutes(syncHandler *handlers.SyncHandler, registry *prometheus.Registry) {
	api := r.PathPrefix("/api").Subrouter()

	syncRoutes := api.PathPrefix("/sync").Subrouter()
	syncRoutes.HandleFunc("/tasks", syncHandler.SyncTasks).Methods(http.MethodPost)
	syncRoutes.HandleFunc("/earnings", syncHandler.SyncEarnings).Methods(http.MethodPost)
	syncRoutes.HandleFunc("/stats", syncHandler.GetStatistics).Methods(http.MethodGet)
	syncRoutes.HandleFunc("/health", syncHandler.GetHealth).Methods(http.MethodGet)
	syncRoutes.HandleFunc("/diagnostics", syncHandler.GetDiagnostics).Methods(http.MethodGet)
	syncRoutes.HandleFunc("/config/strategy", syncHandler.SetConflictStrategy).Methods(http.MethodPut)

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}
