package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes registers the relay's endpoints: health (and WebSocket
// upgrades) on the root path, the explicit WebSocket endpoint, asset
// downloads and Prometheus metrics.
func SetupRoutes(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.WebSocketHandler)
	r.HandleFunc("/uploads", h.UploadsHandler).Methods(http.MethodGet, http.MethodHead)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/", h.HealthHandler)
	return r
}
