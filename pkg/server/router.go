package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the API, metrics, WebSocket and static dashboard routes.
func NewRouter(handler *Handler, hub *Hub, webDir string) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/funnel", handler.HandleFunnel).Methods(http.MethodGet)
	api.HandleFunc("/retention", handler.HandleRetention).Methods(http.MethodGet)
	api.HandleFunc("/intervals", handler.HandleIntervals).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats", handler.HandleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/ws", hub.HandleWebSocket).Methods(http.MethodGet)

	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Static dashboard (strip prefix to prevent path traversal).
	fileServer := http.FileServer(http.Dir(webDir))
	router.PathPrefix("/").Handler(http.StripPrefix("/", fileServer))

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
