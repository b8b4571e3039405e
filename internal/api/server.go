package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/webpilot-ai/webpilot/internal/ratelimit"
	"github.com/webpilot-ai/webpilot/internal/ws"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(wsManager *ws.Manager, rateLimiter *ratelimit.Limiter, requestsPerHour int) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Apply rate limiting middleware to session endpoints
	rateLimitedAPI := api.PathPrefix("").Subrouter()
	rateLimitedAPI.Use(RateLimitMiddleware(rateLimiter, requestsPerHour))

	// Session endpoints (rate limited)
	rateLimitedAPI.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	rateLimitedAPI.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	rateLimitedAPI.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	rateLimitedAPI.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")

	// Command and task endpoints (rate limited)
	rateLimitedAPI.HandleFunc("/sessions/{id}/commands", h.ExecuteCommand).Methods("POST", "OPTIONS")
	rateLimitedAPI.HandleFunc("/sessions/{id}/commands", h.GetCommands).Methods("GET")
	rateLimitedAPI.HandleFunc("/sessions/{id}/commands/validate", h.ValidateCommand).Methods("POST", "OPTIONS")
	rateLimitedAPI.HandleFunc("/sessions/{id}/tasks", h.RunTask).Methods("POST", "OPTIONS")
	rateLimitedAPI.HandleFunc("/sessions/{id}/history", h.GetHistory).Methods("GET")

	// Screenshot endpoint (not rate limited - frequent polling)
	api.HandleFunc("/sessions/{id}/screenshot", h.GetSessionScreenshot).Methods("GET")

	// Websocket endpoint for browser extensions and agents (not rate limited)
	api.HandleFunc("/ws", wsManager.HandleConnection).Methods("GET")

	// CORS middleware
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
