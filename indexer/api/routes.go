package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes for the API server
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.requestMiddleware)

	// Health check and metrics
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// API v1 endpoints
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/games", s.handleListGames).Methods(http.MethodGet)
	v1.HandleFunc("/games/{address}", s.handleGetGame).Methods(http.MethodGet)
	v1.HandleFunc("/games/{address}/comments", s.handleListComments).Methods(http.MethodGet)
	v1.HandleFunc("/comments/{id:[0-9]+}/like", s.handleToggleLike).Methods(http.MethodPost)
	v1.HandleFunc("/transactions", s.handleRegisterTransaction).Methods(http.MethodPost)
	v1.HandleFunc("/transactions/stats", s.handleTransactionStats).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/{txHash}", s.handleGetTransaction).Methods(http.MethodGet)

	return router
}
