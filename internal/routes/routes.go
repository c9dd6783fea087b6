package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/veridoc/veridoc-api/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(batch *handlers.BatchHandler, notifications *handlers.NotificationHandler) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Batch lifecycle
	router.HandleFunc("/api/batches", batch.Create).Methods(http.MethodPost)
	router.HandleFunc("/api/batches", batch.List).Methods(http.MethodGet)
	router.HandleFunc("/api/batches/{batchID}", batch.Get).Methods(http.MethodGet)
	router.HandleFunc("/api/batches/{batchID}/start", batch.Start).Methods(http.MethodPost)
	router.HandleFunc("/api/batches/{batchID}/status", batch.Status).Methods(http.MethodGet)
	router.HandleFunc("/api/batches/{batchID}/runs", batch.ListRuns).Methods(http.MethodGet)

	// Reporting
	router.HandleFunc("/api/batches/{batchID}/analytics", batch.Analytics).Methods(http.MethodGet)
	router.HandleFunc("/api/batches/{batchID}/consensus", batch.Consensus).Methods(http.MethodGet)

	// Notifications
	router.HandleFunc("/api/notifications", notifications.List).Methods(http.MethodGet)
	router.HandleFunc("/api/notifications/{notificationID}/read", notifications.MarkRead).Methods(http.MethodPost)

	return router
}
