package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"mailcampaign/internal/middleware"
)

// NewRouter wires every HTTP endpoint behind request logging and recovery
func NewRouter(campaigns *CampaignHandler, streams *StreamHandler, health *HealthHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger, middleware.Recovery)

	router.HandleFunc("/health", health.HandleHealth).Methods(http.MethodGet)

	router.HandleFunc("/campaigns", campaigns.List).Methods(http.MethodGet)
	router.HandleFunc("/campaigns", campaigns.Create).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/stream", streams.All).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id:[0-9]+}", campaigns.GetByID).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id:[0-9]+}", campaigns.Update).Methods(http.MethodPatch)
	router.HandleFunc("/campaigns/{id:[0-9]+}", campaigns.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/campaigns/{id:[0-9]+}/dispatch", campaigns.Dispatch).Methods(http.MethodPost)
	router.HandleFunc("/campaigns/{id:[0-9]+}/recipients", campaigns.Recipients).Methods(http.MethodGet)
	router.HandleFunc("/campaigns/{id:[0-9]+}/stream", streams.Campaign).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, CodeNotFound, "Route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	return router
}
