package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// Recorder is the metrics sink used by the router.
type Recorder interface {
	RetryRecorder
	RequestRecorder
}

// NewRouter wires every endpoint.
func NewRouter(identify *IdentifyHandler, db Pinger, rec Recorder, metricsHandler http.Handler, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(Instrument(logger, rec))

	router.HandleFunc("/identify", identify.Handle).Methods(http.MethodPost)
	router.HandleFunc("/contacts/{id}", identify.Lookup).Methods(http.MethodGet)
	router.HandleFunc("/health", Health(db, logger)).Methods(http.MethodGet)
	router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	return router
}
