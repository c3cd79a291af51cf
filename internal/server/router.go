package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router builds the /v1 route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	// Tenant registry
	v1.HandleFunc("/clients", s.handleCreateClient).Methods(http.MethodPost)
	v1.HandleFunc("/clients", s.handleListClients).Methods(http.MethodGet)
	v1.HandleFunc("/clients/{id}", s.handleGetClient).Methods(http.MethodGet)
	v1.HandleFunc("/clients/{id}", s.handleUpdateClient).Methods(http.MethodPut)
	v1.HandleFunc("/clients/{id}", s.handleDeactivateClient).Methods(http.MethodDelete)

	v1.HandleFunc("/machines", s.handleCreateMachine).Methods(http.MethodPost)
	v1.HandleFunc("/machines", s.handleListMachines).Methods(http.MethodGet)
	v1.HandleFunc("/machines/{id}", s.handleGetMachine).Methods(http.MethodGet)
	v1.HandleFunc("/machines/{id}", s.handleUpdateMachine).Methods(http.MethodPut)
	v1.HandleFunc("/machines/{id}", s.handleDeactivateMachine).Methods(http.MethodDelete)

	// Readings and rollups
	v1.HandleFunc("/readings", s.handleAppendReadings).Methods(http.MethodPost)
	v1.HandleFunc("/machines/{id}/readings", s.handleQueryReadings).Methods(http.MethodGet)
	v1.HandleFunc("/clients/{id}/readings", s.handleQueryClientReadings).Methods(http.MethodGet)
	v1.HandleFunc("/machines/{id}/rollups", s.handleQueryRollups).Methods(http.MethodGet)

	// Anomaly lifecycle
	v1.HandleFunc("/anomalies", s.handleCreateAnomaly).Methods(http.MethodPost)
	v1.HandleFunc("/anomalies", s.handleListAnomalies).Methods(http.MethodGet)
	v1.HandleFunc("/anomalies/{id}", s.handleGetAnomaly).Methods(http.MethodGet)
	v1.HandleFunc("/anomalies/{id}/status", s.handleTransitionAnomaly).Methods(http.MethodPost)

	// Alert lifecycle
	v1.HandleFunc("/alerts", s.handleCreateAlert).Methods(http.MethodPost)
	v1.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}/acknowledge", s.handleAcknowledgeAlert).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}/escalate", s.handleEscalateAlert).Methods(http.MethodPost)

	// Model registry
	v1.HandleFunc("/models", s.handleRegisterModel).Methods(http.MethodPost)
	v1.HandleFunc("/machines/{id}/models", s.handleListModels).Methods(http.MethodGet)
	v1.HandleFunc("/machines/{id}/models/active", s.handleGetActiveModel).Methods(http.MethodGet)
	v1.HandleFunc("/models/{id}/activate", s.handleActivateModel).Methods(http.MethodPost)

	// Operations
	v1.HandleFunc("/stream", s.hub.ServeWS).Methods(http.MethodGet)
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/flush", s.handleFlush).Methods(http.MethodPost)
	v1.HandleFunc("/retention/sweep", s.handleRetentionSweep).Methods(http.MethodPost)

	return r
}
