package server

import (
	"net/http"
	"time"

	"github.com/aispark/pdmcore/internal/errors"
	"github.com/aispark/pdmcore/internal/store"
)

// =============================================================================
// Anomalies
// =============================================================================

type anomalyRequest struct {
	MachineID       string    `json:"machine_id"`
	ClientID        string    `json:"client_id"`
	DetectedAt      time.Time `json:"detected_at"`
	AnomalyType     string    `json:"anomaly_type"`
	Severity        string    `json:"severity"`
	ConfidenceScore float64   `json:"confidence_score"`
	Description     string    `json:"description"`
}

func (s *Server) handleCreateAnomaly(w http.ResponseWriter, r *http.Request) {
	var req anomalyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	a := &store.Anomaly{
		MachineID:       req.MachineID,
		ClientID:        req.ClientID,
		DetectedAt:      req.DetectedAt,
		AnomalyType:     req.AnomalyType,
		Severity:        req.Severity,
		ConfidenceScore: req.ConfidenceScore,
		Description:     req.Description,
	}
	if err := s.meta.CreateAnomaly(r.Context(), a); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewAnomaly(a))
}

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	since, until, err := parseTimeRange(r)
	if err != nil {
		respondError(w, err)
		return
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		respondError(w, err)
		return
	}

	q := r.URL.Query()
	anomalies, err := s.meta.ListAnomalies(r.Context(), store.AnomalyFilter{
		MachineID: q.Get("machine_id"),
		ClientID:  q.Get("client_id"),
		Status:    q.Get("status"),
		Severity:  q.Get("severity"),
		Since:     since,
		Until:     until,
		Limit:     limit,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]anomalyView, 0, len(anomalies))
	for _, a := range anomalies {
		views = append(views, viewAnomaly(a))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetAnomaly(w http.ResponseWriter, r *http.Request) {
	a, err := s.meta.GetAnomaly(r.Context(), pathID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewAnomaly(a))
}

type transitionRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
}

func (s *Server) handleTransitionAnomaly(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Status == "" {
		respondError(w, errors.NewMissingField("status"))
		return
	}

	a, err := s.meta.TransitionAnomaly(r.Context(), pathID(r), req.Status, req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewAnomaly(a))
}

// =============================================================================
// Alerts
// =============================================================================

type alertRequest struct {
	MachineID        string `json:"machine_id"`
	ClientID         string `json:"client_id"`
	RelatedAnomalyID string `json:"related_anomaly_id"`
	Severity         string `json:"severity"`
	Title            string `json:"title"`
	Message          string `json:"message"`
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	a := &store.Alert{
		MachineID:        req.MachineID,
		ClientID:         req.ClientID,
		RelatedAnomalyID: req.RelatedAnomalyID,
		Severity:         req.Severity,
		Title:            req.Title,
		Message:          req.Message,
	}
	if err := s.meta.CreateAlert(r.Context(), a); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewAlert(a))
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	since, until, err := parseTimeRange(r)
	if err != nil {
		respondError(w, err)
		return
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		respondError(w, err)
		return
	}

	q := r.URL.Query()
	alerts, err := s.meta.ListAlerts(r.Context(), store.AlertFilter{
		MachineID:  q.Get("machine_id"),
		ClientID:   q.Get("client_id"),
		Severity:   q.Get("severity"),
		Unresolved: q.Get("unresolved") == "true",
		Since:      since,
		Until:      until,
		Limit:      limit,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]alertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, viewAlert(a))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.meta.GetAlert(r.Context(), pathID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewAlert(a))
}

type alertActionRequest struct {
	Actor string `json:"actor"`
	Notes string `json:"notes"`
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req alertActionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	a, err := s.meta.AcknowledgeAlert(r.Context(), pathID(r), req.Actor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewAlert(a))
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	var req alertActionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	a, err := s.meta.ResolveAlert(r.Context(), pathID(r), req.Actor, req.Notes)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewAlert(a))
}

func (s *Server) handleEscalateAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.meta.EscalateAlert(r.Context(), pathID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewAlert(a))
}
