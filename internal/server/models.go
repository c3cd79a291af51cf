package server

import (
	"net/http"
	"time"

	"github.com/aispark/pdmcore/internal/errors"
	"github.com/aispark/pdmcore/internal/store"
)

type modelRequest struct {
	MachineID string    `json:"machine_id"`
	ClientID  string    `json:"client_id"`
	ModelType string    `json:"model_type"`
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Accuracy  float64   `json:"accuracy"`
	Precision float64   `json:"precision"`
	Recall    float64   `json:"recall"`
	F1Score   float64   `json:"f1_score"`
	IsActive  bool      `json:"is_active"`
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	m := &store.Model{
		MachineID: req.MachineID,
		ClientID:  req.ClientID,
		ModelType: req.ModelType,
		Version:   req.Version,
		TrainedAt: req.TrainedAt,
		Accuracy:  req.Accuracy,
		Precision: req.Precision,
		Recall:    req.Recall,
		F1Score:   req.F1Score,
		IsActive:  req.IsActive,
	}
	if err := s.meta.RegisterModel(r.Context(), m); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewModel(m))
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.meta.ListModels(r.Context(), pathID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]modelView, 0, len(models))
	for _, m := range models {
		views = append(views, viewModel(m))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetActiveModel(w http.ResponseWriter, r *http.Request) {
	modelType := r.URL.Query().Get("model_type")
	if modelType == "" {
		respondError(w, errors.NewMissingField("model_type"))
		return
	}

	m, err := s.meta.GetActiveModel(r.Context(), pathID(r), modelType)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewModel(m))
}

func (s *Server) handleActivateModel(w http.ResponseWriter, r *http.Request) {
	if err := s.meta.ActivateModel(r.Context(), pathID(r)); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
