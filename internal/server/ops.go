package server

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Running   bool   `json:"running"`
	Metastore string `json:"metastore"`
	Uptime    string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Running:   s.svc.IsRunning(),
		Metastore: "ok",
		Uptime:    s.svc.Stats().Uptime.Round(time.Second).String(),
	}
	status := http.StatusOK

	if err := s.meta.Health(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Metastore = err.Error()
		status = http.StatusServiceUnavailable
	}
	if !resp.Running {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.svc.Stats()

	rollupStats, err := s.meta.GetRollupStats(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":        stats,
		"rollup_rows":    rollupStats,
		"stream_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleFlush(w http.ResponseWriter, _ *http.Request) {
	if err := s.svc.ForceFlush(); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (s *Server) handleRetentionSweep(w http.ResponseWriter, r *http.Request) {
	result := s.svc.RunRetention(r.Context())

	errs := make([]string, 0, len(result.Errors))
	for _, err := range result.Errors {
		errs = append(errs, err.Error())
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"chunks_deleted":    result.ChunksDeleted,
		"rollups_deleted":   result.RollupsDeleted,
		"anomalies_deleted": result.AnomaliesDeleted,
		"alerts_deleted":    result.AlertsDeleted,
		"errors":            errs,
	})
}
