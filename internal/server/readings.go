package server

import (
	"net/http"
	"time"

	"github.com/aispark/pdmcore/internal/errors"
	"github.com/aispark/pdmcore/internal/storage/query"
	"github.com/aispark/pdmcore/internal/storage/types"
)

type appendRequest struct {
	Readings []readingView `json:"readings"`
}

type appendResponse struct {
	Accepted int `json:"accepted"`
}

func (s *Server) handleAppendReadings(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if len(req.Readings) == 0 {
		respondError(w, errors.NewMissingField("readings"))
		return
	}

	readings := make([]types.Reading, 0, len(req.Readings))
	for _, v := range req.Readings {
		readings = append(readings, v.toReading())
	}

	if err := s.svc.AppendBatch(r.Context(), readings); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, appendResponse{Accepted: len(readings)})
}

func (s *Server) handleQueryReadings(w http.ResponseWriter, r *http.Request) {
	s.serveReadingQuery(w, r, query.ReadingQuery{MachineID: pathID(r)})
}

func (s *Server) handleQueryClientReadings(w http.ResponseWriter, r *http.Request) {
	s.serveReadingQuery(w, r, query.ReadingQuery{ClientID: pathID(r)})
}

func (s *Server) serveReadingQuery(w http.ResponseWriter, r *http.Request, q query.ReadingQuery) {
	start, end, err := parseTimeRange(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		respondError(w, err)
		return
	}

	q.SensorType = r.URL.Query().Get("sensor_type")
	q.StartTime = start
	q.EndTime = end
	q.Limit = limit

	readings, err := s.svc.QueryReadings(r.Context(), q)
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]readingView, 0, len(readings))
	for _, reading := range readings {
		views = append(views, viewReading(reading))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleQueryRollups(w http.ResponseWriter, r *http.Request) {
	gname := r.URL.Query().Get("granularity")
	if gname == "" {
		gname = "hourly"
	}
	g, err := types.ParseGranularity(gname)
	if err != nil {
		respondError(w, errors.NewInvalidValue("granularity", gname, "expected hourly or daily"))
		return
	}

	start, end, err := parseTimeRange(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-7 * 24 * time.Hour)
	}

	rollups, err := s.svc.QueryRollups(r.Context(), pathID(r), g, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]rollupView, 0, len(rollups))
	for _, rec := range rollups {
		views = append(views, viewRollup(rec))
	}
	respondJSON(w, http.StatusOK, views)
}
