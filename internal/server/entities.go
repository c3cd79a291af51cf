package server

import (
	"net/http"
	"time"

	"github.com/aispark/pdmcore/internal/store"
)

// =============================================================================
// Clients
// =============================================================================

type clientRequest struct {
	ClientID         string `json:"client_id"`
	Name             string `json:"name"`
	SubscriptionTier string `json:"subscription_tier"`
	MachineQuota     int    `json:"machine_quota"`
}

// Update requests use pointers so absent fields keep their stored value.
type clientUpdateRequest struct {
	Name             *string `json:"name"`
	SubscriptionTier *string `json:"subscription_tier"`
	MachineQuota     *int    `json:"machine_quota"`
	Active           *bool   `json:"active"`
	Version          int     `json:"version"`
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	c := &store.Client{
		ClientID:         req.ClientID,
		Name:             req.Name,
		SubscriptionTier: req.SubscriptionTier,
		MachineQuota:     req.MachineQuota,
	}
	if err := s.meta.CreateClient(r.Context(), c); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewClient(c))
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.meta.ListClients(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]clientView, 0, len(clients))
	for _, c := range clients {
		views = append(views, viewClient(c))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	c, err := s.meta.GetClient(r.Context(), pathID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewClient(c))
}

func (s *Server) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	var req clientUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	c, err := s.meta.GetClient(r.Context(), pathID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.SubscriptionTier != nil {
		c.SubscriptionTier = *req.SubscriptionTier
	}
	if req.MachineQuota != nil {
		c.MachineQuota = *req.MachineQuota
	}
	if req.Active != nil {
		c.Active = *req.Active
	}
	c.Version = req.Version

	if err := s.meta.UpdateClient(r.Context(), c); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewClient(c))
}

func (s *Server) handleDeactivateClient(w http.ResponseWriter, r *http.Request) {
	if err := s.meta.DeactivateClient(r.Context(), pathID(r)); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// =============================================================================
// Machines
// =============================================================================

type machineRequest struct {
	MachineID               string     `json:"machine_id"`
	ClientID                string     `json:"client_id"`
	Name                    string     `json:"name"`
	MachineType             string     `json:"machine_type"`
	Criticality             string     `json:"criticality"`
	Location                string     `json:"location"`
	MaintenanceIntervalDays int        `json:"maintenance_interval_days"`
	LastMaintenance         *time.Time `json:"last_maintenance"`
	NextMaintenance         *time.Time `json:"next_maintenance"`
}

type machineUpdateRequest struct {
	Name                    *string    `json:"name"`
	MachineType             *string    `json:"machine_type"`
	Criticality             *string    `json:"criticality"`
	Location                *string    `json:"location"`
	MaintenanceIntervalDays *int       `json:"maintenance_interval_days"`
	LastMaintenance         *time.Time `json:"last_maintenance"`
	NextMaintenance         *time.Time `json:"next_maintenance"`
	Active                  *bool      `json:"active"`
	Version                 int        `json:"version"`
}

func (s *Server) handleCreateMachine(w http.ResponseWriter, r *http.Request) {
	var req machineRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	m := &store.Machine{
		MachineID:               req.MachineID,
		ClientID:                req.ClientID,
		Name:                    req.Name,
		MachineType:             req.MachineType,
		Criticality:             req.Criticality,
		Location:                req.Location,
		MaintenanceIntervalDays: req.MaintenanceIntervalDays,
		LastMaintenance:         req.LastMaintenance,
		NextMaintenance:         req.NextMaintenance,
	}
	if err := s.meta.CreateMachine(r.Context(), m); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewMachine(m))
}

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := s.meta.ListMachines(r.Context(), r.URL.Query().Get("client_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]machineView, 0, len(machines))
	for _, m := range machines {
		views = append(views, viewMachine(m))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	m, err := s.meta.GetMachine(r.Context(), pathID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewMachine(m))
}

func (s *Server) handleUpdateMachine(w http.ResponseWriter, r *http.Request) {
	var req machineUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	m, err := s.meta.GetMachine(r.Context(), pathID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	if req.Name != nil {
		m.Name = *req.Name
	}
	if req.MachineType != nil {
		m.MachineType = *req.MachineType
	}
	if req.Criticality != nil {
		m.Criticality = *req.Criticality
	}
	if req.Location != nil {
		m.Location = *req.Location
	}
	if req.MaintenanceIntervalDays != nil {
		m.MaintenanceIntervalDays = *req.MaintenanceIntervalDays
	}
	if req.LastMaintenance != nil {
		m.LastMaintenance = req.LastMaintenance
	}
	if req.NextMaintenance != nil {
		m.NextMaintenance = req.NextMaintenance
	}
	if req.Active != nil {
		m.Active = *req.Active
	}
	m.Version = req.Version

	if err := s.meta.UpdateMachine(r.Context(), m); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewMachine(m))
}

func (s *Server) handleDeactivateMachine(w http.ResponseWriter, r *http.Request) {
	if err := s.meta.DeactivateMachine(r.Context(), pathID(r)); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
