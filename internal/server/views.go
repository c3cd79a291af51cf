package server

import (
	"time"

	"github.com/aispark/pdmcore/internal/storage/types"
	"github.com/aispark/pdmcore/internal/store"
)

// JSON view types. Store entities carry no serialization concerns, so
// the wire shapes live here.

type clientView struct {
	ClientID         string     `json:"client_id"`
	Name             string     `json:"name"`
	SubscriptionTier string     `json:"subscription_tier"`
	MachineQuota     int        `json:"machine_quota"`
	Active           bool       `json:"active"`
	LastSeen         *time.Time `json:"last_seen,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Version          int        `json:"version"`
}

func viewClient(c *store.Client) clientView {
	return clientView{
		ClientID:         c.ClientID,
		Name:             c.Name,
		SubscriptionTier: c.SubscriptionTier,
		MachineQuota:     c.MachineQuota,
		Active:           c.Active,
		LastSeen:         c.LastSeen,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
		Version:          c.Version,
	}
}

type machineView struct {
	MachineID               string     `json:"machine_id"`
	ClientID                string     `json:"client_id"`
	Name                    string     `json:"name"`
	MachineType             string     `json:"machine_type"`
	Criticality             string     `json:"criticality"`
	Location                string     `json:"location,omitempty"`
	MaintenanceIntervalDays int        `json:"maintenance_interval_days,omitempty"`
	LastMaintenance         *time.Time `json:"last_maintenance,omitempty"`
	NextMaintenance         *time.Time `json:"next_maintenance,omitempty"`
	Active                  bool       `json:"active"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
	Version                 int        `json:"version"`
}

func viewMachine(m *store.Machine) machineView {
	return machineView{
		MachineID:               m.MachineID,
		ClientID:                m.ClientID,
		Name:                    m.Name,
		MachineType:             m.MachineType,
		Criticality:             m.Criticality,
		Location:                m.Location,
		MaintenanceIntervalDays: m.MaintenanceIntervalDays,
		LastMaintenance:         m.LastMaintenance,
		NextMaintenance:         m.NextMaintenance,
		Active:                  m.Active,
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
		Version:                 m.Version,
	}
}

type anomalyView struct {
	ID              string     `json:"id"`
	MachineID       string     `json:"machine_id"`
	ClientID        string     `json:"client_id"`
	DetectedAt      time.Time  `json:"detected_at"`
	AnomalyType     string     `json:"anomaly_type"`
	Severity        string     `json:"severity"`
	ConfidenceScore float64    `json:"confidence_score"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func viewAnomaly(a *store.Anomaly) anomalyView {
	return anomalyView{
		ID:              a.ID,
		MachineID:       a.MachineID,
		ClientID:        a.ClientID,
		DetectedAt:      a.DetectedAt,
		AnomalyType:     a.AnomalyType,
		Severity:        a.Severity,
		ConfidenceScore: a.ConfidenceScore,
		Description:     a.Description,
		Status:          a.Status,
		ResolvedAt:      a.ResolvedAt,
		ResolvedBy:      a.ResolvedBy,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type alertView struct {
	ID               string     `json:"id"`
	MachineID        string     `json:"machine_id"`
	ClientID         string     `json:"client_id"`
	RelatedAnomalyID string     `json:"related_anomaly_id,omitempty"`
	Severity         string     `json:"severity"`
	Title            string     `json:"title"`
	Message          string     `json:"message,omitempty"`
	Acknowledged     bool       `json:"acknowledged"`
	AcknowledgedBy   string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at,omitempty"`
	Resolved         bool       `json:"resolved"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes  string     `json:"resolution_notes,omitempty"`
	Escalated        bool       `json:"escalated"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func viewAlert(a *store.Alert) alertView {
	return alertView{
		ID:               a.ID,
		MachineID:        a.MachineID,
		ClientID:         a.ClientID,
		RelatedAnomalyID: a.RelatedAnomalyID,
		Severity:         a.Severity,
		Title:            a.Title,
		Message:          a.Message,
		Acknowledged:     a.Acknowledged,
		AcknowledgedBy:   a.AcknowledgedBy,
		AcknowledgedAt:   a.AcknowledgedAt,
		Resolved:         a.Resolved,
		ResolvedBy:       a.ResolvedBy,
		ResolvedAt:       a.ResolvedAt,
		ResolutionNotes:  a.ResolutionNotes,
		Escalated:        a.Escalated,
		EscalatedAt:      a.EscalatedAt,
		CreatedAt:        a.CreatedAt,
	}
}

type modelView struct {
	ID        string    `json:"id"`
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
	CreatedAt time.Time `json:"created_at"`
}

func viewModel(m *store.Model) modelView {
	return modelView{
		ID:        m.ID,
		MachineID: m.MachineID,
		ClientID:  m.ClientID,
		ModelType: m.ModelType,
		Version:   m.Version,
		TrainedAt: m.TrainedAt,
		Accuracy:  m.Accuracy,
		Precision: m.Precision,
		Recall:    m.Recall,
		F1Score:   m.F1Score,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
	}
}

type readingView struct {
	ClientID    string             `json:"client_id"`
	MachineID   string             `json:"machine_id"`
	SensorType  string             `json:"sensor_type"`
	TimestampMs int64              `json:"timestamp_ms"`
	Temperature *float64           `json:"temperature,omitempty"`
	Vibration   *float64           `json:"vibration,omitempty"`
	Power       *float64           `json:"power,omitempty"`
	Pressure    *float64           `json:"pressure,omitempty"`
	Speed       *float64           `json:"speed,omitempty"`
	Efficiency  *float64           `json:"efficiency,omitempty"`
	Custom      map[string]float64 `json:"custom,omitempty"`
}

func (v readingView) toReading() types.Reading {
	return types.Reading{
		ClientID:    v.ClientID,
		MachineID:   v.MachineID,
		SensorType:  v.SensorType,
		TimestampMs: v.TimestampMs,
		Temperature: v.Temperature,
		Vibration:   v.Vibration,
		Power:       v.Power,
		Pressure:    v.Pressure,
		Speed:       v.Speed,
		Efficiency:  v.Efficiency,
		Custom:      v.Custom,
	}
}

func viewReading(r types.Reading) readingView {
	return readingView{
		ClientID:    r.ClientID,
		MachineID:   r.MachineID,
		SensorType:  r.SensorType,
		TimestampMs: r.TimestampMs,
		Temperature: r.Temperature,
		Vibration:   r.Vibration,
		Power:       r.Power,
		Pressure:    r.Pressure,
		Speed:       r.Speed,
		Efficiency:  r.Efficiency,
		Custom:      r.Custom,
	}
}

type rollupView struct {
	MachineID    string   `json:"machine_id"`
	ClientID     string   `json:"client_id"`
	BucketStart  int64    `json:"bucket_start_ms"`
	Granularity  string   `json:"granularity"`
	ReadingCount int64    `json:"reading_count"`
	TempAvg      *float64 `json:"temp_avg,omitempty"`
	TempMin      *float64 `json:"temp_min,omitempty"`
	TempMax      *float64 `json:"temp_max,omitempty"`
	TempStddev   *float64 `json:"temp_stddev,omitempty"`
	TempP50      *float64 `json:"temp_p50,omitempty"`
	TempP95      *float64 `json:"temp_p95,omitempty"`
	TempP99      *float64 `json:"temp_p99,omitempty"`
	VibAvg       *float64 `json:"vib_avg,omitempty"`
	VibMax       *float64 `json:"vib_max,omitempty"`
	VibStddev    *float64 `json:"vib_stddev,omitempty"`
	VibP50       *float64 `json:"vib_p50,omitempty"`
	VibP95       *float64 `json:"vib_p95,omitempty"`
	VibP99       *float64 `json:"vib_p99,omitempty"`
	PowerAvg     *float64 `json:"power_avg,omitempty"`
	PowerMax     *float64 `json:"power_max,omitempty"`
	PowerStddev  *float64 `json:"power_stddev,omitempty"`
	HighTemp     int64    `json:"high_temp_count"`
	HighVib      int64    `json:"high_vib_count"`
	ComputedAtMs int64    `json:"computed_at_ms"`
}

func viewRollup(r *types.RollupRecord) rollupView {
	return rollupView{
		MachineID:    r.MachineID,
		ClientID:     r.ClientID,
		BucketStart:  r.BucketStart,
		Granularity:  r.Granularity.String(),
		ReadingCount: r.ReadingCount,
		TempAvg:      r.TempAvg,
		TempMin:      r.TempMin,
		TempMax:      r.TempMax,
		TempStddev:   r.TempStddev,
		TempP50:      r.TempP50,
		TempP95:      r.TempP95,
		TempP99:      r.TempP99,
		VibAvg:       r.VibAvg,
		VibMax:       r.VibMax,
		VibStddev:    r.VibStddev,
		VibP50:       r.VibP50,
		VibP95:       r.VibP95,
		VibP99:       r.VibP99,
		PowerAvg:     r.PowerAvg,
		PowerMax:     r.PowerMax,
		PowerStddev:  r.PowerStddev,
		HighTemp:     r.HighTempCount,
		HighVib:      r.HighVibCount,
		ComputedAtMs: r.ComputedAtMs,
	}
}
