// Package store - Anomaly operations
//
// Anomalies are created by external detection collaborators and mutated
// only through status transitions. The lifecycle runs
// active -> acknowledged -> resolved, with false_positive terminal from
// active or acknowledged. No transition leaves a terminal state.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aispark/pdmcore/internal/errors"
	"github.com/aispark/pdmcore/internal/validation"
)

// =============================================================================
// Anomaly Types
// =============================================================================

// Anomaly statuses.
const (
	AnomalyActive        = "active"
	AnomalyAcknowledged  = "acknowledged"
	AnomalyResolved      = "resolved"
	AnomalyFalsePositive = "false_positive"
)

// ValidSeverities are the accepted anomaly severity levels.
var ValidSeverities = []string{"low", "medium", "high", "critical"}

// anomalyTransitions maps each status to the statuses reachable from it.
// Resolving directly from active is allowed; acknowledgement is optional.
var anomalyTransitions = map[string][]string{
	AnomalyActive:        {AnomalyAcknowledged, AnomalyResolved, AnomalyFalsePositive},
	AnomalyAcknowledged:  {AnomalyResolved, AnomalyFalsePositive},
	AnomalyResolved:      {},
	AnomalyFalsePositive: {},
}

// Anomaly represents a detected anomaly on a machine.
type Anomaly struct {
	ID              string
	MachineID       string
	ClientID        string
	DetectedAt      time.Time
	AnomalyType     string
	Severity        string
	ConfidenceScore float64
	Description     string
	Status          string
	ResolvedAt      *time.Time
	ResolvedBy      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminal returns true when no further transitions are permitted.
func (a *Anomaly) IsTerminal() bool {
	return a.Status == AnomalyResolved || a.Status == AnomalyFalsePositive
}

func (a *Anomaly) validate() error {
	v := errors.NewValidationErrors()

	if a.AnomalyType == "" {
		v.AddMissing("anomaly_type")
	}
	if err := validation.ValidateEnum("severity", a.Severity, ValidSeverities...); err != nil {
		v.Add(err)
	}
	if err := validation.ValidateScore("confidence_score", a.ConfidenceScore); err != nil {
		v.Add(err)
	}
	if a.DetectedAt.IsZero() {
		v.AddMissing("detected_at")
	}

	return v.Err()
}

// AnomalyFilter narrows ListAnomalies results. Zero values match all.
type AnomalyFilter struct {
	MachineID string
	ClientID  string
	Status    string
	Severity  string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// =============================================================================
// Operations
// =============================================================================

// CreateAnomaly creates a new anomaly in the active state after
// validating the machine/client references.
func (s *Store) CreateAnomaly(ctx context.Context, a *Anomaly) error {
	if err := a.validate(); err != nil {
		return err
	}
	if err := s.ValidateOwnership(ctx, a.MachineID, a.ClientID); err != nil {
		return err
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = AnomalyActive

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anomalies (id, machine_id, client_id, detected_at, anomaly_type, severity,
		                       confidence_score, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.MachineID, a.ClientID, a.DetectedAt.UTC(), a.AnomalyType, a.Severity,
		a.ConfidenceScore, a.Description, a.Status, now, now)

	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}

	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// GetAnomaly retrieves an anomaly by ID.
func (s *Store) GetAnomaly(ctx context.Context, id string) (*Anomaly, error) {
	a := &Anomaly{}
	var description, resolvedBy sql.NullString
	var resolvedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, machine_id, client_id, detected_at, anomaly_type, severity,
		       confidence_score, description, status, resolved_at, resolved_by,
		       created_at, updated_at
		FROM anomalies WHERE id = ?
	`, id).Scan(
		&a.ID, &a.MachineID, &a.ClientID, &a.DetectedAt, &a.AnomalyType, &a.Severity,
		&a.ConfidenceScore, &description, &a.Status, &resolvedAt, &resolvedBy,
		&a.CreatedAt, &a.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("anomaly", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query anomaly: %w", err)
	}

	if description.Valid {
		a.Description = description.String
	}
	if resolvedBy.Valid {
		a.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}

	return a, nil
}

// ListAnomalies returns anomalies matching the filter, newest first.
func (s *Store) ListAnomalies(ctx context.Context, f AnomalyFilter) ([]*Anomaly, error) {
	query := `
		SELECT id, machine_id, client_id, detected_at, anomaly_type, severity,
		       confidence_score, description, status, resolved_at, resolved_by,
		       created_at, updated_at
		FROM anomalies WHERE 1=1`
	var args []interface{}

	if f.MachineID != "" {
		query += ` AND machine_id = ?`
		args = append(args, f.MachineID)
	}
	if f.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, f.ClientID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, f.Severity)
	}
	if !f.Since.IsZero() {
		query += ` AND detected_at >= ?`
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += ` AND detected_at < ?`
		args = append(args, f.Until.UTC())
	}

	query += ` ORDER BY detected_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []*Anomaly
	for rows.Next() {
		a := &Anomaly{}
		var description, resolvedBy sql.NullString
		var resolvedAt sql.NullTime

		if err := rows.Scan(
			&a.ID, &a.MachineID, &a.ClientID, &a.DetectedAt, &a.AnomalyType, &a.Severity,
			&a.ConfidenceScore, &description, &a.Status, &resolvedAt, &resolvedBy,
			&a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}

		if description.Valid {
			a.Description = description.String
		}
		if resolvedBy.Valid {
			a.ResolvedBy = resolvedBy.String
		}
		if resolvedAt.Valid {
			a.ResolvedAt = &resolvedAt.Time
		}

		anomalies = append(anomalies, a)
	}

	return anomalies, rows.Err()
}

// TransitionAnomaly moves an anomaly to a new status. Entering a terminal
// status records resolved_at and resolved_by. Invalid transitions return
// a conflict error; the row is left unchanged.
func (s *Store) TransitionAnomaly(ctx context.Context, id, newStatus, actor string) (*Anomaly, error) {
	if _, ok := anomalyTransitions[newStatus]; !ok {
		return nil, errors.NewInvalidValue("status", newStatus, "unknown anomaly status")
	}

	a, err := s.GetAnomaly(ctx, id)
	if err != nil {
		return nil, err
	}

	if !transitionAllowed(a.Status, newStatus) {
		return nil, errors.NewInvalidTransition("anomaly "+id, a.Status, newStatus)
	}

	// Guard the UPDATE on the status we validated against, so a racing
	// transition cannot make both writers succeed.
	from := a.Status
	now := time.Now().UTC()

	var result sql.Result
	if newStatus == AnomalyResolved || newStatus == AnomalyFalsePositive {
		result, err = s.db.ExecContext(ctx, `
			UPDATE anomalies
			SET status = ?, resolved_at = ?, resolved_by = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, newStatus, now, actor, now, id, from)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE anomalies SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, newStatus, now, id, from)
	}

	if err != nil {
		return nil, fmt.Errorf("update anomaly status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, fmt.Errorf("anomaly %s: %w", id, ErrConcurrentModification)
	}

	a.Status = newStatus
	a.UpdatedAt = now
	if newStatus == AnomalyResolved || newStatus == AnomalyFalsePositive {
		a.ResolvedAt = &now
		a.ResolvedBy = actor
	}
	return a, nil
}

func transitionAllowed(from, to string) bool {
	for _, allowed := range anomalyTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// DeleteAnomaliesBefore deletes terminal anomalies detected before the
// cutoff. Active and acknowledged anomalies are never expired.
func (s *Store) DeleteAnomaliesBefore(ctx context.Context, cutoffMs int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM anomalies
		WHERE detected_at < ? AND status IN (?, ?)
	`, time.UnixMilli(cutoffMs).UTC(), AnomalyResolved, AnomalyFalsePositive)
	if err != nil {
		return 0, fmt.Errorf("delete anomalies: %w", err)
	}
	return result.RowsAffected()
}
