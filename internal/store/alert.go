// Package store - Alert operations
//
// Alerts track three independent set-once flags instead of a status
// enum: acknowledged, resolved, and escalated. Each can be set exactly
// once and never cleared. A resolved alert rejects every further call.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aispark/pdmcore/internal/errors"
)

// =============================================================================
// Alert Types
// =============================================================================

// ValidAlertSeverities are the accepted alert severity levels.
var ValidAlertSeverities = []string{"info", "warning", "critical"}

// Alert represents a notification raised for a machine, optionally tied
// to the anomaly that triggered it.
type Alert struct {
	ID               string
	MachineID        string
	ClientID         string
	RelatedAnomalyID string
	Severity         string
	Title            string
	Message          string

	Acknowledged   bool
	AcknowledgedBy string
	AcknowledgedAt *time.Time

	Resolved        bool
	ResolvedBy      string
	ResolvedAt      *time.Time
	ResolutionNotes string

	Escalated   bool
	EscalatedAt *time.Time

	CreatedAt time.Time
}

func (a *Alert) validate() error {
	v := errors.NewValidationErrors()

	if a.Title == "" {
		v.AddMissing("title")
	}
	found := false
	for _, sev := range ValidAlertSeverities {
		if a.Severity == sev {
			found = true
			break
		}
	}
	if !found {
		v.Add(errors.NewInvalidValue("severity", a.Severity, "must be info, warning, or critical"))
	}

	return v.Err()
}

// AlertFilter narrows ListAlerts results. Zero values match all.
type AlertFilter struct {
	MachineID  string
	ClientID   string
	Severity   string
	Unresolved bool
	Since      time.Time
	Until      time.Time
	Limit      int
}

// =============================================================================
// Operations
// =============================================================================

// CreateAlert creates a new alert after validating references. A related
// anomaly, when given, must exist.
func (s *Store) CreateAlert(ctx context.Context, a *Alert) error {
	if err := a.validate(); err != nil {
		return err
	}
	if err := s.ValidateOwnership(ctx, a.MachineID, a.ClientID); err != nil {
		return err
	}

	if a.RelatedAnomalyID != "" {
		if _, err := s.GetAnomaly(ctx, a.RelatedAnomalyID); err != nil {
			if errors.IsNotFound(err) {
				return errors.NewInvalidReference("anomaly", a.RelatedAnomalyID, "does not exist")
			}
			return err
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	var relatedID interface{}
	if a.RelatedAnomalyID != "" {
		relatedID = a.RelatedAnomalyID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, machine_id, client_id, related_anomaly_id, severity, title, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.MachineID, a.ClientID, relatedID, a.Severity, a.Title, a.Message, now)

	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}

	a.CreatedAt = now
	return nil
}

// GetAlert retrieves an alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*Alert, error) {
	a := &Alert{}
	var relatedID, message, ackBy, resolvedBy, notes sql.NullString
	var ackAt, resolvedAt, escalatedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, machine_id, client_id, related_anomaly_id, severity, title, message,
		       acknowledged, acknowledged_by, acknowledged_at,
		       resolved, resolved_by, resolved_at, resolution_notes,
		       escalated, escalated_at, created_at
		FROM alerts WHERE id = ?
	`, id).Scan(
		&a.ID, &a.MachineID, &a.ClientID, &relatedID, &a.Severity, &a.Title, &message,
		&a.Acknowledged, &ackBy, &ackAt,
		&a.Resolved, &resolvedBy, &resolvedAt, &notes,
		&a.Escalated, &escalatedAt, &a.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("alert", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}

	if relatedID.Valid {
		a.RelatedAnomalyID = relatedID.String
	}
	if message.Valid {
		a.Message = message.String
	}
	if ackBy.Valid {
		a.AcknowledgedBy = ackBy.String
	}
	if ackAt.Valid {
		a.AcknowledgedAt = &ackAt.Time
	}
	if resolvedBy.Valid {
		a.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	if notes.Valid {
		a.ResolutionNotes = notes.String
	}
	if escalatedAt.Valid {
		a.EscalatedAt = &escalatedAt.Time
	}

	return a, nil
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]*Alert, error) {
	query := `
		SELECT id, machine_id, client_id, related_anomaly_id, severity, title, message,
		       acknowledged, acknowledged_by, acknowledged_at,
		       resolved, resolved_by, resolved_at, resolution_notes,
		       escalated, escalated_at, created_at
		FROM alerts WHERE 1=1`
	var args []interface{}

	if f.MachineID != "" {
		query += ` AND machine_id = ?`
		args = append(args, f.MachineID)
	}
	if f.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, f.ClientID)
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, f.Severity)
	}
	if f.Unresolved {
		query += ` AND resolved = false`
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, f.Until.UTC())
	}

	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a := &Alert{}
		var relatedID, message, ackBy, resolvedBy, notes sql.NullString
		var ackAt, resolvedAt, escalatedAt sql.NullTime

		if err := rows.Scan(
			&a.ID, &a.MachineID, &a.ClientID, &relatedID, &a.Severity, &a.Title, &message,
			&a.Acknowledged, &ackBy, &ackAt,
			&a.Resolved, &resolvedBy, &resolvedAt, &notes,
			&a.Escalated, &escalatedAt, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}

		if relatedID.Valid {
			a.RelatedAnomalyID = relatedID.String
		}
		if message.Valid {
			a.Message = message.String
		}
		if ackBy.Valid {
			a.AcknowledgedBy = ackBy.String
		}
		if ackAt.Valid {
			a.AcknowledgedAt = &ackAt.Time
		}
		if resolvedBy.Valid {
			a.ResolvedBy = resolvedBy.String
		}
		if resolvedAt.Valid {
			a.ResolvedAt = &resolvedAt.Time
		}
		if notes.Valid {
			a.ResolutionNotes = notes.String
		}
		if escalatedAt.Valid {
			a.EscalatedAt = &escalatedAt.Time
		}

		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// AcknowledgeAlert sets the acknowledged flag. A resolved or already
// acknowledged alert rejects the call with a conflict error.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, actor string) (*Alert, error) {
	a, err := s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	if a.Resolved {
		return nil, errors.NewInvalidTransition("alert "+id, "resolved", "acknowledged")
	}
	if a.Acknowledged {
		return nil, errors.NewInvalidTransition("alert "+id, "acknowledged", "acknowledged")
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged = true, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ? AND resolved = false AND acknowledged = false
	`, actor, now, id)
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("alert %s: %w", id, ErrConcurrentModification)
	}

	a.Acknowledged = true
	a.AcknowledgedBy = actor
	a.AcknowledgedAt = &now
	return a, nil
}

// ResolveAlert sets the resolved flag with optional notes. Resolution is
// final: any further acknowledge/resolve/escalate call is rejected.
func (s *Store) ResolveAlert(ctx context.Context, id, actor, notes string) (*Alert, error) {
	a, err := s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	if a.Resolved {
		return nil, errors.NewInvalidTransition("alert "+id, "resolved", "resolved")
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET resolved = true, resolved_by = ?, resolved_at = ?, resolution_notes = ?
		WHERE id = ? AND resolved = false
	`, actor, now, notes, id)
	if err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("alert %s: %w", id, ErrConcurrentModification)
	}

	a.Resolved = true
	a.ResolvedBy = actor
	a.ResolvedAt = &now
	a.ResolutionNotes = notes
	return a, nil
}

// EscalateAlert sets the escalated flag.
func (s *Store) EscalateAlert(ctx context.Context, id string) (*Alert, error) {
	a, err := s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	if a.Resolved {
		return nil, errors.NewInvalidTransition("alert "+id, "resolved", "escalated")
	}
	if a.Escalated {
		return nil, errors.NewInvalidTransition("alert "+id, "escalated", "escalated")
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET escalated = true, escalated_at = ?
		WHERE id = ? AND resolved = false AND escalated = false
	`, now, id)
	if err != nil {
		return nil, fmt.Errorf("escalate alert: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("alert %s: %w", id, ErrConcurrentModification)
	}

	a.Escalated = true
	a.EscalatedAt = &now
	return a, nil
}

// DeleteAlertsBefore deletes resolved alerts created before the cutoff.
// Unresolved alerts are never expired.
func (s *Store) DeleteAlertsBefore(ctx context.Context, cutoffMs int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM alerts WHERE created_at < ? AND resolved = true
	`, time.UnixMilli(cutoffMs).UTC())
	if err != nil {
		return 0, fmt.Errorf("delete alerts: %w", err)
	}
	return result.RowsAffected()
}
