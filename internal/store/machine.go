// Package store - Machine operations
//
// Machines belong to exactly one client. Creation validates the owning
// client exists and enforces its machine quota.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aispark/pdmcore/internal/errors"
	"github.com/aispark/pdmcore/internal/validation"
)

// =============================================================================
// Machine Types
// =============================================================================

// Machine represents a monitored machine owned by a client.
type Machine struct {
	MachineID   string
	ClientID    string
	Name        string
	MachineType string
	Criticality string
	Location    string

	MaintenanceIntervalDays int
	LastMaintenance         *time.Time
	NextMaintenance         *time.Time

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// ValidCriticalities are the accepted machine criticality levels.
var ValidCriticalities = []string{"low", "medium", "high", "critical"}

func (m *Machine) validate() error {
	v := errors.NewValidationErrors()

	if err := validation.ValidateEntityID(m.MachineID); err != nil {
		v.Add(errors.Wrap(err, "machine_id"))
	}
	if err := validation.ValidateEntityID(m.ClientID); err != nil {
		v.Add(errors.Wrap(err, "client_id"))
	}
	if m.Name == "" {
		v.AddMissing("name")
	}
	if m.Criticality != "" {
		if err := validation.ValidateEnum("criticality", m.Criticality, ValidCriticalities...); err != nil {
			v.Add(err)
		}
	}
	if m.MaintenanceIntervalDays < 0 {
		v.AddField("maintenance_interval_days", "must not be negative")
	}

	return v.Err()
}

// =============================================================================
// CRUD Operations
// =============================================================================

// CreateMachine creates a new machine after validating that the owning
// client exists and has quota headroom.
func (s *Store) CreateMachine(ctx context.Context, m *Machine) error {
	if m.Criticality == "" {
		m.Criticality = "medium"
	}
	if err := m.validate(); err != nil {
		return err
	}

	client, err := s.GetClient(ctx, m.ClientID)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewInvalidReference("client", m.ClientID, "does not exist")
		}
		return err
	}

	if client.MachineQuota > 0 {
		count, err := s.MachineCount(ctx, m.ClientID)
		if err != nil {
			return err
		}
		if count >= client.MachineQuota {
			return fmt.Errorf("client %s has %d of %d machines: %w",
				m.ClientID, count, client.MachineQuota, ErrQuotaExceeded)
		}
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO machines (machine_id, client_id, name, machine_type, criticality, location,
		                      maintenance_interval_days, last_maintenance, next_maintenance,
		                      active, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, true, ?, ?, 1)
	`, m.MachineID, m.ClientID, m.Name, m.MachineType, m.Criticality, m.Location,
		m.MaintenanceIntervalDays, m.LastMaintenance, m.NextMaintenance, now, now)

	if err != nil {
		if exists, checkErr := s.MachineExists(ctx, m.MachineID); checkErr == nil && exists {
			return errors.NewAlreadyExists("machine", m.MachineID)
		}
		return fmt.Errorf("insert machine: %w", err)
	}

	m.Active = true
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Version = 1
	return nil
}

// GetMachine retrieves a machine by ID.
func (s *Store) GetMachine(ctx context.Context, machineID string) (*Machine, error) {
	m := &Machine{}
	var machineType, location sql.NullString
	var interval sql.NullInt64
	var lastMaint, nextMaint sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT machine_id, client_id, name, machine_type, criticality, location,
		       maintenance_interval_days, last_maintenance, next_maintenance,
		       active, created_at, updated_at, version
		FROM machines WHERE machine_id = ?
	`, machineID).Scan(
		&m.MachineID, &m.ClientID, &m.Name, &machineType, &m.Criticality, &location,
		&interval, &lastMaint, &nextMaint,
		&m.Active, &m.CreatedAt, &m.UpdatedAt, &m.Version,
	)

	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("machine", machineID)
	}
	if err != nil {
		return nil, fmt.Errorf("query machine: %w", err)
	}

	if machineType.Valid {
		m.MachineType = machineType.String
	}
	if location.Valid {
		m.Location = location.String
	}
	if interval.Valid {
		m.MaintenanceIntervalDays = int(interval.Int64)
	}
	if lastMaint.Valid {
		m.LastMaintenance = &lastMaint.Time
	}
	if nextMaint.Valid {
		m.NextMaintenance = &nextMaint.Time
	}

	return m, nil
}

// ListMachines returns machines, optionally filtered by owning client.
func (s *Store) ListMachines(ctx context.Context, clientID string) ([]*Machine, error) {
	query := `
		SELECT machine_id, client_id, name, machine_type, criticality, location,
		       maintenance_interval_days, last_maintenance, next_maintenance,
		       active, created_at, updated_at, version
		FROM machines`
	var args []interface{}
	if clientID != "" {
		query += ` WHERE client_id = ?`
		args = append(args, clientID)
	}
	query += ` ORDER BY machine_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query machines: %w", err)
	}
	defer rows.Close()

	var machines []*Machine
	for rows.Next() {
		m := &Machine{}
		var machineType, location sql.NullString
		var interval sql.NullInt64
		var lastMaint, nextMaint sql.NullTime

		if err := rows.Scan(
			&m.MachineID, &m.ClientID, &m.Name, &machineType, &m.Criticality, &location,
			&interval, &lastMaint, &nextMaint,
			&m.Active, &m.CreatedAt, &m.UpdatedAt, &m.Version,
		); err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}

		if machineType.Valid {
			m.MachineType = machineType.String
		}
		if location.Valid {
			m.Location = location.String
		}
		if interval.Valid {
			m.MaintenanceIntervalDays = int(interval.Int64)
		}
		if lastMaint.Valid {
			m.LastMaintenance = &lastMaint.Time
		}
		if nextMaint.Valid {
			m.NextMaintenance = &nextMaint.Time
		}

		machines = append(machines, m)
	}

	return machines, rows.Err()
}

// UpdateMachine updates an existing machine using optimistic concurrency.
// The owning client cannot be changed.
func (s *Store) UpdateMachine(ctx context.Context, m *Machine) error {
	if err := m.validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE machines
		SET name = ?, machine_type = ?, criticality = ?, location = ?,
		    maintenance_interval_days = ?, last_maintenance = ?, next_maintenance = ?,
		    active = ?, updated_at = ?, version = version + 1
		WHERE machine_id = ? AND version = ?
	`, m.Name, m.MachineType, m.Criticality, m.Location,
		m.MaintenanceIntervalDays, m.LastMaintenance, m.NextMaintenance,
		m.Active, now, m.MachineID, m.Version)

	if err != nil {
		return fmt.Errorf("update machine: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if exists, checkErr := s.MachineExists(ctx, m.MachineID); checkErr == nil && !exists {
			return errors.NewNotFound("machine", m.MachineID)
		}
		return fmt.Errorf("machine %s: %w", m.MachineID, ErrConcurrentModification)
	}

	m.UpdatedAt = now
	m.Version++
	return nil
}

// DeactivateMachine marks a machine inactive instead of deleting it, so
// historical readings and rollups stay resolvable.
func (s *Store) DeactivateMachine(ctx context.Context, machineID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE machines
		SET active = false, updated_at = ?, version = version + 1
		WHERE machine_id = ?
	`, time.Now().UTC(), machineID)
	if err != nil {
		return fmt.Errorf("deactivate machine: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.NewNotFound("machine", machineID)
	}
	return nil
}

// MachineExists checks if a machine exists.
func (s *Store) MachineExists(ctx context.Context, machineID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM machines WHERE machine_id = ?`, machineID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ValidateOwnership verifies that the machine exists and is owned by the
// claimed client. Used by the append path before accepting a reading.
func (s *Store) ValidateOwnership(ctx context.Context, machineID, clientID string) error {
	var owner string
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id FROM machines WHERE machine_id = ?
	`, machineID).Scan(&owner)

	if err == sql.ErrNoRows {
		return errors.NewInvalidReference("machine", machineID, "does not exist")
	}
	if err != nil {
		return fmt.Errorf("query machine owner: %w", err)
	}

	if owner != clientID {
		return errors.NewInvalidReference("machine", machineID,
			fmt.Sprintf("not owned by client '%s'", clientID))
	}
	return nil
}
