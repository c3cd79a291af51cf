// Package store - Model registry
//
// At most one model row is active per (machine_id, model_type).
// Registering an active model swaps the previous active row out in the
// same transaction, so readers never observe zero or two active rows.

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
// Model Types
// =============================================================================

// Model represents a trained prediction model for one machine.
type Model struct {
	ID        string
	MachineID string
	ClientID  string
	ModelType string
	Version   string
	TrainedAt time.Time

	Accuracy  float64
	Precision float64
	Recall    float64
	F1Score   float64

	IsActive  bool
	CreatedAt time.Time
}

func (m *Model) validate() error {
	v := errors.NewValidationErrors()

	if m.ModelType == "" {
		v.AddMissing("model_type")
	}
	if m.Version == "" {
		v.AddMissing("version")
	}
	v.Add(validation.ValidateScore("accuracy", m.Accuracy))
	v.Add(validation.ValidateScore("precision", m.Precision))
	v.Add(validation.ValidateScore("recall", m.Recall))
	v.Add(validation.ValidateScore("f1_score", m.F1Score))

	return v.Err()
}

// =============================================================================
// Operations
// =============================================================================

// RegisterModel stores a model. When IsActive is set, the previous active
// model for the same (machine_id, model_type) is deactivated atomically.
func (s *Store) RegisterModel(ctx context.Context, m *Model) error {
	if err := m.validate(); err != nil {
		return err
	}
	if err := s.ValidateOwnership(ctx, m.MachineID, m.ClientID); err != nil {
		return err
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	err := s.TransactionContext(ctx, func(tx *sql.Tx) error {
		if m.IsActive {
			if _, err := tx.ExecContext(ctx, `
				UPDATE models SET is_active = false
				WHERE machine_id = ? AND model_type = ? AND is_active = true
			`, m.MachineID, m.ModelType); err != nil {
				return fmt.Errorf("deactivate previous model: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO models (id, machine_id, client_id, model_type, version, trained_at,
			                    accuracy, precision_score, recall_score, f1_score, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.MachineID, m.ClientID, m.ModelType, m.Version, m.TrainedAt.UTC(),
			m.Accuracy, m.Precision, m.Recall, m.F1Score, m.IsActive, now); err != nil {
			return fmt.Errorf("insert model: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	m.CreatedAt = now
	return nil
}

// ActivateModel makes an existing model the active one for its
// (machine_id, model_type), deactivating the previous active row in the
// same transaction.
func (s *Store) ActivateModel(ctx context.Context, id string) error {
	return s.TransactionContext(ctx, func(tx *sql.Tx) error {
		var machineID, modelType string
		err := tx.QueryRowContext(ctx, `
			SELECT machine_id, model_type FROM models WHERE id = ?
		`, id).Scan(&machineID, &modelType)

		if err == sql.ErrNoRows {
			return errors.NewNotFound("model", id)
		}
		if err != nil {
			return fmt.Errorf("query model: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE models SET is_active = false
			WHERE machine_id = ? AND model_type = ? AND is_active = true
		`, machineID, modelType); err != nil {
			return fmt.Errorf("deactivate previous model: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE models SET is_active = true WHERE id = ?
		`, id); err != nil {
			return fmt.Errorf("activate model: %w", err)
		}

		return nil
	})
}

// GetActiveModel returns the active model for a machine and model type.
func (s *Store) GetActiveModel(ctx context.Context, machineID, modelType string) (*Model, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, machine_id, client_id, model_type, version, trained_at,
		       accuracy, precision_score, recall_score, f1_score, is_active, created_at
		FROM models
		WHERE machine_id = ? AND model_type = ? AND is_active = true
	`, machineID, modelType)

	m, err := scanModel(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("active model", machineID+"/"+modelType)
	}
	if err != nil {
		return nil, fmt.Errorf("query active model: %w", err)
	}
	return m, nil
}

// ListModels returns all models for a machine, newest first.
func (s *Store) ListModels(ctx context.Context, machineID string) ([]*Model, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, machine_id, client_id, model_type, version, trained_at,
		       accuracy, precision_score, recall_score, f1_score, is_active, created_at
		FROM models WHERE machine_id = ?
		ORDER BY created_at DESC
	`, machineID)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	var models []*Model
	for rows.Next() {
		m, err := scanModel(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}

	return models, rows.Err()
}

func scanModel(scan func(...interface{}) error) (*Model, error) {
	m := &Model{}
	var trainedAt sql.NullTime

	err := scan(
		&m.ID, &m.MachineID, &m.ClientID, &m.ModelType, &m.Version, &trainedAt,
		&m.Accuracy, &m.Precision, &m.Recall, &m.F1Score, &m.IsActive, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if trainedAt.Valid {
		m.TrainedAt = trainedAt.Time
	}
	return m, nil
}
