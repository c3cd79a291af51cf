// Package store - Client operations
//
// Provides CRUD for the tenant registry's client entities. Clients own
// machines; machine creation is quota-checked against the owning client.

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
// Client Types
// =============================================================================

// Client represents a tenant that owns machines.
type Client struct {
	ClientID         string
	Name             string
	SubscriptionTier string
	MachineQuota     int // 0 means unlimited
	Active           bool
	LastSeen         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Version          int
}

// ValidTiers are the accepted subscription tiers.
var ValidTiers = []string{"basic", "standard", "premium", "enterprise"}

func (c *Client) validate() error {
	v := errors.NewValidationErrors()

	if err := validation.ValidateEntityID(c.ClientID); err != nil {
		v.Add(errors.Wrap(err, "client_id"))
	}
	if c.Name == "" {
		v.AddMissing("name")
	}
	if c.SubscriptionTier != "" {
		if err := validation.ValidateEnum("subscription_tier", c.SubscriptionTier, ValidTiers...); err != nil {
			v.Add(err)
		}
	}
	if c.MachineQuota < 0 {
		v.AddField("machine_quota", "must not be negative")
	}

	return v.Err()
}

// =============================================================================
// CRUD Operations
// =============================================================================

// CreateClient creates a new client.
func (s *Store) CreateClient(ctx context.Context, c *Client) error {
	if c.SubscriptionTier == "" {
		c.SubscriptionTier = "standard"
	}
	if err := c.validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (client_id, name, subscription_tier, machine_quota, active, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, true, ?, ?, 1)
	`, c.ClientID, c.Name, c.SubscriptionTier, c.MachineQuota, now, now)

	if err != nil {
		if exists, checkErr := s.ClientExists(ctx, c.ClientID); checkErr == nil && exists {
			return errors.NewAlreadyExists("client", c.ClientID)
		}
		return fmt.Errorf("insert client: %w", err)
	}

	c.Active = true
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Version = 1
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*Client, error) {
	c := &Client{}
	var lastSeen sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, name, subscription_tier, machine_quota, active, last_seen,
		       created_at, updated_at, version
		FROM clients WHERE client_id = ?
	`, clientID).Scan(
		&c.ClientID, &c.Name, &c.SubscriptionTier, &c.MachineQuota, &c.Active, &lastSeen,
		&c.CreatedAt, &c.UpdatedAt, &c.Version,
	)

	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("client", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("query client: %w", err)
	}

	if lastSeen.Valid {
		c.LastSeen = &lastSeen.Time
	}

	return c, nil
}

// ListClients returns all clients.
func (s *Store) ListClients(ctx context.Context) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, name, subscription_tier, machine_quota, active, last_seen,
		       created_at, updated_at, version
		FROM clients ORDER BY client_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		c := &Client{}
		var lastSeen sql.NullTime

		if err := rows.Scan(
			&c.ClientID, &c.Name, &c.SubscriptionTier, &c.MachineQuota, &c.Active, &lastSeen,
			&c.CreatedAt, &c.UpdatedAt, &c.Version,
		); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}

		if lastSeen.Valid {
			c.LastSeen = &lastSeen.Time
		}

		clients = append(clients, c)
	}

	return clients, rows.Err()
}

// UpdateClient updates an existing client using optimistic concurrency:
// the caller's Version must match the stored row.
func (s *Store) UpdateClient(ctx context.Context, c *Client) error {
	if err := c.validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET name = ?, subscription_tier = ?, machine_quota = ?, active = ?,
		    updated_at = ?, version = version + 1
		WHERE client_id = ? AND version = ?
	`, c.Name, c.SubscriptionTier, c.MachineQuota, c.Active, now, c.ClientID, c.Version)

	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if exists, checkErr := s.ClientExists(ctx, c.ClientID); checkErr == nil && !exists {
			return errors.NewNotFound("client", c.ClientID)
		}
		return fmt.Errorf("client %s: %w", c.ClientID, ErrConcurrentModification)
	}

	c.UpdatedAt = now
	c.Version++
	return nil
}

// DeactivateClient marks a client inactive. Machines are kept; the write
// path rejects readings for inactive clients.
func (s *Store) DeactivateClient(ctx context.Context, clientID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET active = false, updated_at = ?, version = version + 1
		WHERE client_id = ?
	`, time.Now().UTC(), clientID)
	if err != nil {
		return fmt.Errorf("deactivate client: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.NewNotFound("client", clientID)
	}
	return nil
}

// TouchLastSeen records client activity. Called from the append path on
// every accepted reading; errors are the caller's to ignore.
func (s *Store) TouchLastSeen(ctx context.Context, clientID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE clients SET last_seen = ? WHERE client_id = ?
	`, at.UTC(), clientID)
	return err
}

// ClientExists checks if a client exists.
func (s *Store) ClientExists(ctx context.Context, clientID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients WHERE client_id = ?`, clientID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MachineCount returns the number of machines owned by a client.
func (s *Store) MachineCount(ctx context.Context, clientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM machines WHERE client_id = ?`, clientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count machines: %w", err)
	}
	return count, nil
}
