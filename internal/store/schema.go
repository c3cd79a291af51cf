package store

import (
	"database/sql"
	"fmt"

	"github.com/aispark/pdmcore/internal/logging"
)

// =============================================================================
// Schema Migration
// =============================================================================

// Migrate creates the metastore schema.
//
// This is idempotent - safe to run multiple times.
// Uses CREATE TABLE / CREATE INDEX with IF NOT EXISTS.
func Migrate(db *sql.DB) error {
	log := logging.Component("store")

	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "clients",
			sql: `CREATE TABLE IF NOT EXISTS clients (
				client_id VARCHAR PRIMARY KEY,
				name VARCHAR NOT NULL,
				subscription_tier VARCHAR DEFAULT 'standard',
				machine_quota INTEGER DEFAULT 0,
				active BOOLEAN DEFAULT true,
				last_seen TIMESTAMP,
				created_at TIMESTAMP DEFAULT now(),
				updated_at TIMESTAMP DEFAULT now(),
				version INTEGER DEFAULT 1
			)`,
		},
		{
			name: "machines",
			sql: `CREATE TABLE IF NOT EXISTS machines (
				machine_id VARCHAR PRIMARY KEY,
				client_id VARCHAR NOT NULL,
				name VARCHAR NOT NULL,
				machine_type VARCHAR,
				criticality VARCHAR DEFAULT 'medium',
				location VARCHAR,
				maintenance_interval_days INTEGER,
				last_maintenance TIMESTAMP,
				next_maintenance TIMESTAMP,
				active BOOLEAN DEFAULT true,
				created_at TIMESTAMP DEFAULT now(),
				updated_at TIMESTAMP DEFAULT now(),
				version INTEGER DEFAULT 1
			)`,
		},
		{
			name: "anomalies",
			sql: `CREATE TABLE IF NOT EXISTS anomalies (
				id VARCHAR PRIMARY KEY,
				machine_id VARCHAR NOT NULL,
				client_id VARCHAR NOT NULL,
				detected_at TIMESTAMP NOT NULL,
				anomaly_type VARCHAR NOT NULL,
				severity VARCHAR NOT NULL,
				confidence_score DOUBLE,
				description VARCHAR,
				status VARCHAR DEFAULT 'active',
				resolved_at TIMESTAMP,
				resolved_by VARCHAR,
				created_at TIMESTAMP DEFAULT now(),
				updated_at TIMESTAMP DEFAULT now()
			)`,
		},
		{
			name: "alerts",
			sql: `CREATE TABLE IF NOT EXISTS alerts (
				id VARCHAR PRIMARY KEY,
				machine_id VARCHAR NOT NULL,
				client_id VARCHAR NOT NULL,
				related_anomaly_id VARCHAR,
				severity VARCHAR NOT NULL,
				title VARCHAR NOT NULL,
				message VARCHAR,
				acknowledged BOOLEAN DEFAULT false,
				acknowledged_by VARCHAR,
				acknowledged_at TIMESTAMP,
				resolved BOOLEAN DEFAULT false,
				resolved_by VARCHAR,
				resolved_at TIMESTAMP,
				resolution_notes VARCHAR,
				escalated BOOLEAN DEFAULT false,
				escalated_at TIMESTAMP,
				created_at TIMESTAMP DEFAULT now()
			)`,
		},
		{
			name: "models",
			sql: `CREATE TABLE IF NOT EXISTS models (
				id VARCHAR PRIMARY KEY,
				machine_id VARCHAR NOT NULL,
				client_id VARCHAR NOT NULL,
				model_type VARCHAR NOT NULL,
				version VARCHAR NOT NULL,
				trained_at TIMESTAMP,
				accuracy DOUBLE,
				precision_score DOUBLE,
				recall_score DOUBLE,
				f1_score DOUBLE,
				is_active BOOLEAN DEFAULT false,
				created_at TIMESTAMP DEFAULT now()
			)`,
		},
		{
			name: "rollups",
			sql: `CREATE TABLE IF NOT EXISTS rollups (
				machine_id VARCHAR NOT NULL,
				client_id VARCHAR NOT NULL,
				bucket_start BIGINT NOT NULL,
				granularity VARCHAR NOT NULL,
				reading_count BIGINT NOT NULL,
				temp_avg DOUBLE, temp_min DOUBLE, temp_max DOUBLE,
				temp_stddev DOUBLE, temp_p50 DOUBLE, temp_p95 DOUBLE, temp_p99 DOUBLE,
				vib_avg DOUBLE, vib_max DOUBLE,
				vib_stddev DOUBLE, vib_p50 DOUBLE, vib_p95 DOUBLE, vib_p99 DOUBLE,
				power_avg DOUBLE, power_max DOUBLE, power_stddev DOUBLE,
				high_temp_count BIGINT DEFAULT 0,
				high_vib_count BIGINT DEFAULT 0,
				computed_at_ms BIGINT NOT NULL,
				PRIMARY KEY (machine_id, granularity, bucket_start)
			)`,
		},

		// Indices for the common lookup paths
		{
			name: "idx_machines_client",
			sql:  `CREATE INDEX IF NOT EXISTS idx_machines_client ON machines(client_id)`,
		},
		{
			name: "idx_anomalies_machine",
			sql:  `CREATE INDEX IF NOT EXISTS idx_anomalies_machine ON anomalies(machine_id, detected_at)`,
		},
		{
			name: "idx_anomalies_status",
			sql:  `CREATE INDEX IF NOT EXISTS idx_anomalies_status ON anomalies(status)`,
		},
		{
			name: "idx_alerts_machine",
			sql:  `CREATE INDEX IF NOT EXISTS idx_alerts_machine ON alerts(machine_id, created_at)`,
		},
		{
			name: "idx_models_machine_type",
			sql:  `CREATE INDEX IF NOT EXISTS idx_models_machine_type ON models(machine_id, model_type)`,
		},
		{
			name: "idx_rollups_bucket",
			sql:  `CREATE INDEX IF NOT EXISTS idx_rollups_bucket ON rollups(granularity, bucket_start)`,
		},
	}

	for _, m := range migrations {
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		log.Debug("migration applied", "name", m.name)
	}

	log.Info("schema migration completed", "migrations", len(migrations))
	return nil
}
