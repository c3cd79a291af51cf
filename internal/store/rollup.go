// Package store - Rollup rows
//
// Published rollup records for (machine, bucket, granularity) keys.
// Replace swaps the row inside one transaction (delete + insert), so
// readers see either the old row or the new one, never both or neither
// while readings exist for the bucket.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aispark/pdmcore/internal/storage/types"
)

const rollupColumns = `
	machine_id, client_id, bucket_start, granularity, reading_count,
	temp_avg, temp_min, temp_max, temp_stddev, temp_p50, temp_p95, temp_p99,
	vib_avg, vib_max, vib_stddev, vib_p50, vib_p95, vib_p99,
	power_avg, power_max, power_stddev,
	high_temp_count, high_vib_count, computed_at_ms`

// Replace atomically swaps the rollup row for the record's key.
func (s *Store) Replace(ctx context.Context, r *types.RollupRecord) error {
	return s.TransactionContext(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM rollups
			WHERE machine_id = ? AND granularity = ? AND bucket_start = ?
		`, r.MachineID, r.Granularity.String(), r.BucketStart); err != nil {
			return fmt.Errorf("delete previous rollup: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rollups (`+rollupColumns+`)
			VALUES (?, ?, ?, ?, ?,
			        ?, ?, ?, ?, ?, ?, ?,
			        ?, ?, ?, ?, ?, ?,
			        ?, ?, ?,
			        ?, ?, ?)
		`, r.MachineID, r.ClientID, r.BucketStart, r.Granularity.String(), r.ReadingCount,
			ptrArg(r.TempAvg), ptrArg(r.TempMin), ptrArg(r.TempMax),
			ptrArg(r.TempStddev), ptrArg(r.TempP50), ptrArg(r.TempP95), ptrArg(r.TempP99),
			ptrArg(r.VibAvg), ptrArg(r.VibMax),
			ptrArg(r.VibStddev), ptrArg(r.VibP50), ptrArg(r.VibP95), ptrArg(r.VibP99),
			ptrArg(r.PowerAvg), ptrArg(r.PowerMax), ptrArg(r.PowerStddev),
			r.HighTempCount, r.HighVibCount, r.ComputedAtMs); err != nil {
			return fmt.Errorf("insert rollup: %w", err)
		}

		return nil
	})
}

// Delete removes the rollup row for a bucket that has become empty.
// Deleting a missing row is a no-op.
func (s *Store) Delete(ctx context.Context, machineID string, bucketStart int64, granularity types.Granularity) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM rollups
		WHERE machine_id = ? AND granularity = ? AND bucket_start = ?
	`, machineID, granularity.String(), bucketStart)
	if err != nil {
		return fmt.Errorf("delete rollup: %w", err)
	}
	return nil
}

// GetRollup returns the rollup row for one key, or nil when absent.
func (s *Store) GetRollup(ctx context.Context, machineID string, bucketStart int64, granularity types.Granularity) (*types.RollupRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+rollupColumns+`
		FROM rollups
		WHERE machine_id = ? AND granularity = ? AND bucket_start = ?
	`, machineID, granularity.String(), bucketStart)

	r, err := scanRollup(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query rollup: %w", err)
	}
	return r, nil
}

// ListRollups returns a machine's rollup rows of one granularity with
// bucket starts in [startMs, endMs), ascending.
func (s *Store) ListRollups(ctx context.Context, machineID string, granularity types.Granularity, startMs, endMs int64) ([]*types.RollupRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rollupColumns+`
		FROM rollups
		WHERE machine_id = ? AND granularity = ? AND bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start
	`, machineID, granularity.String(), startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query rollups: %w", err)
	}
	defer rows.Close()

	var records []*types.RollupRecord
	for rows.Next() {
		r, err := scanRollup(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// DeleteRollupsBefore deletes rows of one granularity whose bucket ends
// at or before the cutoff. Used by the retention enforcer.
func (s *Store) DeleteRollupsBefore(ctx context.Context, granularity types.Granularity, cutoffMs int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rollups
		WHERE granularity = ? AND bucket_start + ? <= ?
	`, granularity.String(), granularity.DurationMs(), cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("delete rollups: %w", err)
	}
	return result.RowsAffected()
}

func scanRollup(scan func(...interface{}) error) (*types.RollupRecord, error) {
	r := &types.RollupRecord{}
	var granularity string
	var tempAvg, tempMin, tempMax, tempStddev, tempP50, tempP95, tempP99 sql.NullFloat64
	var vibAvg, vibMax, vibStddev, vibP50, vibP95, vibP99 sql.NullFloat64
	var powerAvg, powerMax, powerStddev sql.NullFloat64

	err := scan(
		&r.MachineID, &r.ClientID, &r.BucketStart, &granularity, &r.ReadingCount,
		&tempAvg, &tempMin, &tempMax, &tempStddev, &tempP50, &tempP95, &tempP99,
		&vibAvg, &vibMax, &vibStddev, &vibP50, &vibP95, &vibP99,
		&powerAvg, &powerMax, &powerStddev,
		&r.HighTempCount, &r.HighVibCount, &r.ComputedAtMs,
	)
	if err != nil {
		return nil, err
	}

	g, err := types.ParseGranularity(granularity)
	if err != nil {
		return nil, err
	}
	r.Granularity = g
	r.TempAvg = nullArg(tempAvg)
	r.TempMin = nullArg(tempMin)
	r.TempMax = nullArg(tempMax)
	r.TempStddev = nullArg(tempStddev)
	r.TempP50 = nullArg(tempP50)
	r.TempP95 = nullArg(tempP95)
	r.TempP99 = nullArg(tempP99)
	r.VibAvg = nullArg(vibAvg)
	r.VibMax = nullArg(vibMax)
	r.VibStddev = nullArg(vibStddev)
	r.VibP50 = nullArg(vibP50)
	r.VibP95 = nullArg(vibP95)
	r.VibP99 = nullArg(vibP99)
	r.PowerAvg = nullArg(powerAvg)
	r.PowerMax = nullArg(powerMax)
	r.PowerStddev = nullArg(powerStddev)

	return r, nil
}

func ptrArg(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullArg(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// RollupStats summarizes the rollup table for the stats endpoint.
type RollupStats struct {
	HourlyRows   int64
	DailyRows    int64
	OldestBucket *time.Time
}

// GetRollupStats returns row counts per granularity.
func (s *Store) GetRollupStats(ctx context.Context) (RollupStats, error) {
	var stats RollupStats

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE granularity = 'hourly'),
			COUNT(*) FILTER (WHERE granularity = 'daily'),
			MIN(bucket_start)
		FROM rollups
	`).Scan(&stats.HourlyRows, &stats.DailyRows, &nullBucket{&stats.OldestBucket})
	if err != nil {
		return stats, fmt.Errorf("query rollup stats: %w", err)
	}

	return stats, nil
}

// nullBucket scans a nullable millisecond bucket into a *time.Time.
type nullBucket struct {
	dst **time.Time
}

func (n *nullBucket) Scan(value interface{}) error {
	if value == nil {
		*n.dst = nil
		return nil
	}
	switch v := value.(type) {
	case int64:
		t := time.UnixMilli(v)
		*n.dst = &t
	case float64:
		t := time.UnixMilli(int64(v))
		*n.dst = &t
	default:
		return fmt.Errorf("unsupported bucket type %T", value)
	}
	return nil
}
