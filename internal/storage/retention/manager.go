// Package retention enforces the data retention policy. Raw chunks are
// deleted whole-file at hour granularity; rollup, anomaly, and alert
// rows are pruned from the metastore. Sweeps are idempotent: running
// the same sweep twice deletes nothing the second time.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aispark/pdmcore/internal/logging"
	"github.com/aispark/pdmcore/internal/storage/config"
	"github.com/aispark/pdmcore/internal/storage/types"
)

// ChunkStore deletes expired raw chunk files.
type ChunkStore interface {
	DeleteExpired(cutoff time.Time) (int, error)
	DiskUsage() (int64, error)
}

// RollupPruner deletes rollup rows older than a cutoff.
type RollupPruner interface {
	DeleteRollupsBefore(ctx context.Context, g types.Granularity, cutoffMs int64) (int64, error)
}

// LifecyclePruner deletes resolved anomaly and alert rows older than a
// cutoff. Used only when lifecycle retention is enabled.
type LifecyclePruner interface {
	DeleteAnomaliesBefore(ctx context.Context, cutoffMs int64) (int64, error)
	DeleteAlertsBefore(ctx context.Context, cutoffMs int64) (int64, error)
}

// Enforcer applies the retention policy on a schedule or on demand.
type Enforcer struct {
	mu sync.Mutex

	policy   config.RetentionConfig
	chunks   ChunkStore
	rollups  RollupPruner
	entities LifecyclePruner

	stats Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime      time.Time
	SweepsRun        int64
	ChunksDeleted    int64
	RollupsDeleted   int64
	AnomaliesDeleted int64
	AlertsDeleted    int64
	Errors           int64
}

// SweepResult holds the result of one sweep.
type SweepResult struct {
	ChunksDeleted    int
	RollupsDeleted   int64
	AnomaliesDeleted int64
	AlertsDeleted    int64
	Errors           []error
}

// NewEnforcer creates a retention enforcer. entities may be nil when
// anomaly/alert retention is disabled.
func NewEnforcer(policy config.RetentionConfig, chunks ChunkStore, rollups RollupPruner, entities LifecyclePruner) *Enforcer {
	return &Enforcer{
		policy:   policy,
		chunks:   chunks,
		rollups:  rollups,
		entities: entities,
	}
}

// RunSweep enforces every horizon of the policy once.
func (e *Enforcer) RunSweep(ctx context.Context) SweepResult {
	return e.sweep(ctx, time.Now())
}

// RunSweepAt enforces the policy against a fixed reference time.
func (e *Enforcer) RunSweepAt(ctx context.Context, now time.Time) SweepResult {
	return e.sweep(ctx, now)
}

func (e *Enforcer) sweep(ctx context.Context, now time.Time) SweepResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := logging.Component("retention")
	result := SweepResult{}

	e.stats.LastRunTime = now
	e.stats.SweepsRun++

	// Raw chunks: whole-file deletion at hour granularity. A file is
	// deleted only once its entire hour is past the horizon.
	if e.chunks != nil && e.policy.Raw > 0 {
		cutoff := now.Add(-e.policy.Raw)
		deleted, err := e.chunks.DeleteExpired(cutoff)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("delete chunks: %w", err))
			e.stats.Errors++
		}
		result.ChunksDeleted = deleted
		e.stats.ChunksDeleted += int64(deleted)
	}

	// Rollup rows per granularity
	if e.rollups != nil {
		horizons := []struct {
			g         types.Granularity
			retention time.Duration
		}{
			{types.GranularityHourly, e.policy.Hourly},
			{types.GranularityDaily, e.policy.Daily},
		}

		for _, h := range horizons {
			if h.retention <= 0 {
				continue
			}
			cutoffMs := now.Add(-h.retention).UnixMilli()
			deleted, err := e.rollups.DeleteRollupsBefore(ctx, h.g, cutoffMs)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s rollups: %w", h.g, err))
				e.stats.Errors++
				continue
			}
			result.RollupsDeleted += deleted
			e.stats.RollupsDeleted += deleted
		}
	}

	// Anomalies and alerts: zero retention keeps forever
	if e.entities != nil {
		if e.policy.Anomalies > 0 {
			cutoffMs := now.Add(-e.policy.Anomalies).UnixMilli()
			deleted, err := e.entities.DeleteAnomaliesBefore(ctx, cutoffMs)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete anomalies: %w", err))
				e.stats.Errors++
			} else {
				result.AnomaliesDeleted = deleted
				e.stats.AnomaliesDeleted += deleted
			}
		}

		if e.policy.Alerts > 0 {
			cutoffMs := now.Add(-e.policy.Alerts).UnixMilli()
			deleted, err := e.entities.DeleteAlertsBefore(ctx, cutoffMs)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete alerts: %w", err))
				e.stats.Errors++
			} else {
				result.AlertsDeleted = deleted
				e.stats.AlertsDeleted += deleted
			}
		}
	}

	if result.ChunksDeleted > 0 || result.RollupsDeleted > 0 ||
		result.AnomaliesDeleted > 0 || result.AlertsDeleted > 0 {
		log.Info("retention sweep",
			"chunks_deleted", result.ChunksDeleted,
			"rollups_deleted", result.RollupsDeleted,
			"anomalies_deleted", result.AnomaliesDeleted,
			"alerts_deleted", result.AlertsDeleted,
			"errors", len(result.Errors))
	}

	return result
}

// Stats returns current statistics.
func (e *Enforcer) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
