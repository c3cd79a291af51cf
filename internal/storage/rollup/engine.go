package rollup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aispark/pdmcore/internal/logging"
	"github.com/aispark/pdmcore/internal/storage/types"
)

// ReadingSource provides the readings of a time range for one machine.
type ReadingSource interface {
	ReadRange(machineID string, startMs, endMs int64) ([]types.Reading, error)
}

// Publisher stores computed rollup records. Replace must atomically
// swap any previous record for the same key; Delete removes the record
// for a bucket that has become empty.
type Publisher interface {
	Replace(ctx context.Context, record *types.RollupRecord) error
	Delete(ctx context.Context, machineID string, bucketStart int64, granularity types.Granularity) error
}

// Thresholds are the exceedance-count policy inputs.
type Thresholds struct {
	HighTemperature float64
	HighVibration   float64
}

// Config configures the rollup engine.
type Config struct {
	Thresholds Thresholds

	// PercentileAccuracy is the DDSketch relative accuracy. Zero or
	// negative disables percentile columns.
	PercentileAccuracy float64
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			HighTemperature: 80,
			HighVibration:   5.0,
		},
		PercentileAccuracy: 0.01,
	}
}

// Engine recomputes rollup records from raw readings. Recompute is a
// full regeneration of the bucket: it never increments a stored record,
// so replaying it for the same key is idempotent.
type Engine struct {
	source ReadingSource
	pub    Publisher
	cfg    Config

	recomputes atomic.Int64
	deletes    atomic.Int64
	failures   atomic.Int64
}

// NewEngine creates a rollup engine.
func NewEngine(source ReadingSource, pub Publisher, cfg Config) *Engine {
	if cfg.Thresholds.HighTemperature == 0 {
		cfg.Thresholds.HighTemperature = DefaultConfig().Thresholds.HighTemperature
	}
	if cfg.Thresholds.HighVibration == 0 {
		cfg.Thresholds.HighVibration = DefaultConfig().Thresholds.HighVibration
	}

	return &Engine{
		source: source,
		pub:    pub,
		cfg:    cfg,
	}
}

// Recompute regenerates and publishes the rollup record for one key.
// An empty bucket deletes any previously published record.
func (e *Engine) Recompute(ctx context.Context, key types.RefreshKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := key.BucketStart
	end := start + key.Granularity.DurationMs()

	readings, err := e.source.ReadRange(key.MachineID, start, end)
	if err != nil {
		e.failures.Add(1)
		return fmt.Errorf("read bucket %s: %w", key.String(), err)
	}

	record := e.Compute(key, readings)

	if record.IsEmpty() {
		if err := e.pub.Delete(ctx, key.MachineID, key.BucketStart, key.Granularity); err != nil {
			e.failures.Add(1)
			return fmt.Errorf("delete rollup %s: %w", key.String(), err)
		}
		e.deletes.Add(1)
		return nil
	}

	if err := e.pub.Replace(ctx, record); err != nil {
		e.failures.Add(1)
		return fmt.Errorf("publish rollup %s: %w", key.String(), err)
	}

	e.recomputes.Add(1)

	logging.Component("rollup").Debug("recomputed bucket",
		"key", key.String(),
		"readings", record.ReadingCount)

	return nil
}

// Compute builds a rollup record from a bucket's readings without
// publishing it.
func (e *Engine) Compute(key types.RefreshKey, readings []types.Reading) *types.RollupRecord {
	record := &types.RollupRecord{
		MachineID:    key.MachineID,
		ClientID:     key.ClientID,
		BucketStart:  key.BucketStart,
		Granularity:  key.Granularity,
		ComputedAtMs: time.Now().UnixMilli(),
	}

	temp := NewFieldStats(e.cfg.PercentileAccuracy)
	vib := NewFieldStats(e.cfg.PercentileAccuracy)
	power := NewFieldStats(0)

	for i := range readings {
		r := &readings[i]
		record.ReadingCount++

		if record.ClientID == "" {
			record.ClientID = r.ClientID
		}

		if r.Temperature != nil {
			temp.Add(*r.Temperature)
			if *r.Temperature > e.cfg.Thresholds.HighTemperature {
				record.HighTempCount++
			}
		}

		if r.Vibration != nil {
			vib.Add(*r.Vibration)
			if *r.Vibration > e.cfg.Thresholds.HighVibration {
				record.HighVibCount++
			}
		}

		if r.Power != nil {
			power.Add(*r.Power)
		}
	}

	record.TempAvg = temp.Avg()
	record.TempMin = temp.Min()
	record.TempMax = temp.Max()
	record.TempStddev = temp.Stddev()
	record.TempP50 = temp.Percentile(0.50)
	record.TempP95 = temp.Percentile(0.95)
	record.TempP99 = temp.Percentile(0.99)

	record.VibAvg = vib.Avg()
	record.VibMax = vib.Max()
	record.VibStddev = vib.Stddev()
	record.VibP50 = vib.Percentile(0.50)
	record.VibP95 = vib.Percentile(0.95)
	record.VibP99 = vib.Percentile(0.99)

	record.PowerAvg = power.Avg()
	record.PowerMax = power.Max()
	record.PowerStddev = power.Stddev()

	return record
}

// Stats returns engine counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Recomputes: e.recomputes.Load(),
		Deletes:    e.deletes.Load(),
		Failures:   e.failures.Load(),
	}
}

// EngineStats holds rollup engine counters.
type EngineStats struct {
	Recomputes int64
	Deletes    int64
	Failures   int64
}
