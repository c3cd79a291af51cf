package types

import "time"

// RollupRecord represents aggregated statistics for one (machine, bucket)
// pair at one granularity. It is derived state: never written directly by
// producers, always regenerated from the bucket's readings, and published
// with an atomic replace.
type RollupRecord struct {
	// Identity
	MachineID   string
	ClientID    string
	BucketStart int64 // Unix timestamp in milliseconds
	Granularity Granularity

	// Basic statistics
	ReadingCount int64

	// Temperature statistics (nil when no reading carried the field)
	TempAvg    *float64
	TempMin    *float64
	TempMax    *float64
	TempStddev *float64
	TempP50    *float64
	TempP95    *float64
	TempP99    *float64

	// Vibration statistics
	VibAvg    *float64
	VibMax    *float64
	VibStddev *float64
	VibP50    *float64
	VibP95    *float64
	VibP99    *float64

	// Power statistics
	PowerAvg    *float64
	PowerMax    *float64
	PowerStddev *float64

	// Threshold exceedance counts against the configured policy
	HighTempCount int64
	HighVibCount  int64

	// ComputedAtMs is when the rollup engine published this record.
	ComputedAtMs int64
}

// BucketStartTime returns the bucket start as a time.Time.
func (r *RollupRecord) BucketStartTime() time.Time {
	return time.UnixMilli(r.BucketStart)
}

// BucketEnd returns the exclusive bucket end in milliseconds.
func (r *RollupRecord) BucketEnd() int64 {
	return r.BucketStart + r.Granularity.DurationMs()
}

// Key returns the refresh key this record belongs to.
func (r *RollupRecord) Key() RefreshKey {
	return RefreshKey{
		MachineID:   r.MachineID,
		ClientID:    r.ClientID,
		BucketStart: r.BucketStart,
		Granularity: r.Granularity,
	}
}

// IsEmpty returns true if no readings were aggregated.
func (r *RollupRecord) IsEmpty() bool {
	return r.ReadingCount == 0
}
