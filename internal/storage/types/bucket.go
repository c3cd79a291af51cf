package types

import (
	"fmt"
	"time"
)

// Granularity is the time-aggregation granularity used to key a rollup.
type Granularity int

const (
	// GranularityHourly buckets readings into one-hour windows. Hourly
	// buckets coincide with chunks, the unit of retention deletion.
	GranularityHourly Granularity = iota
	// GranularityDaily buckets readings into one-day windows (UTC).
	GranularityDaily
)

// AllGranularities returns the granularities maintained by the rollup engine.
func AllGranularities() []Granularity {
	return []Granularity{GranularityHourly, GranularityDaily}
}

// String returns a human-readable representation of the Granularity.
func (g Granularity) String() string {
	switch g {
	case GranularityHourly:
		return "hourly"
	case GranularityDaily:
		return "daily"
	default:
		return "unknown"
	}
}

// DurationMs returns the bucket width in milliseconds.
func (g Granularity) DurationMs() int64 {
	switch g {
	case GranularityDaily:
		return 24 * time.Hour.Milliseconds()
	default:
		return time.Hour.Milliseconds()
	}
}

// ParseGranularity parses a granularity string.
func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "hourly", "hour", "":
		return GranularityHourly, nil
	case "daily", "day":
		return GranularityDaily, nil
	default:
		return GranularityHourly, fmt.Errorf("unknown granularity: %s", s)
	}
}

// BucketStartMs returns the start of the bucket covering the timestamp.
func BucketStartMs(timestampMs int64, g Granularity) int64 {
	width := g.DurationMs()
	start := (timestampMs / width) * width
	if timestampMs < 0 && timestampMs%width != 0 {
		start -= width
	}
	return start
}

// BucketEndMs returns the exclusive end of the bucket covering the timestamp.
func BucketEndMs(timestampMs int64, g Granularity) int64 {
	return BucketStartMs(timestampMs, g) + g.DurationMs()
}

// RefreshKey identifies one pending or in-flight rollup recomputation.
// The coordinator guarantees at most one in-flight recompute per key.
type RefreshKey struct {
	MachineID   string
	ClientID    string
	BucketStart int64
	Granularity Granularity
}

// String returns a compact representation for logging.
func (k RefreshKey) String() string {
	return fmt.Sprintf("%s/%s@%d", k.MachineID, k.Granularity, k.BucketStart)
}

// Keys derives the refresh keys affected by a write event, one per
// granularity.
func (e WriteEvent) Keys() []RefreshKey {
	keys := make([]RefreshKey, 0, 2)
	for _, g := range AllGranularities() {
		keys = append(keys, RefreshKey{
			MachineID:   e.MachineID,
			ClientID:    e.ClientID,
			BucketStart: BucketStartMs(e.TimestampMs, g),
			Granularity: g,
		})
	}
	return keys
}
