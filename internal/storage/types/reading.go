package types

import (
	"encoding/json"
	"time"
)

// Reading represents a single sensor reading from a machine.
// This is the primary data unit flowing through the storage system.
// Readings are immutable once written; only RecordedAtMs is bookkeeping.
type Reading struct {
	// Identity
	ClientID   string // Owning tenant, carried redundantly for query locality
	MachineID  string // Machine that produced the reading
	SensorType string // Sensor name (e.g., "vibration", "spindle")

	// Timestamp
	TimestampMs int64 // Unix timestamp in milliseconds

	// Fixed numeric fields. Nil means the sensor did not report the field.
	Temperature *float64
	Vibration   *float64
	Power       *float64
	Pressure    *float64
	Speed       *float64
	Efficiency  *float64

	// Custom holds open-ended numeric fields keyed by name.
	Custom map[string]float64

	// Raw is the opaque original payload, if the producer supplied one.
	Raw json.RawMessage

	// RecordedAtMs is when the store accepted the reading.
	RecordedAtMs int64
}

// TimestampTime returns the timestamp as a time.Time.
func (r *Reading) TimestampTime() time.Time {
	return time.UnixMilli(r.TimestampMs)
}

// Key returns a unique identifier for this reading's series.
func (r *Reading) Key() string {
	return r.ClientID + "/" + r.MachineID + "/" + r.SensorType
}

// HourStart returns the start of the hour chunk covering the reading.
func (r *Reading) HourStart() int64 {
	return BucketStartMs(r.TimestampMs, GranularityHourly)
}

// Fields returns the present fixed numeric fields keyed by name.
func (r *Reading) Fields() map[string]float64 {
	out := make(map[string]float64, 6)
	put := func(name string, v *float64) {
		if v != nil {
			out[name] = *v
		}
	}
	put("temperature", r.Temperature)
	put("vibration", r.Vibration)
	put("power", r.Power)
	put("pressure", r.Pressure)
	put("speed", r.Speed)
	put("efficiency", r.Efficiency)
	return out
}

// ReadingBatch represents a collection of readings for batch processing.
type ReadingBatch struct {
	Readings []Reading
}

// NewReadingBatch creates a new batch with the given capacity.
func NewReadingBatch(capacity int) *ReadingBatch {
	return &ReadingBatch{
		Readings: make([]Reading, 0, capacity),
	}
}

// Add appends a reading to the batch.
func (b *ReadingBatch) Add(r Reading) {
	b.Readings = append(b.Readings, r)
}

// Len returns the number of readings in the batch.
func (b *ReadingBatch) Len() int {
	return len(b.Readings)
}

// Clear resets the batch for reuse.
func (b *ReadingBatch) Clear() {
	b.Readings = b.Readings[:0]
}
