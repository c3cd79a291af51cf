package chunk

import (
	"sync"
	"time"

	"github.com/aispark/pdmcore/internal/storage/types"
)

// hourLayout is the filename layout for sealed chunk files.
const hourLayout = "2006-01-02_15"

// Chunk buffers the unpersisted readings of a single UTC hour. Readings
// already sealed to a Parquet file are not held here; a chunk re-opened
// by a late arrival contains only the delta since the last seal.
type Chunk struct {
	mu sync.RWMutex

	// HourStart is the chunk's hour boundary in Unix milliseconds.
	hourStart int64

	readings []types.Reading
}

// newChunk creates an empty chunk for the given hour.
func newChunk(hourStartMs int64) *Chunk {
	return &Chunk{
		hourStart: hourStartMs,
		readings:  make([]types.Reading, 0, 256),
	}
}

// HourStart returns the chunk's hour boundary in Unix milliseconds.
func (c *Chunk) HourStart() int64 {
	return c.hourStart
}

// HourEnd returns the chunk's exclusive end in Unix milliseconds.
func (c *Chunk) HourEnd() int64 {
	return c.hourStart + time.Hour.Milliseconds()
}

// Append adds a reading to the chunk.
func (c *Chunk) Append(r types.Reading) {
	c.mu.Lock()
	c.readings = append(c.readings, r)
	c.mu.Unlock()
}

// Len returns the number of buffered readings.
func (c *Chunk) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.readings)
}

// Snapshot returns a copy of the buffered readings.
func (c *Chunk) Snapshot() []types.Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.Reading, len(c.readings))
	copy(out, c.readings)
	return out
}

// FileName returns the sealed file name for the chunk's hour.
func (c *Chunk) FileName() string {
	return FileNameForHour(c.hourStart)
}

// FileNameForHour returns the sealed file name for an hour boundary.
func FileNameForHour(hourStartMs int64) string {
	return time.UnixMilli(hourStartMs).UTC().Format(hourLayout) + ".parquet"
}

// ParseFileName parses a sealed chunk file name into its hour boundary.
// Returns false if the name is not a chunk file.
func ParseFileName(name string) (int64, bool) {
	const suffix = ".parquet"
	if len(name) != len(hourLayout)+len(suffix) || name[len(name)-len(suffix):] != suffix {
		return 0, false
	}

	t, err := time.ParseInLocation(hourLayout, name[:len(name)-len(suffix)], time.UTC)
	if err != nil {
		return 0, false
	}

	return t.UnixMilli(), true
}
