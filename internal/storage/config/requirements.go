package config

import (
	"fmt"
	"time"
)

// Requirements represents calculated resource requirements.
type Requirements struct {
	// Memory requirements
	ChunkBufferBytes  int64
	RollupStateBytes  int64
	QueryCacheBytes   int64
	TotalRAMBytes     int64

	// Storage requirements
	RawStorageBytes    int64
	HourlyStorageBytes int64
	DailyStorageBytes  int64
	TotalStorageBytes  int64

	// Throughput
	ReadingsPerSecond int64
	BytesPerSecond    int64
	RollupsPerDay     int64

	// CPU estimate
	RecommendedCPUCores int
}

// Constants for calculations
const (
	// Bytes per reading (in-memory, typical field population)
	bytesPerReading = 160

	// Bytes per rollup accumulator (in-memory, without DDSketch)
	bytesPerRollupState = 200

	// Bytes per rollup accumulator (in-memory, with DDSketch)
	bytesPerRollupStateWithSketch = 500

	// Bytes per reading in Parquet (compressed)
	bytesPerReadingCompressed = 40

	// Bytes per rollup row in the metastore
	bytesPerRollupRow = 180
)

// CalculateRequirements computes resource requirements based on configuration.
func (c *Config) CalculateRequirements() Requirements {
	r := Requirements{}

	// Readings per second
	r.ReadingsPerSecond = int64(c.Scale.MachineCount) / int64(c.Scale.ReadingIntervalSec)
	if r.ReadingsPerSecond == 0 {
		r.ReadingsPerSecond = 1
	}

	// Raw bytes per second (uncompressed)
	r.BytesPerSecond = r.ReadingsPerSecond * bytesPerReading

	// -------------------------------------------------------------------------
	// Memory Requirements
	// -------------------------------------------------------------------------

	// Open chunk memory: readings buffered for one hour plus the active
	// window before sealing.
	bufferedSec := int64((time.Hour + c.Ingest.Flush.ActiveWindow) / time.Second)
	r.ChunkBufferBytes = r.ReadingsPerSecond * bufferedSec * bytesPerReading

	// Rollup accumulator memory: one hourly and one daily accumulator per
	// machine during recompute.
	perState := int64(bytesPerRollupState)
	if c.Rollup.Percentile.Enabled {
		perState = bytesPerRollupStateWithSketch
	}
	r.RollupStateBytes = int64(c.Scale.MachineCount) * perState * 2

	// Query cache (from config or default)
	r.QueryCacheBytes = parseMemoryLimit(c.Query.MemoryLimit)

	// Total RAM, plus 2GB for OS and Go runtime
	r.TotalRAMBytes = r.ChunkBufferBytes + r.RollupStateBytes + r.QueryCacheBytes
	r.TotalRAMBytes += 2 * 1024 * 1024 * 1024

	// -------------------------------------------------------------------------
	// Storage Requirements
	// -------------------------------------------------------------------------

	readingsPerDay := r.ReadingsPerSecond * 86400

	// Raw chunks: readings * retention
	rawRetentionDays := float64(c.Retention.Raw) / float64(24*time.Hour)
	r.RawStorageBytes = int64(float64(readingsPerDay) * bytesPerReadingCompressed * rawRetentionDays)

	// Hourly rollups: 24 buckets per day * machines * retention
	hourlyRetentionDays := float64(c.Retention.Hourly) / float64(24*time.Hour)
	r.HourlyStorageBytes = int64(float64(24*int64(c.Scale.MachineCount)) * bytesPerRollupRow * hourlyRetentionDays)

	// Daily rollups: 1 bucket per day * machines * retention
	dailyRetentionDays := float64(c.Retention.Daily) / float64(24*time.Hour)
	r.DailyStorageBytes = int64(float64(int64(c.Scale.MachineCount)) * bytesPerRollupRow * dailyRetentionDays)

	r.TotalStorageBytes = r.RawStorageBytes + r.HourlyStorageBytes + r.DailyStorageBytes

	// -------------------------------------------------------------------------
	// CPU Requirements
	// -------------------------------------------------------------------------

	// Rough estimate: 1 core per 100k readings/sec for ingestion, plus the
	// refresh worker pool.
	ingestCores := int(r.ReadingsPerSecond/100000) + 1
	r.RecommendedCPUCores = ingestCores + c.Refresh.Workers

	// Rollups per day
	r.RollupsPerDay = 25 * int64(c.Scale.MachineCount)

	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	return fmt.Sprintf(`Resource Requirements
=====================

Throughput:
  Readings/sec:      %s
  Bytes/sec:         %s
  Rollups/day:       %s

Memory:
  Chunk Buffer:      %s
  Rollup State:      %s
  Query Cache:       %s
  Total RAM:         %s (recommended)

Storage:
  Raw Chunks:        %s
  Hourly Rollups:    %s
  Daily Rollups:     %s
  Total Storage:     %s (recommended)

CPU:
  Recommended Cores: %d
`,
		formatNumber(r.ReadingsPerSecond),
		formatBytes(r.BytesPerSecond),
		formatNumber(r.RollupsPerDay),
		formatBytes(r.ChunkBufferBytes),
		formatBytes(r.RollupStateBytes),
		formatBytes(r.QueryCacheBytes),
		formatBytes(r.TotalRAMBytes),
		formatBytes(r.RawStorageBytes),
		formatBytes(r.HourlyStorageBytes),
		formatBytes(r.DailyStorageBytes),
		formatBytes(r.TotalStorageBytes),
		r.RecommendedCPUCores,
	)
}

// parseMemoryLimit parses a memory limit string like "2GB" into bytes.
func parseMemoryLimit(s string) int64 {
	if s == "" {
		return 2 * 1024 * 1024 * 1024 // Default 2GB
	}

	var value int64
	var unit string
	_, err := fmt.Sscanf(s, "%d%s", &value, &unit)
	if err != nil {
		// Try without space
		for i, c := range s {
			if c < '0' || c > '9' {
				fmt.Sscanf(s[:i], "%d", &value)
				unit = s[i:]
				break
			}
		}
	}

	switch unit {
	case "B", "b", "":
		return value
	case "KB", "kb", "K", "k":
		return value * 1024
	case "MB", "mb", "M", "m":
		return value * 1024 * 1024
	case "GB", "gb", "G", "g":
		return value * 1024 * 1024 * 1024
	case "TB", "tb", "T", "t":
		return value * 1024 * 1024 * 1024 * 1024
	default:
		return value
	}
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}
