package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// DataDir
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	// Scale
	if err := c.Scale.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scale: %w", err))
	}

	// Ingest
	if err := c.Ingest.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingest: %w", err))
	}

	// Retention
	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	// Rollup
	if err := c.Rollup.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rollup: %w", err))
	}

	// Refresh
	if err := c.Refresh.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("refresh: %w", err))
	}

	// Query
	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the scale configuration.
func (c *ScaleConfig) Validate() error {
	var errs []error

	if c.MachineCount <= 0 {
		errs = append(errs, errors.New("machine_count must be positive"))
	}

	if c.ReadingIntervalSec <= 0 {
		errs = append(errs, errors.New("reading_interval_sec must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the ingest configuration.
func (c *IngestConfig) Validate() error {
	var errs []error

	// WAL
	validSyncModes := map[string]bool{
		"async": true,
		"sync":  true,
		"fsync": true,
		"":      true, // Empty defaults to async
	}
	if !validSyncModes[c.WAL.SyncMode] {
		errs = append(errs, errors.New("wal.sync_mode must be one of: async, sync, fsync"))
	}

	if c.WAL.SyncMode == "async" && c.WAL.SyncInterval <= 0 {
		errs = append(errs, errors.New("wal.sync_interval must be positive for async mode"))
	}

	if c.WAL.MaxSegmentSize < 0 {
		errs = append(errs, errors.New("wal.max_segment_size must be non-negative"))
	}

	// Flush
	if c.Flush.Interval <= 0 {
		errs = append(errs, errors.New("flush.interval must be positive"))
	}

	if c.Flush.ActiveWindow < 0 {
		errs = append(errs, errors.New("flush.active_window must be non-negative"))
	}

	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Flush.Compression] {
		errs = append(errs, errors.New("flush.compression must be one of: snappy, zstd, lz4, none"))
	}

	if c.Flush.Compression == "zstd" && (c.Flush.CompressionLevel < 0 || c.Flush.CompressionLevel > 22) {
		errs = append(errs, errors.New("flush.compression_level for zstd must be between 0 and 22"))
	}

	// Backpressure
	if c.Backpressure.Enabled {
		t := c.Backpressure.Thresholds
		if c.Backpressure.MaxBufferedReadings <= 0 {
			errs = append(errs, errors.New("backpressure.max_buffered_readings must be positive"))
		}
		if t.Warning <= 0 || t.Warning >= t.Critical || t.Critical >= t.Emergency || t.Emergency > 1 {
			errs = append(errs, errors.New("backpressure.thresholds must satisfy 0 < warning < critical < emergency <= 1"))
		}
		if c.Backpressure.Hysteresis < 0 || c.Backpressure.Hysteresis >= t.Warning {
			errs = append(errs, errors.New("backpressure.hysteresis must be non-negative and below the warning threshold"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.Raw <= 0 {
		errs = append(errs, errors.New("raw retention must be positive"))
	}

	if c.Hourly <= 0 {
		errs = append(errs, errors.New("hourly retention must be positive"))
	}

	if c.Daily <= 0 {
		errs = append(errs, errors.New("daily retention must be positive"))
	}

	// Coarser rollups must outlive finer ones
	if c.Daily < c.Hourly {
		errs = append(errs, errors.New("daily retention should be >= hourly retention"))
	}

	if c.Anomalies < 0 {
		errs = append(errs, errors.New("anomalies retention must be non-negative (0 keeps forever)"))
	}

	if c.Alerts < 0 {
		errs = append(errs, errors.New("alerts retention must be non-negative (0 keeps forever)"))
	}

	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the rollup configuration.
func (c *RollupConfig) Validate() error {
	var errs []error

	if c.Thresholds.HighTemperature == 0 {
		errs = append(errs, errors.New("thresholds.high_temperature is required"))
	}

	if c.Thresholds.HighVibration == 0 {
		errs = append(errs, errors.New("thresholds.high_vibration is required"))
	}

	if c.Percentile.Enabled {
		if c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy > 1 {
			errs = append(errs, errors.New("percentile.accuracy must be between 0 and 1"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the refresh configuration.
func (c *RefreshConfig) Validate() error {
	var errs []error

	if c.Debounce <= 0 {
		errs = append(errs, errors.New("debounce must be positive"))
	}

	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}

	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("queue_size must be positive"))
	}

	if c.RetryDelay <= 0 {
		errs = append(errs, errors.New("retry_delay must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.WALDir(),
		c.ChunkDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// WALDir returns the WAL directory path.
func (c *Config) WALDir() string {
	if c.Ingest.WAL.Dir != "" {
		return c.Ingest.WAL.Dir
	}
	return filepath.Join(c.DataDir, "wal")
}

// ChunkDir returns the sealed chunk directory path.
func (c *Config) ChunkDir() string {
	return filepath.Join(c.DataDir, "chunks")
}

// MetastorePath returns the metastore database file path.
func (c *Config) MetastorePath() string {
	if c.Metastore.Path != "" {
		return c.Metastore.Path
	}
	return filepath.Join(c.DataDir, "metastore.db")
}
