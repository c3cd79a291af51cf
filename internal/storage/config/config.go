package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pdmcore configuration.
type Config struct {
	// DataDir is the root directory for all storage files.
	DataDir string `yaml:"data_dir"`

	// Metastore configures the entity and rollup database.
	Metastore MetastoreConfig `yaml:"metastore"`

	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Scale defines the expected load parameters, used for capacity
	// planning.
	Scale ScaleConfig `yaml:"scale"`

	// Ingest configures the append pipeline.
	Ingest IngestConfig `yaml:"ingest"`

	// Retention defines how long to keep data.
	Retention RetentionConfig `yaml:"retention"`

	// Rollup configures aggregate computation.
	Rollup RollupConfig `yaml:"rollup"`

	// Refresh configures the refresh coordinator.
	Refresh RefreshConfig `yaml:"refresh"`

	// Query configures the query service.
	Query QueryConfig `yaml:"query"`
}

// MetastoreConfig configures the entity and rollup database.
type MetastoreConfig struct {
	// Path is the DuckDB database file. Defaults to {DataDir}/metastore.db.
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches output to JSON format.
	JSON bool `yaml:"json"`
}

// ScaleConfig defines the expected load parameters.
type ScaleConfig struct {
	// MachineCount is the expected number of reporting machines.
	MachineCount int `yaml:"machine_count"`

	// ReadingIntervalSec is the expected reporting interval per machine.
	ReadingIntervalSec int `yaml:"reading_interval_sec"`
}

// IngestConfig configures the append pipeline.
type IngestConfig struct {
	// WAL configures the Write-Ahead Log.
	WAL WALConfig `yaml:"wal"`

	// Flush configures chunk sealing behavior.
	Flush FlushConfig `yaml:"flush"`

	// Backpressure configures overload shedding on the append path.
	Backpressure BackpressureConfig `yaml:"backpressure"`
}

// BackpressureConfig configures overload shedding on the append path.
// Utilization is buffered readings over MaxBufferedReadings.
type BackpressureConfig struct {
	// Enabled turns the controller on.
	Enabled bool `yaml:"enabled"`

	// MaxBufferedReadings is the buffered-reading count treated as 100%
	// utilization.
	MaxBufferedReadings int `yaml:"max_buffered_readings"`

	// Thresholds are the utilization ratios for each level.
	Thresholds BackpressureThresholds `yaml:"thresholds"`

	// Hysteresis is the ratio the utilization must fall below a
	// threshold before the level drops back.
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between level re-evaluations.
	Cooldown time.Duration `yaml:"cooldown"`
}

// BackpressureThresholds are the per-level utilization ratios.
type BackpressureThresholds struct {
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
	Emergency float64 `yaml:"emergency"`
}

// WALConfig configures the Write-Ahead Log.
type WALConfig struct {
	// Dir is the WAL directory. Defaults to {DataDir}/wal.
	Dir string `yaml:"dir"`

	// SyncMode is the sync mode: async, sync, fsync.
	SyncMode string `yaml:"sync_mode"`

	// SyncInterval is the sync interval for async mode.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// MaxSegmentSize is the maximum segment size before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// FlushConfig configures chunk sealing behavior.
type FlushConfig struct {
	// Interval is how often sealed chunks are flushed to disk.
	Interval time.Duration `yaml:"interval"`

	// ActiveWindow is how long a chunk stays open in memory past its
	// hour end, to absorb late arrivals before sealing.
	ActiveWindow time.Duration `yaml:"active_window"`

	// Compression is the Parquet compression algorithm: snappy, zstd,
	// lz4, none.
	Compression string `yaml:"compression"`

	// CompressionLevel is the compression level (for zstd: 1-22).
	CompressionLevel int `yaml:"compression_level"`
}

// RetentionConfig defines how long to keep data. A zero duration for
// anomalies or alerts means keep forever.
type RetentionConfig struct {
	// Raw is the retention for raw reading chunks.
	Raw time.Duration `yaml:"raw"`

	// Hourly is the retention for hourly rollup rows.
	Hourly time.Duration `yaml:"hourly"`

	// Daily is the retention for daily rollup rows.
	Daily time.Duration `yaml:"daily"`

	// Anomalies is the retention for anomaly rows. Zero keeps forever.
	Anomalies time.Duration `yaml:"anomalies"`

	// Alerts is the retention for alert rows. Zero keeps forever.
	Alerts time.Duration `yaml:"alerts"`

	// SweepInterval is how often the retention enforcer runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RollupConfig configures aggregate computation.
type RollupConfig struct {
	// Thresholds are the exceedance-count policy inputs.
	Thresholds ThresholdConfig `yaml:"thresholds"`

	// Percentile configures DDSketch percentile calculation.
	Percentile PercentileConfig `yaml:"percentile"`
}

// ThresholdConfig defines the exceedance thresholds counted per bucket.
type ThresholdConfig struct {
	// HighTemperature is the high-temperature threshold.
	HighTemperature float64 `yaml:"high_temperature"`

	// HighVibration is the high-vibration threshold.
	HighVibration float64 `yaml:"high_vibration"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// RefreshConfig configures the refresh coordinator.
type RefreshConfig struct {
	// Debounce is how long the coordinator coalesces events for the same
	// (machine, bucket) before dispatching a recompute.
	Debounce time.Duration `yaml:"debounce"`

	// Workers is the recompute worker pool size.
	Workers int `yaml:"workers"`

	// QueueSize is the buffered event queue size. Appends never block on
	// recomputation; overflow spills into the pending set directly.
	QueueSize int `yaml:"queue_size"`

	// RetryDelay is how long a failed recompute waits before re-dispatch.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/pdmcore",
		Server: ServerConfig{
			Listen: "0.0.0.0:8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Scale: ScaleConfig{
			MachineCount:       500,
			ReadingIntervalSec: 60,
		},
		Ingest: IngestConfig{
			WAL: WALConfig{
				SyncMode:       "async",
				SyncInterval:   time.Second,
				MaxSegmentSize: 100 * 1024 * 1024, // 100MB
			},
			Flush: FlushConfig{
				Interval:         time.Minute,
				ActiveWindow:     15 * time.Minute,
				Compression:      "zstd",
				CompressionLevel: 3,
			},
			Backpressure: BackpressureConfig{
				Enabled:             true,
				MaxBufferedReadings: 500_000,
				Thresholds: BackpressureThresholds{
					Warning:   0.70,
					Critical:  0.85,
					Emergency: 0.95,
				},
				Hysteresis: 0.05,
				Cooldown:   5 * time.Second,
			},
		},
		Retention: RetentionConfig{
			Raw:           2 * 365 * 24 * time.Hour,
			Hourly:        2 * 365 * 24 * time.Hour,
			Daily:         5 * 365 * 24 * time.Hour,
			Anomalies:     0,
			Alerts:        0,
			SweepInterval: 24 * time.Hour,
		},
		Rollup: RollupConfig{
			Thresholds: ThresholdConfig{
				HighTemperature: 80,
				HighVibration:   5.0,
			},
			Percentile: PercentileConfig{
				Enabled:  true,
				Accuracy: 0.01,
			},
		},
		Refresh: RefreshConfig{
			Debounce:   2 * time.Second,
			Workers:    4,
			QueueSize:  4096,
			RetryDelay: 10 * time.Second,
		},
		Query: QueryConfig{
			MemoryLimit: "2GB",
			Timeout:     30 * time.Second,
			MaxRows:     1000000,
		},
	}
}
