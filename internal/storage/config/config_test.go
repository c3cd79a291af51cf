package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir == "" {
		t.Error("expected default data_dir")
	}

	if cfg.Rollup.Thresholds.HighTemperature != 80 {
		t.Errorf("expected high_temperature=80, got %g", cfg.Rollup.Thresholds.HighTemperature)
	}

	if cfg.Rollup.Thresholds.HighVibration != 5.0 {
		t.Errorf("expected high_vibration=5.0, got %g", cfg.Rollup.Thresholds.HighVibration)
	}

	if cfg.Retention.Raw != 2*365*24*time.Hour {
		t.Errorf("expected 2y raw retention, got %v", cfg.Retention.Raw)
	}

	if cfg.Refresh.Workers <= 0 {
		t.Error("expected positive refresh workers")
	}

	bp := cfg.Ingest.Backpressure
	if !bp.Enabled {
		t.Error("expected backpressure enabled by default")
	}
	if bp.MaxBufferedReadings <= 0 {
		t.Error("expected positive max_buffered_readings")
	}
	if !(bp.Thresholds.Warning < bp.Thresholds.Critical &&
		bp.Thresholds.Critical < bp.Thresholds.Emergency) {
		t.Errorf("thresholds not ordered: %+v", bp.Thresholds)
	}
}

func TestConfigValidate(t *testing.T) {
	// Valid config
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}

	// Invalid: empty data_dir
	cfg = DefaultConfig()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty data_dir")
	}

	// Invalid: zero workers
	cfg = DefaultConfig()
	cfg.Refresh.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero refresh workers")
	}

	// Invalid: bad compression algorithm
	cfg = DefaultConfig()
	cfg.Ingest.Flush.Compression = "invalid"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid compression algorithm")
	}

	// Invalid: backpressure thresholds out of order
	cfg = DefaultConfig()
	cfg.Ingest.Backpressure.Thresholds.Warning = 0.9
	cfg.Ingest.Backpressure.Thresholds.Critical = 0.8
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unordered backpressure thresholds")
	}

	// Invalid: hysteresis at or above warning threshold
	cfg = DefaultConfig()
	cfg.Ingest.Backpressure.Hysteresis = cfg.Ingest.Backpressure.Thresholds.Warning
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for hysteresis >= warning threshold")
	}

	// Disabled backpressure skips its bounds checks
	cfg = DefaultConfig()
	cfg.Ingest.Backpressure.Enabled = false
	cfg.Ingest.Backpressure.MaxBufferedReadings = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled backpressure should not be validated: %v", err)
	}
}

func TestRetentionValidation(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Retention.Validate(); err != nil {
		t.Errorf("valid retention should pass: %v", err)
	}

	// Invalid: daily < hourly
	cfg.Retention.Hourly = 48 * time.Hour
	cfg.Retention.Daily = 24 * time.Hour
	if err := cfg.Retention.Validate(); err == nil {
		t.Error("expected error when daily < hourly")
	}

	// Zero anomaly retention means keep forever, which is valid
	cfg = DefaultConfig()
	cfg.Retention.Anomalies = 0
	if err := cfg.Retention.Validate(); err != nil {
		t.Errorf("zero anomaly retention should be valid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	configContent := `
data_dir: /tmp/test-pdmcore
scale:
  machine_count: 200
  reading_interval_sec: 30
ingest:
  wal:
    sync_mode: async
    sync_interval: 1s
    max_segment_size: 104857600
  flush:
    interval: 30s
    active_window: 5m
    compression: snappy
retention:
  raw: 17520h
  hourly: 17520h
  daily: 43800h
  sweep_interval: 1h
rollup:
  thresholds:
    high_temperature: 75
    high_vibration: 4.5
  percentile:
    enabled: false
    accuracy: 0.01
refresh:
  debounce: 500ms
  workers: 8
  queue_size: 1024
  retry_delay: 5s
query:
  memory_limit: 1GB
  timeout: 15s
  max_rows: 500000
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DataDir != "/tmp/test-pdmcore" {
		t.Errorf("expected data_dir=/tmp/test-pdmcore, got %s", cfg.DataDir)
	}

	if cfg.Scale.MachineCount != 200 {
		t.Errorf("expected machine_count=200, got %d", cfg.Scale.MachineCount)
	}

	if cfg.Rollup.Thresholds.HighTemperature != 75 {
		t.Errorf("expected high_temperature=75, got %g", cfg.Rollup.Thresholds.HighTemperature)
	}

	if cfg.Rollup.Percentile.Enabled {
		t.Error("expected percentile disabled")
	}

	if cfg.Refresh.Workers != 8 {
		t.Errorf("expected workers=8, got %d", cfg.Refresh.Workers)
	}

	if cfg.Ingest.Flush.Compression != "snappy" {
		t.Errorf("expected compression=snappy, got %s", cfg.Ingest.Flush.Compression)
	}
}

func TestLoadConfigInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestCalculateRequirements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scale.MachineCount = 3000
	cfg.Scale.ReadingIntervalSec = 30

	req := cfg.CalculateRequirements()

	// Expected: 3000 / 30 = 100 readings/sec
	if req.ReadingsPerSecond != 100 {
		t.Errorf("expected 100 readings/sec, got %d", req.ReadingsPerSecond)
	}

	if req.ChunkBufferBytes <= 0 {
		t.Error("expected positive chunk buffer bytes")
	}

	if req.TotalStorageBytes <= 0 {
		t.Error("expected positive total storage bytes")
	}

	if req.RecommendedCPUCores <= 0 {
		t.Error("expected positive CPU cores")
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"1GB", 1 * 1024 * 1024 * 1024},
		{"2GB", 2 * 1024 * 1024 * 1024},
		{"512MB", 512 * 1024 * 1024},
		{"1024KB", 1024 * 1024},
		{"", 2 * 1024 * 1024 * 1024}, // Default
	}

	for _, tt := range tests {
		result := parseMemoryLimit(tt.input)
		if result != tt.expected {
			t.Errorf("parseMemoryLimit(%s): expected %d, got %d", tt.input, tt.expected, result)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{500, "500 B"},
		{1024, "1.00 KB"},
		{1024 * 1024, "1.00 MB"},
		{1024 * 1024 * 1024, "1.00 GB"},
		{1024 * 1024 * 1024 * 1024, "1.00 TB"},
	}

	for _, tt := range tests {
		result := formatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("formatBytes(%d): expected %s, got %s", tt.input, tt.expected, result)
		}
	}
}

func TestDirectoryHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/pdmcore"

	if cfg.WALDir() != "/data/pdmcore/wal" {
		t.Errorf("unexpected wal dir: %s", cfg.WALDir())
	}

	cfg.Ingest.WAL.Dir = "/custom/wal"
	if cfg.WALDir() != "/custom/wal" {
		t.Errorf("expected /custom/wal, got %s", cfg.WALDir())
	}

	if cfg.ChunkDir() != "/data/pdmcore/chunks" {
		t.Errorf("unexpected chunk dir: %s", cfg.ChunkDir())
	}

	if cfg.MetastorePath() != "/data/pdmcore/metastore.db" {
		t.Errorf("unexpected metastore path: %s", cfg.MetastorePath())
	}

	cfg.Metastore.Path = "/db/meta.db"
	if cfg.MetastorePath() != "/db/meta.db" {
		t.Errorf("expected /db/meta.db, got %s", cfg.MetastorePath())
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(tmpDir, "storage")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	dirs := []string{
		cfg.DataDir,
		cfg.WALDir(),
		cfg.ChunkDir(),
	}

	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("directory %s not created: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
