package parquet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/aispark/pdmcore/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for algorithms that support it (zstd: 1-22)
	CompressionLevel int

	// RowGroupSize is the target number of rows per row group
	RowGroupSize int

	// PageSize is the target page size in bytes
	PageSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionZstd,
		CompressionLevel: 3,
		RowGroupSize:     100000,
		PageSize:         1024 * 1024, // 1MB
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// ReadingRow represents a reading in Parquet format. Custom and Raw are
// stored as JSON strings so DuckDB can project into them with
// json_extract.
type ReadingRow struct {
	ClientID     string   `parquet:"client_id,zstd"`
	MachineID    string   `parquet:"machine_id,zstd"`
	SensorType   string   `parquet:"sensor_type,zstd"`
	TimestampMs  int64    `parquet:"timestamp_ms"`
	Temperature  *float64 `parquet:"temperature,optional"`
	Vibration    *float64 `parquet:"vibration,optional"`
	Power        *float64 `parquet:"power,optional"`
	Pressure     *float64 `parquet:"pressure,optional"`
	Speed        *float64 `parquet:"speed,optional"`
	Efficiency   *float64 `parquet:"efficiency,optional"`
	Custom       string   `parquet:"custom,optional,zstd"`
	Raw          string   `parquet:"raw,optional,zstd"`
	RecordedAtMs int64    `parquet:"recorded_at_ms"`
}

// ReadingToRow converts a Reading to a ReadingRow.
func ReadingToRow(r *types.Reading) ReadingRow {
	row := ReadingRow{
		ClientID:     r.ClientID,
		MachineID:    r.MachineID,
		SensorType:   r.SensorType,
		TimestampMs:  r.TimestampMs,
		Temperature:  r.Temperature,
		Vibration:    r.Vibration,
		Power:        r.Power,
		Pressure:     r.Pressure,
		Speed:        r.Speed,
		Efficiency:   r.Efficiency,
		Raw:          string(r.Raw),
		RecordedAtMs: r.RecordedAtMs,
	}

	if len(r.Custom) > 0 {
		if data, err := json.Marshal(r.Custom); err == nil {
			row.Custom = string(data)
		}
	}

	return row
}

// RowToReading converts a ReadingRow to a Reading.
func RowToReading(row *ReadingRow) types.Reading {
	r := types.Reading{
		ClientID:     row.ClientID,
		MachineID:    row.MachineID,
		SensorType:   row.SensorType,
		TimestampMs:  row.TimestampMs,
		Temperature:  row.Temperature,
		Vibration:    row.Vibration,
		Power:        row.Power,
		Pressure:     row.Pressure,
		Speed:        row.Speed,
		Efficiency:   row.Efficiency,
		RecordedAtMs: row.RecordedAtMs,
	}

	if row.Custom != "" {
		var custom map[string]float64
		if err := json.Unmarshal([]byte(row.Custom), &custom); err == nil {
			r.Custom = custom
		}
	}

	if row.Raw != "" {
		r.Raw = json.RawMessage(row.Raw)
	}

	return r
}

// ReadingWriter writes readings to a Parquet file.
type ReadingWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[ReadingRow]
	rowCount int64
	closed   bool
}

// NewReadingWriter creates a new reading Parquet writer.
func NewReadingWriter(path string, opts Options) (*ReadingWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}

	writer := parquet.NewGenericWriter[ReadingRow](f, writerOpts...)

	return &ReadingWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes readings to the Parquet file.
func (w *ReadingWriter) Write(readings []types.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]ReadingRow, len(readings))
	for i := range readings {
		rows[i] = ReadingToRow(&readings[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close closes the writer.
func (w *ReadingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *ReadingWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *ReadingWriter) Path() string {
	return w.path
}

// WriteReadings writes readings to a new Parquet file in a single call.
func WriteReadings(path string, readings []types.Reading, opts Options) error {
	w, err := NewReadingWriter(path, opts)
	if err != nil {
		return err
	}

	if err := w.Write(readings); err != nil {
		w.Close()
		return err
	}

	return w.Close()
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
