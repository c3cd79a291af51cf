// Package query serves raw reading queries. Sealed chunks are scanned
// with DuckDB's read_parquet over a file list pruned to the requested
// hour window; unpersisted readings from open chunks are merged in so
// results are read-your-writes fresh.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/aispark/pdmcore/internal/errors"
	"github.com/aispark/pdmcore/internal/storage/chunk"
	"github.com/aispark/pdmcore/internal/storage/config"
	"github.com/aispark/pdmcore/internal/storage/types"
)

// Service provides query capabilities over stored readings.
type Service struct {
	mu sync.RWMutex

	cfg    config.QueryConfig
	db     *sql.DB
	chunks *chunk.Manager

	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	FilesScanned    int64
	Errors          int64
}

// ReadingQuery defines parameters for querying readings, scoped to one
// machine or one client. At least one of MachineID and ClientID must be
// set. Results are ordered newest first.
type ReadingQuery struct {
	MachineID  string
	ClientID   string
	SensorType string // optional filter
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// New creates a new query service backed by an in-memory DuckDB
// instance.
func New(cfg config.QueryConfig, chunks *chunk.Manager) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		cfg:    cfg,
		db:     db,
		chunks: chunks,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// QueryReadings returns the matching readings in the window, newest
// first.
func (s *Service) QueryReadings(ctx context.Context, q ReadingQuery) ([]types.Reading, error) {
	if q.MachineID == "" && q.ClientID == "" {
		return nil, errors.NewMissingField("machine_id or client_id")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	startMs := q.StartTime.UnixMilli()
	endMs := q.EndTime.UnixMilli()

	sealed, err := s.queryParquet(ctx, q, startMs, endMs)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query parquet: %w", err)
	}

	buffered := s.chunks.ReadBuffered(q.MachineID, q.ClientID, startMs, endMs)
	if q.SensorType != "" {
		filtered := buffered[:0]
		for _, r := range buffered {
			if r.SensorType == q.SensorType {
				filtered = append(filtered, r)
			}
		}
		buffered = filtered
	}

	results := append(sealed, buffered...)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TimestampMs > results[j].TimestampMs
	})

	limit := q.Limit
	if s.cfg.MaxRows > 0 && (limit <= 0 || limit > s.cfg.MaxRows) {
		limit = s.cfg.MaxRows
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, nil
}

// queryParquet scans the sealed files overlapping the window.
func (s *Service) queryParquet(ctx context.Context, q ReadingQuery, startMs, endMs int64) ([]types.Reading, error) {
	files, err := s.chunks.ListFiles(startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	s.stats.FilesScanned += int64(len(files))

	query := fmt.Sprintf(`
		SELECT
			client_id, machine_id, sensor_type,
			timestamp_ms,
			temperature, vibration, power, pressure, speed, efficiency,
			custom, raw,
			recorded_at_ms
		FROM read_parquet(%s)
		WHERE timestamp_ms >= ?
		  AND timestamp_ms < ?
	`, fileList(files))

	args := []any{startMs, endMs}
	if q.MachineID != "" {
		query += " AND machine_id = ?"
		args = append(args, q.MachineID)
	}
	if q.ClientID != "" {
		query += " AND client_id = ?"
		args = append(args, q.ClientID)
	}
	if q.SensorType != "" {
		query += " AND sensor_type = ?"
		args = append(args, q.SensorType)
	}
	query += " ORDER BY timestamp_ms DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReadings(rows)
}

// fileList renders a DuckDB list literal of file paths.
func fileList(files []string) string {
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = "'" + strings.ReplaceAll(f, "'", "''") + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// scanReadings scans rows into a Reading slice.
func scanReadings(rows *sql.Rows) ([]types.Reading, error) {
	var results []types.Reading

	for rows.Next() {
		var r types.Reading
		var temp, vib, power, pressure, speed, efficiency sql.NullFloat64
		var custom, raw sql.NullString

		err := rows.Scan(
			&r.ClientID, &r.MachineID, &r.SensorType,
			&r.TimestampMs,
			&temp, &vib, &power, &pressure, &speed, &efficiency,
			&custom, &raw,
			&r.RecordedAtMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		r.Temperature = nullToPtr(temp)
		r.Vibration = nullToPtr(vib)
		r.Power = nullToPtr(power)
		r.Pressure = nullToPtr(pressure)
		r.Speed = nullToPtr(speed)
		r.Efficiency = nullToPtr(efficiency)

		if custom.Valid && custom.String != "" {
			var m map[string]float64
			if err := json.Unmarshal([]byte(custom.String), &m); err == nil {
				r.Custom = m
			}
		}
		if raw.Valid && raw.String != "" {
			r.Raw = json.RawMessage(raw.String)
		}

		results = append(results, r)
	}

	return results, rows.Err()
}

func nullToPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// ExecuteSQL executes a raw SQL query using DuckDB. Useful for ad-hoc
// queries and debugging.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, rows.Err()
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
