package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aispark/pdmcore/internal/logging"
	"github.com/aispark/pdmcore/internal/storage/parquet"
	"github.com/aispark/pdmcore/internal/storage/types"
)

// Manager routes readings into hour chunks and seals them to Parquet
// files once the active window has passed. Files are immutable after
// sealing; a late arrival re-opens the hour in memory and the next seal
// merges the existing file with the delta through a temp-file rename.
type Manager struct {
	mu sync.RWMutex

	// flushMu orders reads against the seal swap: a reader holding the
	// read side sees each hour either in the sealing map or in its file,
	// never in neither.
	flushMu sync.RWMutex

	dir  string
	opts Options

	open    map[int64]*Chunk
	sealing map[int64]*Chunk

	stats ManagerStats
}

// Options configures the chunk manager.
type Options struct {
	// ActiveWindow is how long a chunk stays open past its hour end
	// before it is eligible for sealing.
	ActiveWindow time.Duration

	// Parquet are the options used when sealing files.
	Parquet parquet.Options
}

// DefaultOptions returns default chunk manager options.
func DefaultOptions() Options {
	return Options{
		ActiveWindow: 15 * time.Minute,
		Parquet:      parquet.DefaultOptions(),
	}
}

// ManagerStats holds chunk manager statistics.
type ManagerStats struct {
	OpenChunks       int
	BufferedReadings int
	FilesSealed      int64
	FilesMerged      int64
	ReadingsSealed   int64
}

// NewManager creates a chunk manager rooted at dir.
func NewManager(dir string, opts Options) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}

	if opts.ActiveWindow < 0 {
		opts.ActiveWindow = 0
	}

	return &Manager{
		dir:     dir,
		opts:    opts,
		open:    make(map[int64]*Chunk),
		sealing: make(map[int64]*Chunk),
	}, nil
}

// Append routes a reading into its hour chunk, creating the chunk if
// needed.
func (m *Manager) Append(r types.Reading) {
	hour := r.HourStart()

	m.mu.Lock()
	c, ok := m.open[hour]
	if !ok {
		c = newChunk(hour)
		m.open[hour] = c
	}
	m.mu.Unlock()

	c.Append(r)
}

// AppendBatch routes a batch of readings.
func (m *Manager) AppendBatch(readings []types.Reading) {
	for i := range readings {
		m.Append(readings[i])
	}
}

// Flush seals every open chunk whose hour ended more than the active
// window ago. Returns the number of files written.
func (m *Manager) Flush(now time.Time) (int, error) {
	cutoff := now.Add(-m.opts.ActiveWindow).UnixMilli()

	m.mu.Lock()
	var sealable []*Chunk
	for hour, c := range m.open {
		if c.HourEnd() <= cutoff {
			if _, busy := m.sealing[hour]; busy {
				continue
			}
			sealable = append(sealable, c)
			m.sealing[hour] = c
			delete(m.open, hour)
		}
	}
	m.mu.Unlock()

	return m.seal(sealable)
}

// FlushAll seals every open chunk regardless of age. Used at shutdown.
func (m *Manager) FlushAll() (int, error) {
	m.mu.Lock()
	sealable := make([]*Chunk, 0, len(m.open))
	for hour, c := range m.open {
		if _, busy := m.sealing[hour]; busy {
			continue
		}
		sealable = append(sealable, c)
		m.sealing[hour] = c
		delete(m.open, hour)
	}
	m.mu.Unlock()

	return m.seal(sealable)
}

func (m *Manager) seal(chunks []*Chunk) (int, error) {
	log := logging.Component("chunk")

	sealed := 0
	for _, c := range chunks {
		hour := c.HourStart()
		readings := c.Snapshot()
		if len(readings) == 0 {
			m.mu.Lock()
			delete(m.sealing, hour)
			m.mu.Unlock()
			continue
		}

		if err := m.sealChunk(hour, readings); err != nil {
			// Put the readings back so a later flush can retry
			m.mu.Lock()
			if existing, ok := m.open[hour]; ok {
				for i := range readings {
					existing.Append(readings[i])
				}
			} else {
				m.open[hour] = c
			}
			delete(m.sealing, hour)
			m.mu.Unlock()
			return sealed, fmt.Errorf("seal chunk %s: %w", c.FileName(), err)
		}

		log.Debug("sealed chunk",
			"file", c.FileName(),
			"readings", len(readings))

		sealed++
		m.mu.Lock()
		m.stats.FilesSealed++
		m.stats.ReadingsSealed += int64(len(readings))
		m.mu.Unlock()
	}

	return sealed, nil
}

// sealChunk writes the hour's readings to its Parquet file. If the file
// already exists the previous rows are merged in, then the file is
// atomically replaced.
func (m *Manager) sealChunk(hourStartMs int64, readings []types.Reading) error {
	path := filepath.Join(m.dir, FileNameForHour(hourStartMs))

	if _, err := os.Stat(path); err == nil {
		existing, err := parquet.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read existing file: %w", err)
		}
		readings = append(existing, readings...)

		m.mu.Lock()
		m.stats.FilesMerged++
		m.mu.Unlock()
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat file: %w", err)
	}

	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].TimestampMs < readings[j].TimestampMs
	})

	tmp := path + ".tmp"
	if err := parquet.WriteReadings(tmp, readings, m.opts.Parquet); err != nil {
		os.Remove(tmp)
		return err
	}

	// The rename and the sealing-map removal must be one step from a
	// reader's point of view, or a racing ReadRange sees the hour in
	// neither place.
	m.flushMu.Lock()
	err := os.Rename(tmp, path)
	if err == nil {
		m.mu.Lock()
		delete(m.sealing, hourStartMs)
		m.mu.Unlock()
	}
	m.flushMu.Unlock()

	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// ReadRange returns all readings for a machine in [startMs, endMs),
// merging sealed files with open and currently sealing chunks. Held
// against concurrent seals so a bucket read is never partial.
func (m *Manager) ReadRange(machineID string, startMs, endMs int64) ([]types.Reading, error) {
	m.flushMu.RLock()
	defer m.flushMu.RUnlock()

	var out []types.Reading

	files, err := m.ListFiles(startMs, endMs)
	if err != nil {
		return nil, err
	}

	for _, path := range files {
		readings, err := parquet.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for i := range readings {
			r := &readings[i]
			if r.MachineID == machineID && r.TimestampMs >= startMs && r.TimestampMs < endMs {
				out = append(out, *r)
			}
		}
	}

	for _, c := range m.memoryChunks(startMs, endMs) {
		for _, r := range c.Snapshot() {
			if r.MachineID == machineID && r.TimestampMs >= startMs && r.TimestampMs < endMs {
				out = append(out, r)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampMs < out[j].TimestampMs
	})

	return out, nil
}

// ReadBuffered returns only the unpersisted in-memory readings in
// [startMs, endMs), filtered by machine and/or client. An empty ID
// matches everything. Sealed files are not consulted.
func (m *Manager) ReadBuffered(machineID, clientID string, startMs, endMs int64) []types.Reading {
	m.flushMu.RLock()
	defer m.flushMu.RUnlock()

	var out []types.Reading
	for _, c := range m.memoryChunks(startMs, endMs) {
		for _, r := range c.Snapshot() {
			if machineID != "" && r.MachineID != machineID {
				continue
			}
			if clientID != "" && r.ClientID != clientID {
				continue
			}
			if r.TimestampMs >= startMs && r.TimestampMs < endMs {
				out = append(out, r)
			}
		}
	}
	return out
}

// memoryChunks returns the open and sealing chunks overlapping the
// window. Sealing chunks stay visible until their file is in place.
func (m *Manager) memoryChunks(startMs, endMs int64) []*Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var chunks []*Chunk
	for hour, c := range m.open {
		if hour < endMs && hour+time.Hour.Milliseconds() > startMs {
			chunks = append(chunks, c)
		}
	}
	for hour, c := range m.sealing {
		if hour < endMs && hour+time.Hour.Milliseconds() > startMs {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// ListFiles returns the sealed file paths whose hour overlaps
// [startMs, endMs), in time order.
func (m *Manager) ListFiles(startMs, endMs int64) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type fileHour struct {
		path string
		hour int64
	}

	var files []fileHour
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		hour, ok := ParseFileName(entry.Name())
		if !ok {
			continue
		}

		if hour < endMs && hour+time.Hour.Milliseconds() > startMs {
			files = append(files, fileHour{
				path: filepath.Join(m.dir, entry.Name()),
				hour: hour,
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].hour < files[j].hour
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// DeleteExpired deletes whole chunk files whose hour ended at or before
// the cutoff. Partially expired hours are kept. Returns the number of
// files deleted. Calling it again with the same cutoff deletes nothing.
func (m *Manager) DeleteExpired(cutoff time.Time) (int, error) {
	cutoffMs := cutoff.UnixMilli()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		hour, ok := ParseFileName(entry.Name())
		if !ok {
			continue
		}

		if hour+time.Hour.Milliseconds() <= cutoffMs {
			path := filepath.Join(m.dir, entry.Name())
			if err := os.Remove(path); err != nil {
				return deleted, fmt.Errorf("remove %s: %w", path, err)
			}
			deleted++
		}
	}

	// Drop any fully expired in-memory chunks too
	m.mu.Lock()
	for hour, c := range m.open {
		if c.HourEnd() <= cutoffMs {
			delete(m.open, hour)
		}
	}
	m.mu.Unlock()

	return deleted, nil
}

// OldestHour returns the oldest sealed hour boundary, or false when no
// files exist.
func (m *Manager) OldestHour() (int64, bool, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}

	var oldest int64
	found := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		hour, ok := ParseFileName(entry.Name())
		if !ok {
			continue
		}
		if !found || hour < oldest {
			oldest = hour
			found = true
		}
	}

	return oldest, found, nil
}

// DiskUsage returns the total size of sealed chunk files in bytes.
func (m *Manager) DiskUsage() (int64, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var total int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := ParseFileName(entry.Name()); !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}

	return total, nil
}

// Stats returns current manager statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.OpenChunks = len(m.open)
	stats.BufferedReadings = 0
	for _, c := range m.open {
		stats.BufferedReadings += c.Len()
	}
	for _, c := range m.sealing {
		stats.BufferedReadings += c.Len()
	}
	return stats
}
