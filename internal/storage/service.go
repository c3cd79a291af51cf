package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aispark/pdmcore/internal/errors"
	"github.com/aispark/pdmcore/internal/logging"
	"github.com/aispark/pdmcore/internal/notify"
	"github.com/aispark/pdmcore/internal/storage/backpressure"
	"github.com/aispark/pdmcore/internal/storage/chunk"
	"github.com/aispark/pdmcore/internal/storage/config"
	"github.com/aispark/pdmcore/internal/storage/parquet"
	"github.com/aispark/pdmcore/internal/storage/query"
	"github.com/aispark/pdmcore/internal/storage/refresh"
	"github.com/aispark/pdmcore/internal/storage/retention"
	"github.com/aispark/pdmcore/internal/storage/rollup"
	"github.com/aispark/pdmcore/internal/storage/types"
	"github.com/aispark/pdmcore/internal/storage/wal"
	"github.com/aispark/pdmcore/internal/validation"
)

// Metastore is what the telemetry service needs from the entity store:
// referential validation on the write path, rollup publishing, and the
// pruning hooks used by the retention enforcer.
type Metastore interface {
	rollup.Publisher

	ValidateOwnership(ctx context.Context, machineID, clientID string) error
	TouchLastSeen(ctx context.Context, clientID string, at time.Time) error
	ListRollups(ctx context.Context, machineID string, g types.Granularity, startMs, endMs int64) ([]*types.RollupRecord, error)
	DeleteRollupsBefore(ctx context.Context, g types.Granularity, cutoffMs int64) (int64, error)
	DeleteAnomaliesBefore(ctx context.Context, cutoffMs int64) (int64, error)
	DeleteAlertsBefore(ctx context.Context, cutoffMs int64) (int64, error)
}

// Service is the telemetry store. It owns the append pipeline (WAL,
// hour chunks, flush), the refresh coordinator driving the rollup
// engine, the retention enforcer, the query service, and the write
// notification broker.
type Service struct {
	config *config.Config
	meta   Metastore

	wal         *wal.Writer
	chunks      *chunk.Manager
	engine      *rollup.Engine
	coordinator *refresh.Coordinator
	retention   *retention.Enforcer
	query       *query.Service
	broker      *notify.Broker
	pressure    *backpressure.Controller

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startTime time.Time
	appends   atomic.Int64
	rejected  atomic.Int64
}

// New creates the telemetry service. The metastore must already be
// open and migrated.
func New(cfg *config.Config, meta Metastore) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	walWriter, err := wal.NewWriter(cfg.WALDir(), wal.Options{
		MaxSegmentSize: cfg.Ingest.WAL.MaxSegmentSize,
		SyncMode:       cfg.Ingest.WAL.SyncMode,
		SyncInterval:   cfg.Ingest.WAL.SyncInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("create wal: %w", err)
	}

	chunks, err := chunk.NewManager(cfg.ChunkDir(), chunk.Options{
		ActiveWindow: cfg.Ingest.Flush.ActiveWindow,
		Parquet: parquet.Options{
			Compression:      parquet.ParseCompressionType(cfg.Ingest.Flush.Compression),
			CompressionLevel: cfg.Ingest.Flush.CompressionLevel,
		},
	})
	if err != nil {
		walWriter.Close()
		return nil, fmt.Errorf("create chunk manager: %w", err)
	}

	accuracy := 0.0
	if cfg.Rollup.Percentile.Enabled {
		accuracy = cfg.Rollup.Percentile.Accuracy
	}
	engine := rollup.NewEngine(chunks, meta, rollup.Config{
		Thresholds: rollup.Thresholds{
			HighTemperature: cfg.Rollup.Thresholds.HighTemperature,
			HighVibration:   cfg.Rollup.Thresholds.HighVibration,
		},
		PercentileAccuracy: accuracy,
	})

	coordinator := refresh.NewCoordinator(engine, refresh.Config{
		Debounce:   cfg.Refresh.Debounce,
		Workers:    cfg.Refresh.Workers,
		QueueSize:  cfg.Refresh.QueueSize,
		RetryDelay: cfg.Refresh.RetryDelay,
	})

	enforcer := retention.NewEnforcer(cfg.Retention, chunks, meta, meta)

	qry, err := query.New(cfg.Query, chunks)
	if err != nil {
		walWriter.Close()
		return nil, fmt.Errorf("create query service: %w", err)
	}

	pressure := backpressure.New(cfg.Ingest.Backpressure, func() float64 {
		max := cfg.Ingest.Backpressure.MaxBufferedReadings
		if max <= 0 {
			return 0
		}
		return float64(chunks.Stats().BufferedReadings) / float64(max)
	})
	pressure.SetOnLevelChange(func(old, new backpressure.Level) {
		logging.Component("storage").Warn("backpressure level changed",
			"from", old.String(), "to", new.String())
	})

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config:      cfg,
		meta:        meta,
		wal:         walWriter,
		chunks:      chunks,
		engine:      engine,
		coordinator: coordinator,
		retention:   enforcer,
		query:       qry,
		broker:      notify.NewBroker(),
		pressure:    pressure,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start replays the WAL into open chunks, starts the refresh
// coordinator, and launches the flush and retention loops.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("service already running")
	}
	s.startTime = time.Now()

	if err := s.replayWAL(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("replay wal: %w", err)
	}

	if err := s.coordinator.Start(); err != nil {
		s.running.Store(false)
		return fmt.Errorf("start coordinator: %w", err)
	}

	s.wg.Add(1)
	go s.flushWorker()

	s.wg.Add(1)
	go s.retentionWorker()

	logging.Component("storage").Info("telemetry service started",
		"chunk_dir", s.config.ChunkDir(),
		"wal_dir", s.config.WALDir())

	return nil
}

// Stop drains the service: background loops exit, remaining chunks are
// flushed, and the WAL is checkpointed so a restart replays nothing.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	var errs []error

	if err := s.coordinator.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop coordinator: %w", err))
	}

	if _, err := s.chunks.FlushAll(); err != nil {
		errs = append(errs, fmt.Errorf("flush chunks: %w", err))
	} else if _, err := s.wal.Checkpoint(); err != nil {
		errs = append(errs, fmt.Errorf("checkpoint wal: %w", err))
	}

	if err := s.wal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close wal: %w", err))
	}

	if err := s.query.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close query: %w", err))
	}

	s.broker.Close()

	if len(errs) > 0 {
		return fmt.Errorf("stop errors: %v", errs)
	}
	return nil
}

// replayWAL loads unflushed readings from the WAL back into open
// chunks and re-notifies the coordinator so their rollups recompute.
func (s *Service) replayWAL() error {
	segments, err := s.wal.ListSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}

	readings, err := wal.ReadAllSegments(segments)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		return nil
	}

	s.chunks.AppendBatch(readings)
	for i := range readings {
		s.coordinator.Notify(types.NewWriteEvent(&readings[i]))
	}

	logging.Component("storage").Info("wal replayed",
		"segments", len(segments),
		"readings", len(readings))

	return nil
}

// Append validates and durably records one reading, then emits exactly
// one write event to the coordinator and the notification broker.
func (s *Service) Append(ctx context.Context, r types.Reading) error {
	if !s.running.Load() {
		return errors.ErrClosed
	}

	s.pressure.Check()
	if s.pressure.ShouldReject() {
		s.pressure.RecordRejection()
		s.rejected.Add(1)
		return errors.NewTransient("append",
			fmt.Errorf("store overloaded, %d readings buffered", s.chunks.Stats().BufferedReadings))
	}

	if err := validateReading(&r); err != nil {
		s.rejected.Add(1)
		return err
	}

	if err := s.meta.ValidateOwnership(ctx, r.MachineID, r.ClientID); err != nil {
		s.rejected.Add(1)
		return err
	}

	r.RecordedAtMs = time.Now().UnixMilli()

	if err := s.wal.Write([]types.Reading{r}); err != nil {
		return errors.NewTransient("wal append", err)
	}
	s.chunks.Append(r)
	s.appends.Add(1)

	// Best-effort bookkeeping, never on the error path
	if err := s.meta.TouchLastSeen(ctx, r.ClientID, time.UnixMilli(r.RecordedAtMs)); err != nil {
		logging.Component("storage").Debug("touch last_seen failed",
			"client_id", r.ClientID, "error", err)
	}

	event := types.NewWriteEvent(&r)
	s.coordinator.Notify(event)
	s.broker.Publish(event)

	return nil
}

// AppendBatch appends readings one by one, stopping at the first
// validation failure.
func (s *Service) AppendBatch(ctx context.Context, readings []types.Reading) error {
	for i := range readings {
		if err := s.Append(ctx, readings[i]); err != nil {
			return fmt.Errorf("reading %d: %w", i, err)
		}
	}
	return nil
}

// validateReading rejects malformed readings before anything is stored.
func validateReading(r *types.Reading) error {
	v := errors.NewValidationErrors()

	if err := validation.ValidateEntityID(r.ClientID); err != nil {
		v.Add(errors.Wrap(err, "client_id"))
	}
	if err := validation.ValidateEntityID(r.MachineID); err != nil {
		v.Add(errors.Wrap(err, "machine_id"))
	}
	if r.SensorType == "" {
		v.AddMissing("sensor_type")
	}
	if r.TimestampMs <= 0 {
		v.Add(errors.NewInvalidValue("timestamp_ms", r.TimestampMs, "must be positive"))
	}

	for name, value := range r.Fields() {
		v.Add(validation.ValidateFinite(name, value))
	}
	for name, value := range r.Custom {
		v.Add(validation.ValidateFinite("custom."+name, value))
	}

	return v.Err()
}

// QueryReadings returns raw readings for one machine, newest first.
func (s *Service) QueryReadings(ctx context.Context, q query.ReadingQuery) ([]types.Reading, error) {
	if !s.running.Load() {
		return nil, errors.ErrClosed
	}
	return s.query.QueryReadings(ctx, q)
}

// QueryRollups returns a machine's published rollup rows for a bucket
// range at one granularity.
func (s *Service) QueryRollups(ctx context.Context, machineID string, g types.Granularity, startMs, endMs int64) ([]*types.RollupRecord, error) {
	if !s.running.Load() {
		return nil, errors.ErrClosed
	}
	return s.meta.ListRollups(ctx, machineID, g, startMs, endMs)
}

// QuerySQL executes a raw SQL query against the query engine.
func (s *Service) QuerySQL(ctx context.Context, sql string) ([]map[string]interface{}, error) {
	if !s.running.Load() {
		return nil, errors.ErrClosed
	}
	return s.query.ExecuteSQL(ctx, sql)
}

// Broker returns the write notification broker.
func (s *Service) Broker() *notify.Broker {
	return s.broker
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// ForceFlush seals every open chunk immediately and checkpoints the
// WAL. Used by tests and the shutdown path.
func (s *Service) ForceFlush() error {
	if _, err := s.chunks.FlushAll(); err != nil {
		return err
	}
	_, err := s.wal.Checkpoint()
	return err
}

// RunRetention triggers one retention sweep immediately.
func (s *Service) RunRetention(ctx context.Context) retention.SweepResult {
	return s.retention.RunSweep(ctx)
}

// Quiesced reports whether all emitted write events have been fully
// processed by the refresh coordinator.
func (s *Service) Quiesced() bool {
	return s.coordinator.Quiesced()
}

// flushWorker periodically seals chunks past the active window. The WAL
// is checkpointed only when no readings remain buffered, since earlier
// segments may still cover open chunks.
func (s *Service) flushWorker() {
	defer s.wg.Done()

	log := logging.Component("storage")

	interval := s.config.Ingest.Flush.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			sealed, err := s.chunks.Flush(time.Now())
			if err != nil {
				log.Warn("chunk flush failed", "error", err)
				continue
			}
			if sealed > 0 && s.chunks.Stats().BufferedReadings == 0 {
				if _, err := s.wal.Checkpoint(); err != nil {
					log.Warn("wal checkpoint failed", "error", err)
				}
			}
		}
	}
}

// retentionWorker runs the retention sweep on its own schedule.
func (s *Service) retentionWorker() {
	defer s.wg.Done()

	interval := s.config.Retention.SweepInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.pressure.ShouldPauseBackground() {
				logging.Component("storage").Info("retention sweep deferred under backpressure")
				continue
			}
			s.retention.RunSweep(s.ctx)
		}
	}
}

// Stats returns combined statistics for the health endpoint.
func (s *Service) Stats() ServiceStats {
	var uptime time.Duration
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}

	return ServiceStats{
		Running:   s.running.Load(),
		Uptime:    uptime,
		Appends:   s.appends.Load(),
		Rejected:  s.rejected.Load(),
		WAL:       s.wal.Stats(),
		Chunks:    s.chunks.Stats(),
		Rollup:    s.engine.Stats(),
		Refresh:   s.coordinator.Stats(),
		Retention: s.retention.Stats(),
		Query:     s.query.Stats(),
		Broker:    s.broker.Stats(),
		Pressure:  s.pressure.Stats(),
	}
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running  bool
	Uptime   time.Duration
	Appends  int64
	Rejected int64

	WAL       wal.WriterStats
	Chunks    chunk.ManagerStats
	Rollup    rollup.EngineStats
	Refresh   refresh.Stats
	Retention retention.Stats
	Query     query.Stats
	Broker    notify.Stats
	Pressure  backpressure.ControllerStats
}
