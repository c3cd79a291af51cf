// Package refresh decouples ingest from rollup recomputation. Appends
// emit write events; the coordinator debounces them per refresh key and
// dispatches recomputes on a bounded worker pool. Appends never block on
// recomputation and a burst of events for one bucket collapses into a
// single recompute.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aispark/pdmcore/internal/logging"
	"github.com/aispark/pdmcore/internal/storage/types"
)

// Recomputer regenerates the rollup record for one key.
type Recomputer interface {
	Recompute(ctx context.Context, key types.RefreshKey) error
}

// Config configures the coordinator.
type Config struct {
	// Debounce is how long events for the same key are coalesced before
	// a recompute dispatches.
	Debounce time.Duration

	// Workers bounds the number of concurrent recomputes.
	Workers int

	// QueueSize is the buffered event channel size. When the channel is
	// full, events fall through to a direct pending-set insert.
	QueueSize int

	// RetryDelay is how long a failed recompute waits before re-dispatch.
	RetryDelay time.Duration
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Debounce:   2 * time.Second,
		Workers:    4,
		QueueSize:  4096,
		RetryDelay: 10 * time.Second,
	}
}

// Coordinator debounces write events and drives recomputes.
//
// Per-key guarantees:
//   - at most one recompute in flight (single-flight)
//   - an event arriving mid-recompute marks the key dirty and the key
//     re-queues immediately after the recompute finishes
//   - a failed recompute re-queues after RetryDelay
type Coordinator struct {
	engine Recomputer
	cfg    Config

	events chan types.WriteEvent

	mu       sync.Mutex
	pending  map[types.RefreshKey]pendingEntry
	inflight map[types.RefreshKey]bool // value true = dirty

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	group   *errgroup.Group

	stats coordinatorCounters
}

type pendingEntry struct {
	clientID string
	due      time.Time
}

type coordinatorCounters struct {
	eventsReceived atomic.Int64
	overflows      atomic.Int64
	dispatches     atomic.Int64
	completions    atomic.Int64
	failures       atomic.Int64
	requeues       atomic.Int64
}

// NewCoordinator creates a coordinator.
func NewCoordinator(engine Recomputer, cfg Config) *Coordinator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}

	return &Coordinator{
		engine:   engine,
		cfg:      cfg,
		events:   make(chan types.WriteEvent, cfg.QueueSize),
		pending:  make(map[types.RefreshKey]pendingEntry),
		inflight: make(map[types.RefreshKey]bool),
	}
}

// Start starts the dispatch loop.
func (c *Coordinator) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator already running")
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.group = &errgroup.Group{}
	c.group.SetLimit(c.cfg.Workers)

	c.wg.Add(1)
	go c.dispatcher()

	return nil
}

// Stop stops the coordinator. In-flight recomputes finish; pending keys
// are dropped.
func (c *Coordinator) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}

	c.cancel()
	c.wg.Wait()
	return c.group.Wait()
}

// Notify records a write event. It never blocks: when the event channel
// is full the key set is merged into the pending set directly.
func (c *Coordinator) Notify(event types.WriteEvent) {
	c.stats.eventsReceived.Add(1)

	if !c.running.Load() {
		c.merge(event)
		return
	}

	select {
	case c.events <- event:
	default:
		c.stats.overflows.Add(1)
		c.merge(event)
	}
}

// merge folds an event's refresh keys into the pending set.
func (c *Coordinator) merge(event types.WriteEvent) {
	due := time.Now().Add(c.cfg.Debounce)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range event.Keys() {
		c.mergeKeyLocked(key, due)
	}
}

func (c *Coordinator) mergeKeyLocked(key types.RefreshKey, due time.Time) {
	clientID := key.ClientID
	key.ClientID = ""

	if _, busy := c.inflight[key]; busy {
		c.inflight[key] = true
		return
	}

	entry, ok := c.pending[key]
	if ok {
		// Keep the earlier client id, push the deadline out
		entry.due = due
		c.pending[key] = entry
		return
	}

	c.pending[key] = pendingEntry{clientID: clientID, due: due}
}

// dispatcher merges incoming events and dispatches due keys.
func (c *Coordinator) dispatcher() {
	defer c.wg.Done()

	tick := c.cfg.Debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case event := <-c.events:
			c.merge(event)
		case now := <-ticker.C:
			c.dispatchDue(now)
		}
	}
}

// dispatchDue moves due keys from pending to inflight and starts their
// recomputes. Worker slots are bounded; a full pool delays dispatch but
// never blocks Notify.
func (c *Coordinator) dispatchDue(now time.Time) {
	c.mu.Lock()
	var due []types.RefreshKey
	var clients []string
	for key, entry := range c.pending {
		if !entry.due.After(now) {
			due = append(due, key)
			clients = append(clients, entry.clientID)
			delete(c.pending, key)
			c.inflight[key] = false
		}
	}
	c.mu.Unlock()

	for i, key := range due {
		key := key
		clientID := clients[i]
		c.stats.dispatches.Add(1)
		c.group.Go(func() error {
			c.run(key, clientID)
			return nil
		})
	}
}

// run executes one recompute and handles dirty re-queue and retry.
func (c *Coordinator) run(key types.RefreshKey, clientID string) {
	fullKey := key
	fullKey.ClientID = clientID

	err := c.engine.Recompute(c.ctx, fullKey)

	c.mu.Lock()
	dirty := c.inflight[key]
	delete(c.inflight, key)

	switch {
	case err != nil && c.ctx.Err() == nil:
		c.stats.failures.Add(1)
		c.pending[key] = pendingEntry{clientID: clientID, due: time.Now().Add(c.cfg.RetryDelay)}
	case dirty:
		c.stats.requeues.Add(1)
		c.pending[key] = pendingEntry{clientID: clientID, due: time.Now()}
	default:
		c.stats.completions.Add(1)
	}
	c.mu.Unlock()

	if err != nil && c.ctx.Err() == nil {
		logging.Component("refresh").Warn("recompute failed",
			"key", key.String(),
			"error", err)
	}
}

// Stats returns current coordinator statistics.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	pending := len(c.pending)
	inflight := len(c.inflight)
	c.mu.Unlock()

	return Stats{
		Running:        c.running.Load(),
		Pending:        pending,
		Inflight:       inflight,
		EventsReceived: c.stats.eventsReceived.Load(),
		Overflows:      c.stats.overflows.Load(),
		Dispatches:     c.stats.dispatches.Load(),
		Completions:    c.stats.completions.Load(),
		Failures:       c.stats.failures.Load(),
		Requeues:       c.stats.requeues.Load(),
	}
}

// Stats holds coordinator statistics.
type Stats struct {
	Running        bool
	Pending        int
	Inflight       int
	EventsReceived int64
	Overflows      int64
	Dispatches     int64
	Completions    int64
	Failures       int64
	Requeues       int64
}

// Quiesced reports whether no work is pending or in flight.
func (c *Coordinator) Quiesced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) == 0 && len(c.inflight) == 0 && len(c.events) == 0
}
