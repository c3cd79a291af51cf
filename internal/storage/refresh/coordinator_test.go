package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aispark/pdmcore/internal/storage/types"
)

// countingEngine records recomputes per key.
type countingEngine struct {
	mu    sync.Mutex
	count map[types.RefreshKey]int
	delay time.Duration
	fail  atomic.Int64 // number of upcoming calls that fail
}

func newCountingEngine() *countingEngine {
	return &countingEngine{count: make(map[types.RefreshKey]int)}
}

func (e *countingEngine) Recompute(ctx context.Context, key types.RefreshKey) error {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if e.fail.Load() > 0 {
		e.fail.Add(-1)
		return errors.New("transient failure")
	}

	key.ClientID = ""
	e.mu.Lock()
	e.count[key]++
	e.mu.Unlock()
	return nil
}

func (e *countingEngine) countFor(key types.RefreshKey) int {
	key.ClientID = ""
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count[key]
}

func (e *countingEngine) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, n := range e.count {
		total += n
	}
	return total
}

func testConfig() Config {
	return Config{
		Debounce:   50 * time.Millisecond,
		Workers:    4,
		QueueSize:  64,
		RetryDelay: 50 * time.Millisecond,
	}
}

func event(machineID string, ts time.Time) types.WriteEvent {
	return types.WriteEvent{
		MachineID:   machineID,
		ClientID:    "acme",
		SensorType:  "multi",
		TimestampMs: ts.UnixMilli(),
		HourStart:   types.BucketStartMs(ts.UnixMilli(), types.GranularityHourly),
	}
}

// waitQuiesced polls until the coordinator settles or the deadline hits.
func waitQuiesced(t *testing.T, c *Coordinator, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Quiesced() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("coordinator did not quiesce within %v: %+v", timeout, c.Stats())
}

func TestCoalescing(t *testing.T) {
	engine := newCountingEngine()
	c := NewCoordinator(engine, testConfig())
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	ts := time.Date(2026, 3, 14, 15, 10, 0, 0, time.UTC)

	// A burst of events for one machine in one hour
	for i := 0; i < 100; i++ {
		c.Notify(event("press-01", ts))
	}

	waitQuiesced(t, c, 5*time.Second)

	hourly := types.RefreshKey{
		MachineID:   "press-01",
		BucketStart: types.BucketStartMs(ts.UnixMilli(), types.GranularityHourly),
		Granularity: types.GranularityHourly,
	}
	daily := types.RefreshKey{
		MachineID:   "press-01",
		BucketStart: types.BucketStartMs(ts.UnixMilli(), types.GranularityDaily),
		Granularity: types.GranularityDaily,
	}

	// The burst collapses into one recompute per granularity
	if n := engine.countFor(hourly); n != 1 {
		t.Errorf("expected 1 hourly recompute, got %d", n)
	}
	if n := engine.countFor(daily); n != 1 {
		t.Errorf("expected 1 daily recompute, got %d", n)
	}
}

func TestSingleFlightDirtyRequeue(t *testing.T) {
	engine := newCountingEngine()
	engine.delay = 100 * time.Millisecond

	cfg := testConfig()
	cfg.Debounce = 20 * time.Millisecond

	c := NewCoordinator(engine, cfg)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	ts := time.Date(2026, 3, 14, 15, 10, 0, 0, time.UTC)

	c.Notify(event("press-01", ts))

	// Wait for the recompute to be in flight, then notify again
	time.Sleep(60 * time.Millisecond)
	c.Notify(event("press-01", ts))

	waitQuiesced(t, c, 5*time.Second)

	hourly := types.RefreshKey{
		MachineID:   "press-01",
		BucketStart: types.BucketStartMs(ts.UnixMilli(), types.GranularityHourly),
		Granularity: types.GranularityHourly,
	}

	// The mid-flight event marks the key dirty and re-runs once
	if n := engine.countFor(hourly); n != 2 {
		t.Errorf("expected 2 hourly recomputes (initial + dirty), got %d", n)
	}

	if c.Stats().Requeues == 0 {
		t.Error("expected at least one dirty requeue")
	}
}

func TestConcurrentAppendsSettle(t *testing.T) {
	engine := newCountingEngine()
	c := NewCoordinator(engine, testConfig())
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	base := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	machines := []string{"m-0", "m-1", "m-2", "m-3", "m-4", "m-5", "m-6", "m-7", "m-8", "m-9"}

	// 1000 concurrent notifications across 10 machines
	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Notify(event(machines[i%10], base.Add(time.Duration(i)*time.Millisecond)))
		}(i)
	}
	wg.Wait()

	waitQuiesced(t, c, 10*time.Second)

	stats := c.Stats()
	if stats.EventsReceived != 1000 {
		t.Errorf("expected 1000 events received, got %d", stats.EventsReceived)
	}

	// All events hit the same hour: one hourly and one daily recompute
	// per machine (plus dirty re-runs), never one per event.
	total := engine.total()
	if total < 20 {
		t.Errorf("expected at least 20 recomputes (2 per machine), got %d", total)
	}
	if total > 100 {
		t.Errorf("expected coalescing to bound recomputes, got %d", total)
	}
}

func TestRetryAfterFailure(t *testing.T) {
	engine := newCountingEngine()
	engine.fail.Store(1)

	c := NewCoordinator(engine, testConfig())
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	ts := time.Date(2026, 3, 14, 15, 10, 0, 0, time.UTC)
	c.Notify(event("press-01", ts))

	waitQuiesced(t, c, 5*time.Second)

	stats := c.Stats()
	if stats.Failures != 1 {
		t.Errorf("expected 1 failure, got %d", stats.Failures)
	}

	hourly := types.RefreshKey{
		MachineID:   "press-01",
		BucketStart: types.BucketStartMs(ts.UnixMilli(), types.GranularityHourly),
		Granularity: types.GranularityHourly,
	}
	if n := engine.countFor(hourly); n != 1 {
		t.Errorf("expected the failed recompute to retry and succeed, got %d", n)
	}
}

func TestNotifyNeverBlocksOnFullQueue(t *testing.T) {
	engine := newCountingEngine()
	engine.delay = 50 * time.Millisecond

	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.Workers = 1

	c := NewCoordinator(engine, cfg)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	ts := time.Date(2026, 3, 14, 15, 10, 0, 0, time.UTC)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			c.Notify(event("press-01", ts.Add(time.Duration(i)*time.Second)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on full queue")
	}

	waitQuiesced(t, c, 10*time.Second)

	if c.Stats().Overflows == 0 {
		t.Error("expected queue overflows to spill into the pending set")
	}
}

func TestStopWaitsForInflight(t *testing.T) {
	engine := newCountingEngine()
	engine.delay = 50 * time.Millisecond

	cfg := testConfig()
	cfg.Debounce = 10 * time.Millisecond

	c := NewCoordinator(engine, cfg)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ts := time.Date(2026, 3, 14, 15, 10, 0, 0, time.UTC)
	c.Notify(event("press-01", ts))

	time.Sleep(30 * time.Millisecond)

	if err := c.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}

	// Double stop is a no-op
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestNotifyBeforeStart(t *testing.T) {
	engine := newCountingEngine()
	c := NewCoordinator(engine, testConfig())

	ts := time.Date(2026, 3, 14, 15, 10, 0, 0, time.UTC)
	c.Notify(event("press-01", ts))

	if c.Stats().Pending == 0 {
		t.Error("expected event to land in pending set before start")
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	waitQuiesced(t, c, 5*time.Second)

	if engine.total() == 0 {
		t.Error("expected pre-start events to be recomputed after start")
	}
}
