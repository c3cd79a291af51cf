package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aispark/pdmcore/internal/errors"
	"github.com/aispark/pdmcore/internal/storage/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "metastore.db")

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func seedClient(t *testing.T, s *Store, clientID string, quota int) *Client {
	t.Helper()

	c := &Client{ClientID: clientID, Name: "Test Client", MachineQuota: quota}
	if err := s.CreateClient(context.Background(), c); err != nil {
		t.Fatalf("CreateClient(%s): %v", clientID, err)
	}
	return c
}

func seedMachine(t *testing.T, s *Store, machineID, clientID string) *Machine {
	t.Helper()

	m := &Machine{MachineID: machineID, ClientID: clientID, Name: "Test Machine"}
	if err := s.CreateMachine(context.Background(), m); err != nil {
		t.Fatalf("CreateMachine(%s): %v", machineID, err)
	}
	return m
}

// =============================================================================
// Clients and Machines
// =============================================================================

func TestClientCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := seedClient(t, s, "acme", 10)
	if c.Version != 1 || !c.Active {
		t.Errorf("unexpected new client state: version=%d active=%v", c.Version, c.Active)
	}

	got, err := s.GetClient(ctx, "acme")
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got.Name != "Test Client" || got.SubscriptionTier != "standard" {
		t.Errorf("unexpected client: %+v", got)
	}

	got.Name = "Acme Industrial"
	if err := s.UpdateClient(ctx, got); err != nil {
		t.Fatalf("UpdateClient: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}

	// Stale version is rejected
	stale := &Client{ClientID: "acme", Name: "Stale", Version: 1}
	err = s.UpdateClient(ctx, stale)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("expected concurrent modification error, got %v", err)
	}

	if err := s.DeactivateClient(ctx, "acme"); err != nil {
		t.Fatalf("DeactivateClient: %v", err)
	}
	got, _ = s.GetClient(ctx, "acme")
	if got.Active {
		t.Error("expected client to be inactive")
	}
}

func TestClientNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetClient(context.Background(), "ghost")
	if !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCreateClientDuplicate(t *testing.T) {
	s := testStore(t)

	seedClient(t, s, "acme", 0)

	dup := &Client{ClientID: "acme", Name: "Duplicate"}
	err := s.CreateClient(context.Background(), dup)
	if !errors.IsAlreadyExists(err) {
		t.Errorf("expected already exists, got %v", err)
	}
}

func TestMachineRequiresClient(t *testing.T) {
	s := testStore(t)

	m := &Machine{MachineID: "press-01", ClientID: "ghost", Name: "Press"}
	err := s.CreateMachine(context.Background(), m)
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error for missing client, got %v", err)
	}
}

func TestMachineQuota(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedClient(t, s, "acme", 1)
	seedMachine(t, s, "press-01", "acme")

	second := &Machine{MachineID: "press-02", ClientID: "acme", Name: "Press 2"}
	err := s.CreateMachine(ctx, second)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("expected quota exceeded, got %v", err)
	}
	if !errors.IsConflict(err) {
		t.Errorf("quota error should be a conflict, got category %s", errors.CategoryName(err))
	}
}

func TestValidateOwnership(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedClient(t, s, "acme", 0)
	seedClient(t, s, "rival", 0)
	seedMachine(t, s, "press-01", "acme")

	if err := s.ValidateOwnership(ctx, "press-01", "acme"); err != nil {
		t.Errorf("expected ownership to validate: %v", err)
	}

	err := s.ValidateOwnership(ctx, "press-01", "rival")
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error for wrong owner, got %v", err)
	}

	err = s.ValidateOwnership(ctx, "ghost", "acme")
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error for unknown machine, got %v", err)
	}
}

func TestListMachinesByClient(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedClient(t, s, "acme", 0)
	seedClient(t, s, "rival", 0)
	seedMachine(t, s, "press-01", "acme")
	seedMachine(t, s, "press-02", "acme")
	seedMachine(t, s, "cnc-01", "rival")

	machines, err := s.ListMachines(ctx, "acme")
	if err != nil {
		t.Fatalf("ListMachines: %v", err)
	}
	if len(machines) != 2 {
		t.Errorf("expected 2 machines, got %d", len(machines))
	}

	all, err := s.ListMachines(ctx, "")
	if err != nil {
		t.Fatalf("ListMachines all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 machines, got %d", len(all))
	}
}

func TestTouchLastSeen(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedClient(t, s, "acme", 0)

	at := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	if err := s.TouchLastSeen(ctx, "acme", at); err != nil {
		t.Fatalf("TouchLastSeen: %v", err)
	}

	c, _ := s.GetClient(ctx, "acme")
	if c.LastSeen == nil || !c.LastSeen.Equal(at) {
		t.Errorf("expected last_seen %v, got %v", at, c.LastSeen)
	}
}

// =============================================================================
// Anomalies
// =============================================================================

func seedAnomaly(t *testing.T, s *Store) *Anomaly {
	t.Helper()

	seedClient(t, s, "acme", 0)
	seedMachine(t, s, "press-01", "acme")

	a := &Anomaly{
		MachineID:       "press-01",
		ClientID:        "acme",
		DetectedAt:      time.Now().UTC(),
		AnomalyType:     "vibration_spike",
		Severity:        "high",
		ConfidenceScore: 0.92,
	}
	if err := s.CreateAnomaly(context.Background(), a); err != nil {
		t.Fatalf("CreateAnomaly: %v", err)
	}
	return a
}

func TestAnomalyLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := seedAnomaly(t, s)
	if a.Status != AnomalyActive {
		t.Fatalf("expected active, got %s", a.Status)
	}

	a, err := s.TransitionAnomaly(ctx, a.ID, AnomalyAcknowledged, "operator-1")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	a, err = s.TransitionAnomaly(ctx, a.ID, AnomalyResolved, "operator-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.ResolvedAt == nil || a.ResolvedBy != "operator-1" {
		t.Error("expected resolved_at and resolved_by to be recorded")
	}

	// Terminal: no way out
	_, err = s.TransitionAnomaly(ctx, a.ID, AnomalyActive, "operator-1")
	if !errors.IsConflict(err) {
		t.Errorf("expected conflict for transition out of resolved, got %v", err)
	}
	_, err = s.TransitionAnomaly(ctx, a.ID, AnomalyFalsePositive, "operator-1")
	if !errors.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestAnomalyFalsePositive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := seedAnomaly(t, s)

	a, err := s.TransitionAnomaly(ctx, a.ID, AnomalyFalsePositive, "operator-2")
	if err != nil {
		t.Fatalf("mark false positive: %v", err)
	}
	if !a.IsTerminal() {
		t.Error("false_positive should be terminal")
	}

	_, err = s.TransitionAnomaly(ctx, a.ID, AnomalyAcknowledged, "operator-2")
	if !errors.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestConcurrentAnomalyResolve(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := seedAnomaly(t, s)

	// Racing resolves: exactly one writer wins, the rest get conflicts
	// and the winner's resolved_by is never overwritten.
	const writers = 8
	var wg sync.WaitGroup
	var won, conflicts atomic.Int32
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.TransitionAnomaly(ctx, a.ID, AnomalyResolved, fmt.Sprintf("operator-%d", n))
			switch {
			case err == nil:
				won.Add(1)
			case errors.IsConflict(err):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if won.Load() != 1 {
		t.Errorf("expected exactly 1 winning resolve, got %d", won.Load())
	}
	if conflicts.Load() != writers-1 {
		t.Errorf("expected %d conflicts, got %d", writers-1, conflicts.Load())
	}

	got, err := s.GetAnomaly(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAnomaly: %v", err)
	}
	if got.Status != AnomalyResolved || got.ResolvedAt == nil || got.ResolvedBy == "" {
		t.Errorf("unexpected final state: %+v", got)
	}
}

func TestAnomalyInvalidReference(t *testing.T) {
	s := testStore(t)

	a := &Anomaly{
		MachineID:       "ghost",
		ClientID:        "nobody",
		DetectedAt:      time.Now(),
		AnomalyType:     "temp",
		Severity:        "low",
		ConfidenceScore: 0.5,
	}
	err := s.CreateAnomaly(context.Background(), a)
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestListAnomaliesFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedClient(t, s, "acme", 0)
	seedMachine(t, s, "press-01", "acme")
	seedMachine(t, s, "press-02", "acme")

	for i, machine := range []string{"press-01", "press-01", "press-02"} {
		a := &Anomaly{
			MachineID:       machine,
			ClientID:        "acme",
			DetectedAt:      time.Now().Add(time.Duration(i) * time.Minute),
			AnomalyType:     "temp",
			Severity:        "medium",
			ConfidenceScore: 0.7,
		}
		if err := s.CreateAnomaly(ctx, a); err != nil {
			t.Fatalf("CreateAnomaly: %v", err)
		}
	}

	got, err := s.ListAnomalies(ctx, AnomalyFilter{MachineID: "press-01"})
	if err != nil {
		t.Fatalf("ListAnomalies: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 anomalies for press-01, got %d", len(got))
	}

	got, err = s.ListAnomalies(ctx, AnomalyFilter{Status: AnomalyActive})
	if err != nil {
		t.Fatalf("ListAnomalies: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 active anomalies, got %d", len(got))
	}
}

// =============================================================================
// Alerts
// =============================================================================

func seedAlert(t *testing.T, s *Store) *Alert {
	t.Helper()

	seedClient(t, s, "acme", 0)
	seedMachine(t, s, "press-01", "acme")

	a := &Alert{
		MachineID: "press-01",
		ClientID:  "acme",
		Severity:  "warning",
		Title:     "High vibration",
	}
	if err := s.CreateAlert(context.Background(), a); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	return a
}

func TestConcurrentAlertResolve(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := seedAlert(t, s)

	const writers = 8
	var wg sync.WaitGroup
	var won, conflicts atomic.Int32
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.ResolveAlert(ctx, a.ID, fmt.Sprintf("operator-%d", n), "swapped spindle")
			switch {
			case err == nil:
				won.Add(1)
			case errors.IsConflict(err):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if won.Load() != 1 {
		t.Errorf("expected exactly 1 winning resolve, got %d", won.Load())
	}
	if conflicts.Load() != writers-1 {
		t.Errorf("expected %d conflicts, got %d", writers-1, conflicts.Load())
	}

	got, err := s.GetAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if !got.Resolved || got.ResolvedAt == nil || got.ResolvedBy == "" {
		t.Errorf("unexpected final state: %+v", got)
	}
}

func TestAlertSetOnceFlags(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := seedAlert(t, s)

	a, err := s.AcknowledgeAlert(ctx, a.ID, "operator-1")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if !a.Acknowledged || a.AcknowledgedAt == nil {
		t.Error("expected acknowledged flag and timestamp")
	}

	// Second acknowledge is a conflict
	_, err = s.AcknowledgeAlert(ctx, a.ID, "operator-2")
	if !errors.IsConflict(err) {
		t.Errorf("expected conflict on repeat acknowledge, got %v", err)
	}

	a, err = s.EscalateAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}

	a, err = s.ResolveAlert(ctx, a.ID, "operator-1", "replaced bearing")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.ResolutionNotes != "replaced bearing" {
		t.Errorf("expected resolution notes, got %q", a.ResolutionNotes)
	}
}

func TestResolvedAlertRejectsEverything(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := seedAlert(t, s)
	if _, err := s.ResolveAlert(ctx, a.ID, "operator-1", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := s.AcknowledgeAlert(ctx, a.ID, "x"); !errors.IsConflict(err) {
		t.Errorf("expected conflict on acknowledge after resolve, got %v", err)
	}
	if _, err := s.ResolveAlert(ctx, a.ID, "x", ""); !errors.IsConflict(err) {
		t.Errorf("expected conflict on repeat resolve, got %v", err)
	}
	if _, err := s.EscalateAlert(ctx, a.ID); !errors.IsConflict(err) {
		t.Errorf("expected conflict on escalate after resolve, got %v", err)
	}
}

func TestAlertRelatedAnomalyMustExist(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedClient(t, s, "acme", 0)
	seedMachine(t, s, "press-01", "acme")

	a := &Alert{
		MachineID:        "press-01",
		ClientID:         "acme",
		RelatedAnomalyID: "no-such-anomaly",
		Severity:         "critical",
		Title:            "Linked alert",
	}
	err := s.CreateAlert(ctx, a)
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error for missing anomaly, got %v", err)
	}
}

// =============================================================================
// Models
// =============================================================================

func TestModelActiveSwap(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seedClient(t, s, "acme", 0)
	seedMachine(t, s, "press-01", "acme")

	first := &Model{
		MachineID: "press-01", ClientID: "acme",
		ModelType: "vibration_forecast", Version: "1.0",
		Accuracy: 0.91, Precision: 0.9, Recall: 0.88, F1Score: 0.89,
		IsActive: true,
	}
	if err := s.RegisterModel(ctx, first); err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}

	second := &Model{
		MachineID: "press-01", ClientID: "acme",
		ModelType: "vibration_forecast", Version: "2.0",
		Accuracy: 0.95, Precision: 0.94, Recall: 0.93, F1Score: 0.93,
		IsActive: true,
	}
	if err := s.RegisterModel(ctx, second); err != nil {
		t.Fatalf("RegisterModel v2: %v", err)
	}

	active, err := s.GetActiveModel(ctx, "press-01", "vibration_forecast")
	if err != nil {
		t.Fatalf("GetActiveModel: %v", err)
	}
	if active.Version != "2.0" {
		t.Errorf("expected v2.0 active, got %s", active.Version)
	}

	models, err := s.ListModels(ctx, "press-01")
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	activeCount := 0
	for _, m := range models {
		if m.IsActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Errorf("expected exactly 1 active model, got %d", activeCount)
	}
}

func TestModelScoreBounds(t *testing.T) {
	s := testStore(t)

	m := &Model{
		MachineID: "press-01", ClientID: "acme",
		ModelType: "forecast", Version: "1.0",
		Accuracy: 1.2,
	}
	err := s.RegisterModel(context.Background(), m)
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error for score > 1, got %v", err)
	}
}

// =============================================================================
// Rollups
// =============================================================================

func f64(v float64) *float64 { return &v }

func testRollup(machineID string, bucketStart int64, g types.Granularity) *types.RollupRecord {
	return &types.RollupRecord{
		MachineID:    machineID,
		ClientID:     "acme",
		BucketStart:  bucketStart,
		Granularity:  g,
		ReadingCount: 42,
		TempAvg:      f64(71.5),
		TempMin:      f64(64.0),
		TempMax:      f64(86.2),
		HighTempCount: 3,
		ComputedAtMs: time.Now().UnixMilli(),
	}
}

func TestRollupReplaceIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	bucket := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC).UnixMilli()
	r := testRollup("press-01", bucket, types.GranularityHourly)

	for i := 0; i < 3; i++ {
		if err := s.Replace(ctx, r); err != nil {
			t.Fatalf("Replace run %d: %v", i, err)
		}
	}

	got, err := s.GetRollup(ctx, "press-01", bucket, types.GranularityHourly)
	if err != nil {
		t.Fatalf("GetRollup: %v", err)
	}
	if got == nil {
		t.Fatal("expected rollup row")
	}
	if got.ReadingCount != 42 || got.HighTempCount != 3 {
		t.Errorf("unexpected rollup: count=%d high_temp=%d", got.ReadingCount, got.HighTempCount)
	}
	if got.TempAvg == nil || *got.TempAvg != 71.5 {
		t.Errorf("expected temp_avg 71.5, got %v", got.TempAvg)
	}
	if got.VibAvg != nil {
		t.Errorf("expected nil vib_avg, got %v", *got.VibAvg)
	}

	rows, err := s.ListRollups(ctx, "press-01", types.GranularityHourly, bucket, bucket+1)
	if err != nil {
		t.Fatalf("ListRollups: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected exactly 1 row after repeated replace, got %d", len(rows))
	}
}

func TestRollupDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	bucket := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC).UnixMilli()
	r := testRollup("press-01", bucket, types.GranularityHourly)

	if err := s.Replace(ctx, r); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := s.Delete(ctx, "press-01", bucket, types.GranularityHourly); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := s.GetRollup(ctx, "press-01", bucket, types.GranularityHourly)
	if err != nil {
		t.Fatalf("GetRollup: %v", err)
	}
	if got != nil {
		t.Error("expected rollup row to be gone")
	}

	// Deleting again is a no-op
	if err := s.Delete(ctx, "press-01", bucket, types.GranularityHourly); err != nil {
		t.Errorf("repeat delete should be a no-op: %v", err)
	}
}

func TestDeleteRollupsBefore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	fresh := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	for _, bucket := range []int64{old, fresh} {
		if err := s.Replace(ctx, testRollup("press-01", bucket, types.GranularityHourly)); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		if err := s.Replace(ctx, testRollup("press-01", bucket, types.GranularityDaily)); err != nil {
			t.Fatalf("Replace daily: %v", err)
		}
	}

	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	deleted, err := s.DeleteRollupsBefore(ctx, types.GranularityHourly, cutoff)
	if err != nil {
		t.Fatalf("DeleteRollupsBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 hourly row deleted, got %d", deleted)
	}

	// Daily rows have their own horizon and are untouched here
	daily, err := s.ListRollups(ctx, "press-01", types.GranularityDaily, 0, fresh+1)
	if err != nil {
		t.Fatalf("ListRollups daily: %v", err)
	}
	if len(daily) != 2 {
		t.Errorf("expected 2 daily rows, got %d", len(daily))
	}
}
