package client_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aispark/pdmcore/internal/client"
	"github.com/aispark/pdmcore/internal/server"
	"github.com/aispark/pdmcore/internal/storage"
	"github.com/aispark/pdmcore/internal/storage/config"
	"github.com/aispark/pdmcore/internal/store"

	"net/http/httptest"
)

func newAPI(t *testing.T) *client.Client {
	t.Helper()

	st, err := store.New(store.Config{
		Path: filepath.Join(t.TempDir(), "metastore.db"),
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Refresh.Debounce = 50 * time.Millisecond
	cfg.Ingest.Flush.Interval = time.Hour

	svc, err := storage.New(cfg, st)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("svc.Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })

	srv := server.New(server.Config{}, svc, st)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return client.New(client.Config{BaseURL: ts.URL})
}

func provision(t *testing.T, api *client.Client) {
	t.Helper()
	ctx := context.Background()

	if _, err := api.CreateClient(ctx, &client.TenantClient{
		ClientID: "acme",
		Name:     "Acme Corp",
	}); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if _, err := api.CreateMachine(ctx, &client.Machine{
		MachineID:   "press-01",
		ClientID:    "acme",
		Name:        "Hydraulic Press 1",
		MachineType: "press",
	}); err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
}

func f64(v float64) *float64 { return &v }

func TestClientRoundTrip(t *testing.T) {
	api := newAPI(t)
	provision(t, api)
	ctx := context.Background()

	now := time.Now().Add(-time.Minute)
	err := api.AppendReadings(ctx, []client.Reading{{
		ClientID:    "acme",
		MachineID:   "press-01",
		SensorType:  "multi",
		TimestampMs: now.UnixMilli(),
		Temperature: f64(72.5),
		Vibration:   f64(1.9),
	}})
	if err != nil {
		t.Fatalf("AppendReadings: %v", err)
	}

	readings, err := api.QueryReadings(ctx, "press-01", client.ReadingFilter{})
	if err != nil {
		t.Fatalf("QueryReadings: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(readings))
	}
	if readings[0].Temperature == nil || *readings[0].Temperature != 72.5 {
		t.Errorf("unexpected temperature: %v", readings[0].Temperature)
	}
}

func TestClientErrorMapping(t *testing.T) {
	api := newAPI(t)
	provision(t, api)
	ctx := context.Background()

	_, err := api.GetClient(ctx, "ghost")
	apiErr, ok := err.(*client.APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.IsNotFound() {
		t.Errorf("expected not found, got status %d", apiErr.StatusCode)
	}

	// Duplicate create maps to conflict
	_, err = api.CreateClient(ctx, &client.TenantClient{ClientID: "acme", Name: "Again"})
	apiErr, ok = err.(*client.APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.IsConflict() {
		t.Errorf("expected conflict, got status %d", apiErr.StatusCode)
	}
}

func TestClientAnomalyAndAlertFlow(t *testing.T) {
	api := newAPI(t)
	provision(t, api)
	ctx := context.Background()

	a, err := api.CreateAnomaly(ctx, &client.Anomaly{
		MachineID:       "press-01",
		ClientID:        "acme",
		DetectedAt:      time.Now(),
		AnomalyType:     "vibration_spike",
		Severity:        "high",
		ConfidenceScore: 0.9,
	})
	if err != nil {
		t.Fatalf("CreateAnomaly: %v", err)
	}

	resolved, err := api.TransitionAnomaly(ctx, a.ID, "resolved", "jo")
	if err != nil {
		t.Fatalf("TransitionAnomaly: %v", err)
	}
	if resolved.Status != "resolved" {
		t.Errorf("expected resolved, got %s", resolved.Status)
	}

	alert, err := api.CreateAlert(ctx, &client.Alert{
		MachineID: "press-01",
		ClientID:  "acme",
		Severity:  "warning",
		Title:     "Vibration trending up",
	})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	acked, err := api.AcknowledgeAlert(ctx, alert.ID, "jo")
	if err != nil {
		t.Fatalf("AcknowledgeAlert: %v", err)
	}
	if !acked.Acknowledged {
		t.Error("expected alert acknowledged")
	}
}

func TestClientStream(t *testing.T) {
	api := newAPI(t)
	provision(t, api)
	ctx := context.Background()

	events := make(chan client.WriteEvent, 8)
	stream := api.Stream("press-01", func(e client.WriteEvent) {
		events <- e
	})
	defer stream.Close()

	// Wait for the stream to connect before appending
	deadline := time.Now().Add(5 * time.Second)
	for !stream.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("stream never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	err := api.AppendReadings(ctx, []client.Reading{{
		ClientID:    "acme",
		MachineID:   "press-01",
		SensorType:  "multi",
		TimestampMs: time.Now().UnixMilli(),
		Vibration:   f64(2.0),
	}})
	if err != nil {
		t.Fatalf("AppendReadings: %v", err)
	}

	select {
	case e := <-events:
		if e.MachineID != "press-01" {
			t.Errorf("unexpected event machine: %s", e.MachineID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no stream event received")
	}
}
