package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aispark/pdmcore/internal/storage"
	"github.com/aispark/pdmcore/internal/storage/config"
	"github.com/aispark/pdmcore/internal/store"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
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

	srv := New(Config{}, svc, st)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func createFixtures(t *testing.T, base string) {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, base+"/v1/clients", map[string]interface{}{
		"client_id": "acme",
		"name":      "Acme Corp",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create client: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, base+"/v1/machines", map[string]interface{}{
		"machine_id":   "press-01",
		"client_id":    "acme",
		"name":         "Hydraulic Press 1",
		"machine_type": "press",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create machine: %d %s", resp.StatusCode, body)
	}
}

func TestClientEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/clients", map[string]interface{}{
		"client_id": "acme",
		"name":      "Acme Corp",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, body)
	}

	var created clientView
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.SubscriptionTier != "standard" {
		t.Errorf("expected default tier, got %q", created.SubscriptionTier)
	}

	// Duplicate
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/clients", map[string]interface{}{
		"client_id": "acme",
		"name":      "Acme Again",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create: expected 409, got %d", resp.StatusCode)
	}

	// Unknown id
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/clients/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get unknown: expected 404, got %d", resp.StatusCode)
	}

	// Stale version
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/v1/clients/acme", map[string]interface{}{
		"name":    "Acme Renamed",
		"version": 99,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("stale update: expected 409, got %d", resp.StatusCode)
	}

	// Current version
	resp, body = doJSON(t, http.MethodPut, ts.URL+"/v1/clients/acme", map[string]interface{}{
		"name":    "Acme Renamed",
		"version": created.Version,
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("update: %d %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/v1/clients/acme", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("deactivate: expected 204, got %d", resp.StatusCode)
	}
}

func TestMachineQuotaOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/v1/clients", map[string]interface{}{
		"client_id":     "small",
		"name":          "Small Shop",
		"machine_quota": 1,
	})

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/machines", map[string]interface{}{
		"machine_id": "m-1", "client_id": "small", "name": "One", "machine_type": "cnc",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first machine: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/machines", map[string]interface{}{
		"machine_id": "m-2", "client_id": "small", "name": "Two", "machine_type": "cnc",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("over quota: expected 409, got %d", resp.StatusCode)
	}
}

func TestAppendAndQueryReadings(t *testing.T) {
	_, ts := newTestServer(t)
	createFixtures(t, ts.URL)

	now := time.Now().Add(-time.Minute)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/readings", map[string]interface{}{
		"readings": []map[string]interface{}{
			{
				"client_id":    "acme",
				"machine_id":   "press-01",
				"sensor_type":  "multi",
				"timestamp_ms": now.UnixMilli(),
				"temperature":  71.5,
				"vibration":    2.2,
			},
		},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("append: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/machines/press-01/readings", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query: %d %s", resp.StatusCode, body)
	}
	var readings []readingView
	if err := json.Unmarshal(body, &readings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(readings))
	}
	if readings[0].Temperature == nil || *readings[0].Temperature != 71.5 {
		t.Errorf("unexpected temperature: %v", readings[0].Temperature)
	}
}

func TestQueryReadingsByClient(t *testing.T) {
	_, ts := newTestServer(t)
	createFixtures(t, ts.URL)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/machines", map[string]interface{}{
		"machine_id":   "cnc-01",
		"client_id":    "acme",
		"name":         "CNC Mill 1",
		"machine_type": "cnc",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create second machine: %d", resp.StatusCode)
	}

	now := time.Now().Add(-time.Minute)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/readings", map[string]interface{}{
		"readings": []map[string]interface{}{
			{
				"client_id":    "acme",
				"machine_id":   "press-01",
				"sensor_type":  "multi",
				"timestamp_ms": now.UnixMilli(),
				"temperature":  71.5,
			},
			{
				"client_id":    "acme",
				"machine_id":   "cnc-01",
				"sensor_type":  "multi",
				"timestamp_ms": now.Add(time.Second).UnixMilli(),
				"temperature":  65.0,
			},
		},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("append: %d %s", resp.StatusCode, body)
	}

	// The client-scoped query spans both machines
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/clients/acme/readings", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query: %d %s", resp.StatusCode, body)
	}
	var readings []readingView
	if err := json.Unmarshal(body, &readings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
	if readings[0].MachineID != "cnc-01" || readings[1].MachineID != "press-01" {
		t.Errorf("unexpected order: %s, %s", readings[0].MachineID, readings[1].MachineID)
	}
}

func TestAppendRejectsUnknownMachine(t *testing.T) {
	_, ts := newTestServer(t)
	createFixtures(t, ts.URL)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/readings", map[string]interface{}{
		"readings": []map[string]interface{}{
			{
				"client_id":    "acme",
				"machine_id":   "ghost",
				"sensor_type":  "multi",
				"timestamp_ms": time.Now().UnixMilli(),
			},
		},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAnomalyLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)
	createFixtures(t, ts.URL)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/anomalies", map[string]interface{}{
		"machine_id":       "press-01",
		"client_id":        "acme",
		"detected_at":      time.Now().Format(time.RFC3339),
		"anomaly_type":     "vibration_spike",
		"severity":         "high",
		"confidence_score": 0.92,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create anomaly: %d %s", resp.StatusCode, body)
	}
	var a anomalyView
	json.Unmarshal(body, &a)

	url := fmt.Sprintf("%s/v1/anomalies/%s/status", ts.URL, a.ID)
	resp, _ = doJSON(t, http.MethodPost, url, map[string]string{"status": "resolved", "actor": "jo"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: %d", resp.StatusCode)
	}

	// Resolved is terminal
	resp, _ = doJSON(t, http.MethodPost, url, map[string]string{"status": "acknowledged"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("transition out of resolved: expected 409, got %d", resp.StatusCode)
	}
}

func TestAlertActionsOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)
	createFixtures(t, ts.URL)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/alerts", map[string]interface{}{
		"machine_id": "press-01",
		"client_id":  "acme",
		"severity":   "warning",
		"title":      "Vibration trending up",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create alert: %d %s", resp.StatusCode, body)
	}
	var a alertView
	json.Unmarshal(body, &a)

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/alerts/%s/resolve", ts.URL, a.ID),
		map[string]string{"actor": "jo", "notes": "bearing replaced"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/alerts/%s/acknowledge", ts.URL, a.ID),
		map[string]string{"actor": "jo"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("ack after resolve: expected 409, got %d", resp.StatusCode)
	}
}

func TestModelEndpoints(t *testing.T) {
	_, ts := newTestServer(t)
	createFixtures(t, ts.URL)

	register := func(version string) {
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/models", map[string]interface{}{
			"machine_id": "press-01",
			"client_id":  "acme",
			"model_type": "anomaly_detector",
			"version":    version,
			"trained_at": time.Now().Format(time.RFC3339),
			"accuracy":   0.9,
			"is_active":  true,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("register %s: %d %s", version, resp.StatusCode, body)
		}
	}
	register("1.0.0")
	register("1.1.0")

	resp, body := doJSON(t, http.MethodGet,
		ts.URL+"/v1/machines/press-01/models/active?model_type=anomaly_detector", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("active model: %d %s", resp.StatusCode, body)
	}
	var m modelView
	json.Unmarshal(body, &m)
	if m.Version != "1.1.0" {
		t.Errorf("expected latest registration active, got %q", m.Version)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/machines/press-01/models", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list models: %d", resp.StatusCode)
	}
	var models []modelView
	json.Unmarshal(body, &models)
	if len(models) != 2 {
		t.Errorf("expected 2 models, got %d", len(models))
	}
}

func TestHealthAndStats(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}
	var h healthResponse
	if err := json.Unmarshal(body, &h); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if h.Status != "ok" || !h.Running {
		t.Errorf("unexpected health: %+v", h)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stats: %d", resp.StatusCode)
	}
}
