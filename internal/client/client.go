// Package client is a Go client for the pdmcore HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Category   string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Category, e.Message)
}

// IsNotFound returns true for 404 responses.
func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsConflict returns true for 409 responses.
func (e *APIError) IsConflict() bool { return e.StatusCode == http.StatusConflict }

// Config holds client configuration.
type Config struct {
	// BaseURL is the server base URL (e.g., "http://localhost:8080").
	BaseURL string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
}

// Client talks to a pdmcore server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    hc,
	}
}

// do issues a request and decodes the response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb struct {
			Error    string `json:"error"`
			Category string `json:"category"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(data, &eb); err != nil {
			eb.Error = string(data)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Category:   eb.Category,
			Message:    eb.Error,
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// =============================================================================
// Clients and Machines
// =============================================================================

// TenantClient is a tenant that owns machines.
type TenantClient struct {
	ClientID         string     `json:"client_id"`
	Name             string     `json:"name"`
	SubscriptionTier string     `json:"subscription_tier,omitempty"`
	MachineQuota     int        `json:"machine_quota,omitempty"`
	Active           bool       `json:"active,omitempty"`
	LastSeen         *time.Time `json:"last_seen,omitempty"`
	Version          int        `json:"version,omitempty"`
}

// Machine is a monitored machine.
type Machine struct {
	MachineID               string     `json:"machine_id"`
	ClientID                string     `json:"client_id"`
	Name                    string     `json:"name"`
	MachineType             string     `json:"machine_type"`
	Criticality             string     `json:"criticality,omitempty"`
	Location                string     `json:"location,omitempty"`
	MaintenanceIntervalDays int        `json:"maintenance_interval_days,omitempty"`
	LastMaintenance         *time.Time `json:"last_maintenance,omitempty"`
	NextMaintenance         *time.Time `json:"next_maintenance,omitempty"`
	Active                  bool       `json:"active,omitempty"`
	Version                 int        `json:"version,omitempty"`
}

// CreateClient registers a tenant.
func (c *Client) CreateClient(ctx context.Context, tc *TenantClient) (*TenantClient, error) {
	var out TenantClient
	if err := c.do(ctx, http.MethodPost, "/v1/clients", tc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetClient fetches a tenant by id.
func (c *Client) GetClient(ctx context.Context, clientID string) (*TenantClient, error) {
	var out TenantClient
	if err := c.do(ctx, http.MethodGet, "/v1/clients/"+url.PathEscape(clientID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListClients lists all tenants.
func (c *Client) ListClients(ctx context.Context) ([]TenantClient, error) {
	var out []TenantClient
	if err := c.do(ctx, http.MethodGet, "/v1/clients", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMachine registers a machine under its owning tenant.
func (c *Client) CreateMachine(ctx context.Context, m *Machine) (*Machine, error) {
	var out Machine
	if err := c.do(ctx, http.MethodPost, "/v1/machines", m, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMachine fetches a machine by id.
func (c *Client) GetMachine(ctx context.Context, machineID string) (*Machine, error) {
	var out Machine
	if err := c.do(ctx, http.MethodGet, "/v1/machines/"+url.PathEscape(machineID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMachines lists machines, optionally filtered by owning tenant.
func (c *Client) ListMachines(ctx context.Context, clientID string) ([]Machine, error) {
	path := "/v1/machines"
	if clientID != "" {
		path += "?client_id=" + url.QueryEscape(clientID)
	}
	var out []Machine
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// Readings and Rollups
// =============================================================================

// Reading is one sensor reading.
type Reading struct {
	ClientID    string             `json:"client_id"`
	MachineID   string             `json:"machine_id"`
	SensorType  string             `json:"sensor_type"`
	TimestampMs int64              `json:"timestamp_ms"`
	Temperature *float64           `json:"temperature,omitempty"`
	Vibration   *float64           `json:"vibration,omitempty"`
	Power       *float64           `json:"power,omitempty"`
	Pressure    *float64           `json:"pressure,omitempty"`
	Speed       *float64           `json:"speed,omitempty"`
	Efficiency  *float64           `json:"efficiency,omitempty"`
	Custom      map[string]float64 `json:"custom,omitempty"`
}

// Rollup is one aggregated bucket for a machine.
type Rollup struct {
	MachineID    string   `json:"machine_id"`
	ClientID     string   `json:"client_id"`
	BucketStart  int64    `json:"bucket_start_ms"`
	Granularity  string   `json:"granularity"`
	ReadingCount int64    `json:"reading_count"`
	TempAvg      *float64 `json:"temp_avg,omitempty"`
	TempMin      *float64 `json:"temp_min,omitempty"`
	TempMax      *float64 `json:"temp_max,omitempty"`
	TempStddev   *float64 `json:"temp_stddev,omitempty"`
	TempP95      *float64 `json:"temp_p95,omitempty"`
	VibAvg       *float64 `json:"vib_avg,omitempty"`
	VibMax       *float64 `json:"vib_max,omitempty"`
	VibP95       *float64 `json:"vib_p95,omitempty"`
	HighTemp     int64    `json:"high_temp_count"`
	HighVib      int64    `json:"high_vib_count"`
}

// AppendReadings sends a batch of readings.
func (c *Client) AppendReadings(ctx context.Context, readings []Reading) error {
	body := map[string]interface{}{"readings": readings}
	return c.do(ctx, http.MethodPost, "/v1/readings", body, nil)
}

// ReadingFilter narrows a readings query.
type ReadingFilter struct {
	SensorType string
	Start      time.Time
	End        time.Time
	Limit      int
}

// QueryReadings fetches raw readings for one machine, newest first.
func (c *Client) QueryReadings(ctx context.Context, machineID string, f ReadingFilter) ([]Reading, error) {
	return c.queryReadings(ctx, "/v1/machines/"+url.PathEscape(machineID)+"/readings", f)
}

// QueryClientReadings fetches raw readings across all of a tenant's
// machines, newest first.
func (c *Client) QueryClientReadings(ctx context.Context, clientID string, f ReadingFilter) ([]Reading, error) {
	return c.queryReadings(ctx, "/v1/clients/"+url.PathEscape(clientID)+"/readings", f)
}

func (c *Client) queryReadings(ctx context.Context, path string, f ReadingFilter) ([]Reading, error) {
	q := url.Values{}
	if f.SensorType != "" {
		q.Set("sensor_type", f.SensorType)
	}
	if !f.Start.IsZero() {
		q.Set("start", strconv.FormatInt(f.Start.UnixMilli(), 10))
	}
	if !f.End.IsZero() {
		q.Set("end", strconv.FormatInt(f.End.UnixMilli(), 10))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Reading
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryRollups fetches aggregated buckets for one machine.
func (c *Client) QueryRollups(ctx context.Context, machineID, granularity string, start, end time.Time) ([]Rollup, error) {
	q := url.Values{}
	if granularity != "" {
		q.Set("granularity", granularity)
	}
	if !start.IsZero() {
		q.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		q.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	}

	path := "/v1/machines/" + url.PathEscape(machineID) + "/rollups"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Rollup
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// Anomalies, Alerts, Models
// =============================================================================

// Anomaly is a detected anomaly.
type Anomaly struct {
	ID              string    `json:"id,omitempty"`
	MachineID       string    `json:"machine_id"`
	ClientID        string    `json:"client_id"`
	DetectedAt      time.Time `json:"detected_at"`
	AnomalyType     string    `json:"anomaly_type"`
	Severity        string    `json:"severity"`
	ConfidenceScore float64   `json:"confidence_score"`
	Description     string    `json:"description,omitempty"`
	Status          string    `json:"status,omitempty"`
}

// CreateAnomaly records an anomaly.
func (c *Client) CreateAnomaly(ctx context.Context, a *Anomaly) (*Anomaly, error) {
	var out Anomaly
	if err := c.do(ctx, http.MethodPost, "/v1/anomalies", a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransitionAnomaly moves an anomaly through its lifecycle.
func (c *Client) TransitionAnomaly(ctx context.Context, id, status, actor string) (*Anomaly, error) {
	body := map[string]string{"status": status, "actor": actor}
	var out Anomaly
	if err := c.do(ctx, http.MethodPost, "/v1/anomalies/"+url.PathEscape(id)+"/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Alert is an operator-facing alert.
type Alert struct {
	ID               string `json:"id,omitempty"`
	MachineID        string `json:"machine_id"`
	ClientID         string `json:"client_id"`
	RelatedAnomalyID string `json:"related_anomaly_id,omitempty"`
	Severity         string `json:"severity"`
	Title            string `json:"title"`
	Message          string `json:"message,omitempty"`
	Acknowledged     bool   `json:"acknowledged,omitempty"`
	Resolved         bool   `json:"resolved,omitempty"`
	Escalated        bool   `json:"escalated,omitempty"`
}

// CreateAlert raises an alert.
func (c *Client) CreateAlert(ctx context.Context, a *Alert) (*Alert, error) {
	var out Alert
	if err := c.do(ctx, http.MethodPost, "/v1/alerts", a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AcknowledgeAlert marks an alert acknowledged.
func (c *Client) AcknowledgeAlert(ctx context.Context, id, actor string) (*Alert, error) {
	var out Alert
	body := map[string]string{"actor": actor}
	if err := c.do(ctx, http.MethodPost, "/v1/alerts/"+url.PathEscape(id)+"/acknowledge", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveAlert marks an alert resolved.
func (c *Client) ResolveAlert(ctx context.Context, id, actor, notes string) (*Alert, error) {
	var out Alert
	body := map[string]string{"actor": actor, "notes": notes}
	if err := c.do(ctx, http.MethodPost, "/v1/alerts/"+url.PathEscape(id)+"/resolve", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EscalateAlert marks an alert escalated.
func (c *Client) EscalateAlert(ctx context.Context, id string) (*Alert, error) {
	var out Alert
	if err := c.do(ctx, http.MethodPost, "/v1/alerts/"+url.PathEscape(id)+"/escalate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Model is a registered prediction model.
type Model struct {
	ID        string    `json:"id,omitempty"`
	MachineID string    `json:"machine_id"`
	ClientID  string    `json:"client_id"`
	ModelType string    `json:"model_type"`
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Precision float64   `json:"precision,omitempty"`
	Recall    float64   `json:"recall,omitempty"`
	F1Score   float64   `json:"f1_score,omitempty"`
	IsActive  bool      `json:"is_active,omitempty"`
}

// RegisterModel registers a model version.
func (c *Client) RegisterModel(ctx context.Context, m *Model) (*Model, error) {
	var out Model
	if err := c.do(ctx, http.MethodPost, "/v1/models", m, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActiveModel fetches the active model for a machine and model type.
func (c *Client) ActiveModel(ctx context.Context, machineID, modelType string) (*Model, error) {
	path := "/v1/machines/" + url.PathEscape(machineID) + "/models/active?model_type=" + url.QueryEscape(modelType)
	var out Model
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Operations
// =============================================================================

// Health is the server health summary.
type Health struct {
	Status    string `json:"status"`
	Running   bool   `json:"running"`
	Metastore string `json:"metastore"`
	Uptime    string `json:"uptime"`
}

// GetHealth fetches the server health.
func (c *Client) GetHealth(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
