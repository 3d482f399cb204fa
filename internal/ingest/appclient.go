package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AppClient talks to the monitored application's metrics API.
type AppClient struct {
	BaseURL     string
	MetricsPath string
	HealthPath  string
	Timeout     time.Duration
}

// AppMetrics is one sample as served by the application.
type AppMetrics struct {
	Timestamp      int64   `json:"timestamp"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	ErrorRate      float64 `json:"error_rate"`
}

// HealthStatus reports the application's own health endpoint.
type HealthStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func NewAppClient(baseURL, metricsPath, healthPath string, timeout time.Duration) *AppClient {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if healthPath == "" {
		healthPath = "/health"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AppClient{BaseURL: baseURL, MetricsPath: metricsPath, HealthPath: healthPath, Timeout: timeout}
}

func (c *AppClient) Metrics(ctx context.Context) (AppMetrics, error) {
	var sample AppMetrics
	if err := c.getJSON(ctx, c.BaseURL+c.MetricsPath, &sample); err != nil {
		return AppMetrics{}, fmt.Errorf("fetch app metrics: %w", err)
	}
	return sample, nil
}

// Health never fails hard: an unreachable endpoint reports as unhealthy
// so the caller can surface it without aborting collection.
func (c *AppClient) Health(ctx context.Context) HealthStatus {
	var status HealthStatus
	if err := c.getJSON(ctx, c.BaseURL+c.HealthPath, &status); err != nil {
		return HealthStatus{Status: "unhealthy", Error: err.Error()}
	}
	if status.Status == "" {
		status.Status = "unknown"
	}
	return status
}

func (c *AppClient) getJSON(ctx context.Context, url string, out any) error {
	client := &http.Client{Timeout: c.Timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
