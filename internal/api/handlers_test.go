package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BKBLABS/monitoring-platform/internal/pipeline"
	"github.com/BKBLABS/monitoring-platform/internal/storage"
)

type fakeRunner struct {
	startErr error
	starts   int
	report   *pipeline.CycleReport
	state    pipeline.CycleState
	skipped  int64
}

func (r *fakeRunner) StartCycle(ctx context.Context) error {
	r.starts++
	return r.startErr
}

func (r *fakeRunner) LastReport() (pipeline.CycleReport, bool) {
	if r.report == nil {
		return pipeline.CycleReport{}, false
	}
	return *r.report, true
}

func (r *fakeRunner) State() pipeline.CycleState {
	if r.state == "" {
		return pipeline.StateIdle
	}
	return r.state
}

func (r *fakeRunner) SkippedCycles() int64 { return r.skipped }

type fakeAlertStore struct {
	alerts    []storage.AlertEventRecord
	err       error
	lastLimit int
}

func (s *fakeAlertStore) ListAlertEvents(ctx context.Context, limit int) ([]storage.AlertEventRecord, error) {
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.alerts, nil
}

type fakeWatermarks struct {
	position time.Time
	err      error
}

func (f *fakeWatermarks) GetWatermark(ctx context.Context, stream string) (time.Time, error) {
	if f.err != nil {
		return time.Time{}, f.err
	}
	return f.position, nil
}

type fakeDeliveryCounter struct {
	count int64
	err   error
}

func (f *fakeDeliveryCounter) CountDeliveries(ctx context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

type fakePinger struct{ err error }

func (p *fakePinger) Ping(ctx context.Context) error { return p.err }

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestHealthzOK(t *testing.T) {
	h := &Handler{Runner: &fakeRunner{}, Pinger: &fakePinger{}, Timeout: time.Second}
	r := newTestRouter(h)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestHealthzStoreDown(t *testing.T) {
	h := &Handler{Runner: &fakeRunner{}, Pinger: &fakePinger{err: errors.New("down")}, Timeout: time.Second}
	r := newTestRouter(h)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestStatusIncludesReportAndWatermark(t *testing.T) {
	position := time.Date(2024, 4, 25, 9, 0, 0, 0, time.UTC)
	runner := &fakeRunner{
		report:  &pipeline.CycleReport{CycleID: "c-1", Outcome: "completed", Sent: 2},
		skipped: 3,
	}
	h := &Handler{
		Runner:     runner,
		Watermarks: &fakeWatermarks{position: position},
		Deliveries: &fakeDeliveryCounter{count: 7},
		StartedAt:  time.Now().Add(-time.Minute),
		Timeout:    time.Second,
	}
	r := newTestRouter(h)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/status", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if parsed.State != "IDLE" || parsed.SkippedCycles != 3 {
		t.Fatalf("unexpected status: %+v", parsed)
	}
	if parsed.LastCycle == nil || parsed.LastCycle.CycleID != "c-1" {
		t.Fatalf("expected last cycle in status: %+v", parsed)
	}
	if parsed.Watermark == nil || !parsed.Watermark.Equal(position) {
		t.Fatalf("expected watermark %v, got %+v", position, parsed.Watermark)
	}
	if parsed.TrackedFingerprints == nil || *parsed.TrackedFingerprints != 7 {
		t.Fatalf("expected tracked fingerprints 7, got %+v", parsed.TrackedFingerprints)
	}
	if parsed.UptimeSeconds < 59 {
		t.Fatalf("uptime too small: %d", parsed.UptimeSeconds)
	}
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	h := &Handler{
		Runner:     &fakeRunner{},
		Watermarks: &fakeWatermarks{err: errors.New("not found")},
		Deliveries: &fakeDeliveryCounter{err: errors.New("db down")},
		StartedAt:  time.Now(),
		Timeout:    time.Second,
	}
	r := newTestRouter(h)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/status", nil))
	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if parsed.LastCycle != nil || parsed.Watermark != nil || parsed.TrackedFingerprints != nil {
		t.Fatalf("expected empty status, got %+v", parsed)
	}
}

func TestAlertsList(t *testing.T) {
	store := &fakeAlertStore{alerts: []storage.AlertEventRecord{
		{ID: "a-1", RuleID: "error-rate-exceeded", Severity: "CRITICAL", Outcome: "SENT"},
	}}
	h := &Handler{Runner: &fakeRunner{}, Alerts: store, Timeout: time.Second}
	r := newTestRouter(h)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/alerts?limit=10", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if store.lastLimit != 10 {
		t.Fatalf("limit not forwarded, got %d", store.lastLimit)
	}
	var parsed []storage.AlertEventRecord
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(parsed) != 1 || parsed[0].ID != "a-1" {
		t.Fatalf("unexpected alerts: %+v", parsed)
	}
}

func TestAlertsDefaultLimit(t *testing.T) {
	store := &fakeAlertStore{}
	h := &Handler{Runner: &fakeRunner{}, Alerts: store, Timeout: time.Second}
	r := newTestRouter(h)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/alerts", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if store.lastLimit != 50 {
		t.Fatalf("default limit = %d, want 50", store.lastLimit)
	}
}

func TestAlertsRejectsBadLimit(t *testing.T) {
	h := &Handler{Runner: &fakeRunner{}, Alerts: &fakeAlertStore{}, Timeout: time.Second}
	r := newTestRouter(h)

	for _, raw := range []string{"abc", "-1", "0"} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/alerts?limit="+raw, nil))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("limit %q: expected 400, got %d", raw, resp.Code)
		}
	}
}

func TestRulesEndpoint(t *testing.T) {
	h := &Handler{Runner: &fakeRunner{}, Rules: pipeline.DefaultRules(0.5), Timeout: time.Second}
	r := newTestRouter(h)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/rules", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var parsed []pipeline.Rule
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(parsed) == 0 || parsed[0].ID != "error-rate-exceeded" {
		t.Fatalf("unexpected rules: %+v", parsed)
	}
}

func TestCycleRunAccepted(t *testing.T) {
	runner := &fakeRunner{}
	h := &Handler{Runner: runner, Timeout: time.Second}
	r := newTestRouter(h)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/cycle/run", nil))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	if runner.starts != 1 {
		t.Fatalf("StartCycle calls = %d, want 1", runner.starts)
	}
}

func TestCycleRunConflict(t *testing.T) {
	runner := &fakeRunner{startErr: pipeline.ErrCycleInFlight}
	h := &Handler{Runner: runner, Timeout: time.Second}
	r := newTestRouter(h)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/cycle/run", nil))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}
