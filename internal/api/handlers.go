package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BKBLABS/monitoring-platform/internal/pipeline"
	"github.com/BKBLABS/monitoring-platform/internal/storage"
)

// CycleRunner is the slice of the orchestrator the API needs.
type CycleRunner interface {
	StartCycle(ctx context.Context) error
	LastReport() (pipeline.CycleReport, bool)
	State() pipeline.CycleState
	SkippedCycles() int64
}

// AlertStore reads alert history from the state store.
type AlertStore interface {
	ListAlertEvents(ctx context.Context, limit int) ([]storage.AlertEventRecord, error)
}

// WatermarkReader reads the persisted stream position.
type WatermarkReader interface {
	GetWatermark(ctx context.Context, stream string) (time.Time, error)
}

// DeliveryCounter reports how many fingerprints the dispatcher tracks.
type DeliveryCounter interface {
	CountDeliveries(ctx context.Context) (int64, error)
}

// Pinger checks state store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Runner     CycleRunner
	Alerts     AlertStore
	Watermarks WatermarkReader
	Deliveries DeliveryCounter
	Pinger     Pinger
	Rules      []pipeline.Rule
	Timeout    time.Duration
	StartedAt  time.Time
}

type statusResponse struct {
	State               string                `json:"state"`
	UptimeSeconds       int64                 `json:"uptime_seconds"`
	SkippedCycles       int64                 `json:"skipped_cycles"`
	TrackedFingerprints *int64                `json:"tracked_fingerprints,omitempty"`
	Watermark           *time.Time            `json:"watermark,omitempty"`
	LastCycle           *pipeline.CycleReport `json:"last_cycle,omitempty"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealthz)
	r.Get("/status", h.handleStatus)
	r.Get("/alerts", h.handleAlerts)
	r.Get("/rules", h.handleRules)
	r.Post("/cycle/run", h.handleCycleRun)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	if h.Pinger != nil {
		if err := h.Pinger.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "message": "state store unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:         string(h.Runner.State()),
		UptimeSeconds: int64(time.Since(h.StartedAt).Seconds()),
		SkippedCycles: h.Runner.SkippedCycles(),
	}
	if report, ok := h.Runner.LastReport(); ok {
		resp.LastCycle = &report
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	if h.Watermarks != nil {
		if position, err := h.Watermarks.GetWatermark(ctx, pipeline.WatermarkStream); err == nil {
			resp.Watermark = &position
		}
	}
	if h.Deliveries != nil {
		if count, err := h.Deliveries.CountDeliveries(ctx); err == nil {
			resp.TrackedFingerprints = &count
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "invalid limit"})
			return
		}
		limit = parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	alerts, err := h.Alerts.ListAlertEvents(ctx, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list alerts"})
		return
	}
	if alerts == nil {
		alerts = []storage.AlertEventRecord{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) handleRules(w http.ResponseWriter, r *http.Request) {
	rules := h.Rules
	if rules == nil {
		rules = []pipeline.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *Handler) handleCycleRun(w http.ResponseWriter, r *http.Request) {
	// The cycle outlives the request, so it gets a fresh context.
	err := h.Runner.StartCycle(context.Background())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "message": "cycle started"})
	case errors.Is(err, pipeline.ErrCycleInFlight):
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "message": "cycle already in flight"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": err.Error()})
	}
}

func (h *Handler) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return 10 * time.Second
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
