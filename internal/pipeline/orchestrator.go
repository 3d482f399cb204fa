package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WatermarkStream names the watermark row the orchestrator owns.
const WatermarkStream = "pipeline"

type MetricSource interface {
	FetchApp(ctx context.Context, since time.Time) ([]MetricRecord, error)
	FetchExternal(ctx context.Context, since time.Time) ([]MetricRecord, error)
}

type WatermarkStore interface {
	GetWatermark(ctx context.Context, stream string) (time.Time, error)
	SetWatermark(ctx context.Context, stream string, position time.Time) error
}

type EventPublisher interface {
	Publish(subject string, payload any) error
}

// Orchestrator drives the fetch, correlate, evaluate and dispatch stages
// of one cycle and owns the persistent watermark. Only one cycle runs at
// a time; overlapping starts are rejected with ErrCycleInFlight.
type Orchestrator struct {
	Source        MetricSource
	Watermarks    WatermarkStore
	Dispatcher    *Dispatcher
	Rules         []Rule
	WindowSeconds int
	Lookback      time.Duration
	CallTimeout   time.Duration
	Publisher     EventPublisher
	Logger        *slog.Logger

	now func() time.Time

	mu         sync.Mutex
	inFlight   bool
	state      CycleState
	skipped    int64
	lastReport *CycleReport
}

func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	if !o.begin() {
		return CycleReport{}, ErrCycleInFlight
	}
	defer o.end()
	return o.cycle(ctx)
}

// StartCycle claims the in-flight slot and runs one cycle in the
// background. ErrCycleInFlight is returned when one is already running.
func (o *Orchestrator) StartCycle(ctx context.Context) error {
	if !o.begin() {
		return ErrCycleInFlight
	}
	go func() {
		defer o.end()
		_, _ = o.cycle(ctx)
	}()
	return nil
}

func (o *Orchestrator) cycle(ctx context.Context) (CycleReport, error) {
	started := o.clock()
	report := CycleReport{CycleID: uuid.NewString(), StartedAt: started}
	logger := o.Logger.With(slog.String("cycle_id", report.CycleID))

	watermark, err := o.Watermarks.GetWatermark(ctx, WatermarkStream)
	if err != nil {
		watermark = time.Time{}
	}
	since := watermark
	if floor := started.Add(-o.Lookback); since.Before(floor) {
		since = floor
	}

	o.setState(StateFetching)
	appRecords, externalRecords, maxRecorded, malformed, err := o.fetch(ctx, since, logger)
	if err != nil {
		return o.abort(report, StateFetching, err, logger)
	}
	report.AppFetched = len(appRecords)
	report.ExternalFetched = len(externalRecords)
	report.Malformed = malformed
	if err := ctx.Err(); err != nil {
		return o.abort(report, StateFetching, err, logger)
	}

	o.setState(StateCorrelating)
	results := Correlate(appRecords, externalRecords, o.WindowSeconds)
	report.Results = len(results)
	if err := ctx.Err(); err != nil {
		return o.abort(report, StateCorrelating, err, logger)
	}

	o.setState(StateEvaluating)
	events, evalErrs := Evaluate(results, o.Rules)
	report.Events = len(events)
	for _, evalErr := range evalErrs {
		logger.Warn("rule evaluation failed", slog.String("error", evalErr.Error()))
	}
	if err := ctx.Err(); err != nil {
		return o.abort(report, StateEvaluating, err, logger)
	}

	o.setState(StateDispatching)
	for _, res := range o.Dispatcher.Dispatch(ctx, events) {
		switch res.Outcome {
		case OutcomeSent:
			report.Sent++
		case OutcomeSuppressed:
			report.Suppressed++
		case OutcomeFailed:
			report.Failed++
		}
	}
	if err := ctx.Err(); err != nil {
		return o.abort(report, StateDispatching, err, logger)
	}

	if maxRecorded.After(watermark) {
		if err := o.Watermarks.SetWatermark(ctx, WatermarkStream, maxRecorded); err != nil {
			logger.Error("failed to advance watermark", slog.String("error", err.Error()))
		} else {
			report.Watermark = maxRecorded
		}
	}

	report.Outcome = "completed"
	report.DurationMS = o.clock().Sub(started).Milliseconds()
	o.store(report)
	o.publish(report)
	logger.Info("cycle completed",
		slog.Int("app_fetched", report.AppFetched),
		slog.Int("external_fetched", report.ExternalFetched),
		slog.Int("malformed", report.Malformed),
		slog.Int("results", report.Results),
		slog.Int("events", report.Events),
		slog.Int("sent", report.Sent),
		slog.Int("suppressed", report.Suppressed),
		slog.Int("failed", report.Failed),
		slog.Int64("duration_ms", report.DurationMS))
	return report, nil
}

// Run drives cycles on the given interval until ctx is canceled. A tick
// that fires while a cycle is still running is skipped, not queued.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	o.runOnce(ctx)
	for {
		select {
		case <-ticker.C:
			go o.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context) {
	if _, err := o.RunCycle(ctx); errors.Is(err, ErrCycleInFlight) {
		o.Logger.Warn("cycle still running, skipping tick", slog.Int64("skipped_total", o.noteSkip()))
	}
}

func (o *Orchestrator) fetch(ctx context.Context, since time.Time, logger *slog.Logger) ([]MetricRecord, []MetricRecord, time.Time, int, error) {
	appCtx, cancelApp := context.WithTimeout(ctx, o.CallTimeout)
	defer cancelApp()
	appRaw, err := o.Source.FetchApp(appCtx, since)
	if err != nil {
		return nil, nil, time.Time{}, 0, &TransientFetchError{Stream: "app", Err: err}
	}
	extCtx, cancelExt := context.WithTimeout(ctx, o.CallTimeout)
	defer cancelExt()
	extRaw, err := o.Source.FetchExternal(extCtx, since)
	if err != nil {
		return nil, nil, time.Time{}, 0, &TransientFetchError{Stream: "external", Err: err}
	}
	maxRecorded := maxRecordedAt(appRaw, extRaw)
	appRecords, badApp := validRecords(appRaw, logger)
	externalRecords, badExt := validRecords(extRaw, logger)
	return appRecords, externalRecords, maxRecorded, badApp + badExt, nil
}

// maxRecordedAt spans all fetched records, malformed ones included, so a
// cycle never refetches rows it has already seen.
func maxRecordedAt(streams ...[]MetricRecord) time.Time {
	var max time.Time
	for _, records := range streams {
		for _, rec := range records {
			if rec.RecordedAt.After(max) {
				max = rec.RecordedAt
			}
		}
	}
	return max
}

func validRecords(records []MetricRecord, logger *slog.Logger) ([]MetricRecord, int) {
	valid := make([]MetricRecord, 0, len(records))
	malformed := 0
	for _, rec := range records {
		if reason := validateRecord(rec); reason != "" {
			malformed++
			recErr := &MalformedRecordError{Source: rec.Source, Key: rec.Key, Reason: reason}
			logger.Warn("skipping malformed record", slog.String("error", recErr.Error()))
			continue
		}
		valid = append(valid, rec)
	}
	return valid, malformed
}

func validateRecord(rec MetricRecord) string {
	if rec.Key == "" {
		return "empty key"
	}
	if rec.Timestamp <= 0 {
		return "non-positive timestamp"
	}
	if math.IsNaN(rec.Value) || math.IsInf(rec.Value, 0) {
		return "non-finite value"
	}
	return ""
}

func (o *Orchestrator) abort(report CycleReport, stage CycleState, err error, logger *slog.Logger) (CycleReport, error) {
	report.Outcome = "aborted"
	report.Stage = string(stage)
	report.Err = err.Error()
	report.DurationMS = o.clock().Sub(report.StartedAt).Milliseconds()
	logger.Error("cycle aborted",
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()))
	o.store(report)
	o.publish(report)
	return report, err
}

func (o *Orchestrator) publish(report CycleReport) {
	if o.Publisher == nil {
		return
	}
	if err := o.Publisher.Publish("cycles.completed", report); err != nil {
		o.Logger.Warn("failed to publish cycle report", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return false
	}
	o.inFlight = true
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false
	o.state = StateIdle
}

func (o *Orchestrator) setState(state CycleState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = state
}

func (o *Orchestrator) store(report CycleReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastReport = &report
}

func (o *Orchestrator) noteSkip() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped++
	return o.skipped
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) State() CycleState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == "" {
		return StateIdle
	}
	return o.state
}

func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

func (o *Orchestrator) SkippedCycles() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.skipped
}

func (o *Orchestrator) LastReport() (CycleReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastReport == nil {
		return CycleReport{}, false
	}
	return *o.lastReport, true
}
