package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier delivers one dispatched alert to the configured channels.
type Notifier interface {
	Send(ctx context.Context, evt AlertEvent) error
}

type DeliveryStore interface {
	GetDelivery(ctx context.Context, fingerprint string) (DeliveryRecord, error)
	SaveDelivery(ctx context.Context, rec DeliveryRecord) error
	CreateAlert(ctx context.Context, evt AlertEvent, outcome DispatchOutcome) error
}

type Dispatcher struct {
	store       DeliveryStore
	notifier    Notifier
	suppression time.Duration
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDispatcher(store DeliveryStore, notifier Notifier, suppression time.Duration, maxAttempts int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		notifier:    notifier,
		suppression: suppression,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
		locks:       map[string]*sync.Mutex{},
	}
}

// Dispatch delivers each event, isolating failures so one event never
// blocks the rest of the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, events []AlertEvent) []DispatchResult {
	results := make([]DispatchResult, 0, len(events))
	for _, evt := range events {
		if ctx.Err() != nil {
			break
		}
		results = append(results, d.dispatchOne(ctx, evt))
	}
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, evt AlertEvent) DispatchResult {
	lock := d.lockFor(evt.Fingerprint)
	lock.Lock()
	defer lock.Unlock()

	now := d.now().UTC()
	rec, err := d.store.GetDelivery(ctx, evt.Fingerprint)
	if err != nil {
		rec = DeliveryRecord{
			Fingerprint: evt.Fingerprint,
			RuleID:      evt.RuleID,
			Severity:    evt.Severity,
			FirstSeen:   now,
		}
	}
	if rec.Delivered && now.Sub(rec.LastDelivered) < d.suppression {
		return DispatchResult{Event: evt, Outcome: OutcomeSuppressed, Reason: "delivered within suppression period"}
	}
	if !rec.Delivered && rec.Attempts >= d.maxAttempts {
		d.logger.Error("alert delivery attempts exhausted",
			slog.String("fingerprint", evt.Fingerprint),
			slog.String("rule_id", evt.RuleID),
			slog.Int("attempts", rec.Attempts))
		return DispatchResult{Event: evt, Outcome: OutcomeFailed, Reason: "attempts exhausted"}
	}

	rec.Attempts++
	rec.LastAttempt = now
	if err := d.send(ctx, evt); err != nil {
		sendErr := &DeliveryError{Fingerprint: evt.Fingerprint, Err: err}
		rec.LastError = sendErr.Error()
		d.saveDelivery(ctx, rec)
		_ = d.store.CreateAlert(ctx, evt, OutcomeFailed)
		d.logger.Warn("alert delivery failed",
			slog.String("fingerprint", evt.Fingerprint),
			slog.String("rule_id", evt.RuleID),
			slog.Int("attempts", rec.Attempts),
			slog.String("error", err.Error()))
		return DispatchResult{Event: evt, Outcome: OutcomeFailed, Reason: err.Error()}
	}

	rec.Delivered = true
	rec.LastDelivered = now
	rec.LastError = ""
	d.saveDelivery(ctx, rec)
	_ = d.store.CreateAlert(ctx, evt, OutcomeSent)
	d.logger.Info("alert dispatched",
		slog.String("fingerprint", evt.Fingerprint),
		slog.String("rule_id", evt.RuleID),
		slog.String("severity", string(evt.Severity)))
	return DispatchResult{Event: evt, Outcome: OutcomeSent}
}

func (d *Dispatcher) send(ctx context.Context, evt AlertEvent) error {
	if d.notifier == nil {
		d.logger.Warn("no notifier configured, logging alert only",
			slog.String("rule_id", evt.RuleID),
			slog.String("message", evt.Message))
		return nil
	}
	return d.notifier.Send(ctx, evt)
}

func (d *Dispatcher) saveDelivery(ctx context.Context, rec DeliveryRecord) {
	if err := d.store.SaveDelivery(ctx, rec); err != nil {
		d.logger.Error("failed to save delivery record",
			slog.String("fingerprint", rec.Fingerprint),
			slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) lockFor(fingerprint string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[fingerprint]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[fingerprint] = lock
	}
	return lock
}
