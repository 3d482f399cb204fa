package storage

import (
	"context"
	"time"

	"github.com/BKBLABS/monitoring-platform/internal/pipeline"
)

// Repository is the persistence surface the pipeline depends on. It
// implements pipeline.WatermarkStore and pipeline.DeliveryStore.
type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) GetWatermark(ctx context.Context, stream string) (time.Time, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT position FROM watermarks WHERE stream=$1`, stream)
	var position time.Time
	if err := row.Scan(&position); err != nil {
		return time.Time{}, ErrNotFound
	}
	return position, nil
}

func (r *Repository) SetWatermark(ctx context.Context, stream string, position time.Time) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO watermarks (stream, position, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (stream) DO UPDATE SET position=EXCLUDED.position, updated_at=now()`,
		stream, position,
	)
	return err
}

func (r *Repository) GetDelivery(ctx context.Context, fingerprint string) (pipeline.DeliveryRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT fingerprint, rule_id, severity, first_seen, last_attempt, last_delivered, attempts, delivered, last_error
		FROM delivery_records WHERE fingerprint=$1`, fingerprint)
	var rec pipeline.DeliveryRecord
	var severity string
	if err := row.Scan(&rec.Fingerprint, &rec.RuleID, &severity, &rec.FirstSeen, &rec.LastAttempt, &rec.LastDelivered, &rec.Attempts, &rec.Delivered, &rec.LastError); err != nil {
		return pipeline.DeliveryRecord{}, ErrNotFound
	}
	rec.Severity = pipeline.Severity(severity)
	return rec, nil
}

func (r *Repository) SaveDelivery(ctx context.Context, rec pipeline.DeliveryRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO delivery_records (fingerprint, rule_id, severity, first_seen, last_attempt, last_delivered, attempts, delivered, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (fingerprint) DO UPDATE SET
			rule_id=EXCLUDED.rule_id,
			severity=EXCLUDED.severity,
			last_attempt=EXCLUDED.last_attempt,
			last_delivered=EXCLUDED.last_delivered,
			attempts=EXCLUDED.attempts,
			delivered=EXCLUDED.delivered,
			last_error=EXCLUDED.last_error`,
		rec.Fingerprint, rec.RuleID, string(rec.Severity), rec.FirstSeen, rec.LastAttempt, rec.LastDelivered, rec.Attempts, rec.Delivered, rec.LastError,
	)
	return err
}

func (r *Repository) CreateAlert(ctx context.Context, evt pipeline.AlertEvent, outcome pipeline.DispatchOutcome) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_events (id, rule_id, rule_name, severity, fingerprint, message, observed_value, window_start, outcome, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		evt.ID, evt.RuleID, evt.RuleName, string(evt.Severity), evt.Fingerprint, evt.Message, evt.Observed, evt.WindowStart, string(outcome), evt.CreatedAt,
	)
	return err
}

func (r *Repository) ListAlertEvents(ctx context.Context, limit int) ([]AlertEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, rule_id, rule_name, severity, fingerprint, message, observed_value, window_start, outcome, created_at
		FROM alert_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []AlertEventRecord{}
	for rows.Next() {
		var rec AlertEventRecord
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.RuleName, &rec.Severity, &rec.Fingerprint, &rec.Message, &rec.Observed, &rec.WindowStart, &rec.Outcome, &rec.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}

func (r *Repository) CountDeliveries(ctx context.Context) (int64, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT count(*) FROM delivery_records`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
