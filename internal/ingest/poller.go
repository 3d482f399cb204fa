package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BKBLABS/monitoring-platform/internal/metricstore"
	"github.com/BKBLABS/monitoring-platform/internal/zabbix"
)

var errInvalidSample = errors.New("sample missing timestamp")

// AppStore is the write side the app poller needs from the metric store.
type AppStore interface {
	InsertAppSample(ctx context.Context, sample metricstore.AppSample) error
}

// ItemStore is the write side the external poller needs from the metric store.
type ItemStore interface {
	InsertItems(ctx context.Context, items []metricstore.Item) error
}

// ItemSource lists current item values for a host.
type ItemSource interface {
	Items(ctx context.Context, hostID string) ([]zabbix.Item, error)
}

// PollerStatus is a snapshot of one poller loop for health reporting.
type PollerStatus struct {
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Collected   int64     `json:"collected"`
}

// AppPoller periodically samples the application metrics endpoint and
// persists each sample. A failed tick is logged and the loop keeps going.
type AppPoller struct {
	Client   *AppClient
	Store    AppStore
	Interval time.Duration
	Logger   *slog.Logger

	mu     sync.Mutex
	status PollerStatus
	now    func() time.Time
}

func (p *AppPoller) Run(ctx context.Context) {
	p.collect(ctx)
	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.collect(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *AppPoller) collect(ctx context.Context) {
	sample, err := p.Client.Metrics(ctx)
	if err != nil {
		p.fail(err)
		p.logger().Warn("app metrics fetch failed", slog.String("error", err.Error()))
		return
	}
	if sample.Timestamp <= 0 {
		p.fail(errInvalidSample)
		p.logger().Warn("app metrics payload missing timestamp, skipping",
			slog.Float64("response_time_ms", sample.ResponseTimeMS),
			slog.Float64("error_rate", sample.ErrorRate))
		return
	}
	record := metricstore.AppSample{
		Timestamp:      sample.Timestamp,
		ResponseTimeMS: sample.ResponseTimeMS,
		ErrorRate:      sample.ErrorRate,
		RecordedAt:     p.clock().UTC(),
	}
	if err := p.Store.InsertAppSample(ctx, record); err != nil {
		p.fail(err)
		p.logger().Error("store app sample failed", slog.String("error", err.Error()))
		return
	}
	p.succeed()
	p.logger().Debug("app sample collected",
		slog.Int64("timestamp", sample.Timestamp),
		slog.Float64("error_rate", sample.ErrorRate))
}

func (p *AppPoller) Status() PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *AppPoller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return 30 * time.Second
}

func (p *AppPoller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *AppPoller) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *AppPoller) succeed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastSuccess = p.clock().UTC()
	p.status.LastError = ""
	p.status.Collected++
}

func (p *AppPoller) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastError = err.Error()
}

// ItemPoller periodically pulls item values for one host and batch-inserts
// them. Items whose string fields do not parse are logged and dropped.
type ItemPoller struct {
	Source   ItemSource
	Store    ItemStore
	HostID   string
	Interval time.Duration
	Logger   *slog.Logger

	mu     sync.Mutex
	status PollerStatus
	now    func() time.Time
}

func (p *ItemPoller) Run(ctx context.Context) {
	p.collect(ctx)
	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.collect(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *ItemPoller) collect(ctx context.Context) {
	items, err := p.Source.Items(ctx, p.HostID)
	if err != nil {
		p.fail(err)
		p.logger().Warn("item fetch failed",
			slog.String("host_id", p.HostID),
			slog.String("error", err.Error()))
		return
	}
	records := convertItems(items, p.clock().UTC(), p.logger())
	if len(records) == 0 {
		p.succeed(0)
		return
	}
	if err := p.Store.InsertItems(ctx, records); err != nil {
		p.fail(err)
		p.logger().Error("store items failed", slog.String("error", err.Error()))
		return
	}
	p.succeed(len(records))
	p.logger().Debug("items collected",
		slog.String("host_id", p.HostID),
		slog.Int("count", len(records)))
}

func (p *ItemPoller) Status() PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *ItemPoller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return 30 * time.Second
}

func (p *ItemPoller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *ItemPoller) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *ItemPoller) succeed(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastSuccess = p.clock().UTC()
	p.status.LastError = ""
	p.status.Collected += int64(count)
}

func (p *ItemPoller) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.LastError = err.Error()
}

// convertItems turns API items into storable records, dropping any item
// whose numeric fields cannot be parsed.
func convertItems(items []zabbix.Item, recordedAt time.Time, logger *slog.Logger) []metricstore.Item {
	records := make([]metricstore.Item, 0, len(items))
	for _, item := range items {
		value, err := item.Value()
		if err != nil {
			logger.Warn("skipping item with unparseable value",
				slog.String("itemid", item.ItemID),
				slog.String("lastvalue", item.LastValue))
			continue
		}
		clock, err := item.Clock()
		if err != nil {
			logger.Warn("skipping item with unparseable clock",
				slog.String("itemid", item.ItemID),
				slog.String("lastclock", item.LastClock))
			continue
		}
		records = append(records, metricstore.Item{
			ItemID:     item.ItemID,
			Name:       item.Name,
			LastValue:  value,
			LastClock:  clock,
			HostID:     item.HostID,
			RecordedAt: recordedAt,
		})
	}
	return records
}
