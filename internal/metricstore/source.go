package metricstore

import (
	"context"
	"time"

	"github.com/BKBLABS/monitoring-platform/internal/pipeline"
)

// Source adapts the metric store's range queries to the pipeline's fetch
// interface. Each fetch reads the half-open window (since, now] so rows
// recorded after the cycle started land in the next cycle.
type Source struct {
	Store Store

	now func() time.Time
}

func NewSource(store Store) *Source {
	return &Source{Store: store}
}

func (s *Source) FetchApp(ctx context.Context, since time.Time) ([]pipeline.MetricRecord, error) {
	return s.Store.QueryAppRange(ctx, since, s.clock().UTC())
}

func (s *Source) FetchExternal(ctx context.Context, since time.Time) ([]pipeline.MetricRecord, error) {
	return s.Store.QueryItemRange(ctx, since, s.clock().UTC())
}

func (s *Source) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
