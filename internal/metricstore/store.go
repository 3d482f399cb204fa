package metricstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BKBLABS/monitoring-platform/internal/pipeline"
)

// Store is the raw metric database both streams persist in. The ingest
// daemon writes samples and items; the processor reads them back as
// unified MetricRecords.
type Store interface {
	EnsureSchema(ctx context.Context) error

	InsertAppSample(ctx context.Context, sample AppSample) error

	InsertItems(ctx context.Context, items []Item) error

	QueryAppRange(ctx context.Context, since, until time.Time) ([]pipeline.MetricRecord, error)

	QueryItemRange(ctx context.Context, since, until time.Time) ([]pipeline.MetricRecord, error)

	Ping(ctx context.Context) error

	Close() error
}

type Config struct {
	Type     string // mysql | postgres | mssql
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// AppSample is one row of the application metrics table.
type AppSample struct {
	Timestamp      int64
	ResponseTimeMS float64
	ErrorRate      float64
	RecordedAt     time.Time
}

// Item is one row of the external monitor items table.
type Item struct {
	ItemID     string
	Name       string
	LastValue  float64
	LastClock  int64
	HostID     string
	RecordedAt time.Time
}

func NewStore(cfg Config) (Store, error) {
	if strings.TrimSpace(cfg.Type) == "" {
		return nil, errors.New("metric store type is required")
	}
	switch strings.ToLower(cfg.Type) {
	case "mysql":
		return newMySQLStore(cfg)
	case "postgres", "postgresql":
		return newPostgresStore(cfg)
	case "mssql", "sqlserver":
		return newMSSQLStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported metric store type %q", cfg.Type)
	}
}

func openDatabase(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}

type baseStore struct {
	cfg Config
	db  *sql.DB
}

func (b *baseStore) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// expandAppSample turns one sample row into the per-key records the
// correlator consumes: error_rate first, then response_time_ms.
func expandAppSample(sample AppSample) []pipeline.MetricRecord {
	return []pipeline.MetricRecord{
		{
			Source:     pipeline.SourceApp,
			Key:        "error_rate",
			Name:       "error_rate",
			Timestamp:  sample.Timestamp,
			Value:      sample.ErrorRate,
			RecordedAt: sample.RecordedAt,
		},
		{
			Source:     pipeline.SourceApp,
			Key:        "response_time_ms",
			Name:       "response_time_ms",
			Timestamp:  sample.Timestamp,
			Value:      sample.ResponseTimeMS,
			RecordedAt: sample.RecordedAt,
		},
	}
}

func itemRecord(item Item) pipeline.MetricRecord {
	return pipeline.MetricRecord{
		Source:     pipeline.SourceExternal,
		Key:        item.ItemID,
		Name:       item.Name,
		Host:       item.HostID,
		Timestamp:  item.LastClock,
		Value:      item.LastValue,
		RecordedAt: item.RecordedAt,
	}
}

func scanAppRows(rows *sql.Rows) ([]pipeline.MetricRecord, error) {
	records := []pipeline.MetricRecord{}
	for rows.Next() {
		var sample AppSample
		if err := rows.Scan(&sample.Timestamp, &sample.ResponseTimeMS, &sample.ErrorRate, &sample.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, expandAppSample(sample)...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanItemRows(rows *sql.Rows) ([]pipeline.MetricRecord, error) {
	records := []pipeline.MetricRecord{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ItemID, &item.Name, &item.LastValue, &item.LastClock, &item.HostID, &item.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, itemRecord(item))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
