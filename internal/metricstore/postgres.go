package metricstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/BKBLABS/monitoring-platform/internal/pipeline"
)

type postgresStore struct {
	baseStore
}

func newPostgresStore(cfg Config) (*postgresStore, error) {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
	db, err := openDatabase("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return &postgresStore{baseStore{cfg: cfg, db: db}}, nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *postgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS hyphenmon_metrics (
			id BIGSERIAL PRIMARY KEY,
			timestamp BIGINT NOT NULL,
			response_time_ms DOUBLE PRECISION NOT NULL,
			error_rate DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hyphenmon_recorded_at ON hyphenmon_metrics (recorded_at)`,
		`CREATE TABLE IF NOT EXISTS zabbix_items (
			id BIGSERIAL PRIMARY KEY,
			itemid TEXT NOT NULL,
			name TEXT NOT NULL,
			lastvalue DOUBLE PRECISION NOT NULL,
			lastclock BIGINT NOT NULL,
			hostid TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zabbix_recorded_at ON zabbix_items (recorded_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure postgres schema: %w", err)
		}
	}
	return nil
}

func (s *postgresStore) InsertAppSample(ctx context.Context, sample AppSample) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO hyphenmon_metrics (timestamp, response_time_ms, error_rate, recorded_at) VALUES ($1,$2,$3,$4)",
		sample.Timestamp, sample.ResponseTimeMS, sample.ErrorRate, sample.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert postgres app sample: %w", err)
	}
	return nil
}

func (s *postgresStore) InsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin postgres item insert: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO zabbix_items (itemid, name, lastvalue, lastclock, hostid, recorded_at) VALUES ($1,$2,$3,$4,$5,$6)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare postgres item insert: %w", err)
	}
	defer stmt.Close()
	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, item.ItemID, item.Name, item.LastValue, item.LastClock, item.HostID, item.RecordedAt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert postgres item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit postgres item insert: %w", err)
	}
	return nil
}

func (s *postgresStore) QueryAppRange(ctx context.Context, since, until time.Time) ([]pipeline.MetricRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT timestamp, response_time_ms, error_rate, recorded_at FROM hyphenmon_metrics WHERE recorded_at > $1 AND recorded_at <= $2 ORDER BY timestamp ASC",
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("query postgres app range: %w", err)
	}
	defer rows.Close()
	records, err := scanAppRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan postgres app range: %w", err)
	}
	return records, nil
}

func (s *postgresStore) QueryItemRange(ctx context.Context, since, until time.Time) ([]pipeline.MetricRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT itemid, name, lastvalue, lastclock, hostid, recorded_at FROM zabbix_items WHERE recorded_at > $1 AND recorded_at <= $2 ORDER BY lastclock ASC",
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("query postgres item range: %w", err)
	}
	defer rows.Close()
	records, err := scanItemRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan postgres item range: %w", err)
	}
	return records, nil
}
