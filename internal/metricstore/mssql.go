package metricstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/BKBLABS/monitoring-platform/internal/pipeline"
)

type mssqlStore struct {
	baseStore
}

func newMSSQLStore(cfg Config) (*mssqlStore, error) {
	if cfg.Port == 0 {
		cfg.Port = 1433
	}
	user := url.QueryEscape(cfg.User)
	pass := url.QueryEscape(cfg.Password)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	encrypt := "true"
	if sslMode == "disable" {
		encrypt = "disable"
	}
	dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s", user, pass, cfg.Host, cfg.Port, cfg.Database, encrypt)
	db, err := openDatabase("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mssql connection: %w", err)
	}
	return &mssqlStore{baseStore{cfg: cfg, db: db}}, nil
}

func (s *mssqlStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mssql: %w", err)
	}
	return nil
}

func (s *mssqlStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`IF OBJECT_ID('hyphenmon_metrics', 'U') IS NULL
		CREATE TABLE hyphenmon_metrics (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			[timestamp] BIGINT NOT NULL,
			response_time_ms FLOAT NOT NULL,
			error_rate FLOAT NOT NULL,
			recorded_at DATETIME2 NOT NULL,
			INDEX idx_hyphenmon_recorded_at (recorded_at)
		)`,
		`IF OBJECT_ID('zabbix_items', 'U') IS NULL
		CREATE TABLE zabbix_items (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			itemid NVARCHAR(64) NOT NULL,
			name NVARCHAR(255) NOT NULL,
			lastvalue FLOAT NOT NULL,
			lastclock BIGINT NOT NULL,
			hostid NVARCHAR(64) NOT NULL,
			recorded_at DATETIME2 NOT NULL,
			INDEX idx_zabbix_recorded_at (recorded_at)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure mssql schema: %w", err)
		}
	}
	return nil
}

func (s *mssqlStore) InsertAppSample(ctx context.Context, sample AppSample) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO hyphenmon_metrics ([timestamp], response_time_ms, error_rate, recorded_at) VALUES (@p1,@p2,@p3,@p4)",
		sample.Timestamp, sample.ResponseTimeMS, sample.ErrorRate, sample.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert mssql app sample: %w", err)
	}
	return nil
}

func (s *mssqlStore) InsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mssql item insert: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO zabbix_items (itemid, name, lastvalue, lastclock, hostid, recorded_at) VALUES (@p1,@p2,@p3,@p4,@p5,@p6)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare mssql item insert: %w", err)
	}
	defer stmt.Close()
	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, item.ItemID, item.Name, item.LastValue, item.LastClock, item.HostID, item.RecordedAt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert mssql item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mssql item insert: %w", err)
	}
	return nil
}

func (s *mssqlStore) QueryAppRange(ctx context.Context, since, until time.Time) ([]pipeline.MetricRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT [timestamp], response_time_ms, error_rate, recorded_at FROM hyphenmon_metrics WHERE recorded_at > @p1 AND recorded_at <= @p2 ORDER BY [timestamp] ASC",
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("query mssql app range: %w", err)
	}
	defer rows.Close()
	records, err := scanAppRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan mssql app range: %w", err)
	}
	return records, nil
}

func (s *mssqlStore) QueryItemRange(ctx context.Context, since, until time.Time) ([]pipeline.MetricRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT itemid, name, lastvalue, lastclock, hostid, recorded_at FROM zabbix_items WHERE recorded_at > @p1 AND recorded_at <= @p2 ORDER BY lastclock ASC",
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("query mssql item range: %w", err)
	}
	defer rows.Close()
	records, err := scanItemRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan mssql item range: %w", err)
	}
	return records, nil
}
