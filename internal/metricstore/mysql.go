package metricstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/BKBLABS/monitoring-platform/internal/pipeline"
)

type mysqlStore struct {
	baseStore
}

func newMySQLStore(cfg Config) (*mysqlStore, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "disable" {
		dsn += "&tls=false"
	} else if sslMode != "" {
		dsn += "&tls=true"
	}
	db, err := openDatabase("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	return &mysqlStore{baseStore{cfg: cfg, db: db}}, nil
}

func (s *mysqlStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}

func (s *mysqlStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS hyphenmon_metrics (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			timestamp BIGINT NOT NULL,
			response_time_ms DOUBLE NOT NULL,
			error_rate DOUBLE NOT NULL,
			recorded_at DATETIME(6) NOT NULL,
			KEY idx_hyphenmon_recorded_at (recorded_at)
		)`,
		`CREATE TABLE IF NOT EXISTS zabbix_items (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			itemid VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			lastvalue DOUBLE NOT NULL,
			lastclock BIGINT NOT NULL,
			hostid VARCHAR(64) NOT NULL,
			recorded_at DATETIME(6) NOT NULL,
			KEY idx_zabbix_recorded_at (recorded_at)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure mysql schema: %w", err)
		}
	}
	return nil
}

func (s *mysqlStore) InsertAppSample(ctx context.Context, sample AppSample) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO hyphenmon_metrics (timestamp, response_time_ms, error_rate, recorded_at) VALUES (?,?,?,?)",
		sample.Timestamp, sample.ResponseTimeMS, sample.ErrorRate, sample.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert mysql app sample: %w", err)
	}
	return nil
}

func (s *mysqlStore) InsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mysql item insert: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO zabbix_items (itemid, name, lastvalue, lastclock, hostid, recorded_at) VALUES (?,?,?,?,?,?)")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare mysql item insert: %w", err)
	}
	defer stmt.Close()
	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, item.ItemID, item.Name, item.LastValue, item.LastClock, item.HostID, item.RecordedAt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert mysql item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mysql item insert: %w", err)
	}
	return nil
}

func (s *mysqlStore) QueryAppRange(ctx context.Context, since, until time.Time) ([]pipeline.MetricRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT timestamp, response_time_ms, error_rate, recorded_at FROM hyphenmon_metrics WHERE recorded_at > ? AND recorded_at <= ? ORDER BY timestamp ASC",
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("query mysql app range: %w", err)
	}
	defer rows.Close()
	records, err := scanAppRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan mysql app range: %w", err)
	}
	return records, nil
}

func (s *mysqlStore) QueryItemRange(ctx context.Context, since, until time.Time) ([]pipeline.MetricRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT itemid, name, lastvalue, lastclock, hostid, recorded_at FROM zabbix_items WHERE recorded_at > ? AND recorded_at <= ? ORDER BY lastclock ASC",
		since, until,
	)
	if err != nil {
		return nil, fmt.Errorf("query mysql item range: %w", err)
	}
	defer rows.Close()
	records, err := scanItemRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan mysql item range: %w", err)
	}
	return records, nil
}
