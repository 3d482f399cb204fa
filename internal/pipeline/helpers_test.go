package pipeline

import (
	"io"
	"log/slog"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func appRecord(key string, ts int64, value float64) MetricRecord {
	return MetricRecord{
		Source:     SourceApp,
		Key:        key,
		Name:       key,
		Timestamp:  ts,
		Value:      value,
		RecordedAt: time.Unix(ts, 0).UTC(),
	}
}

func externalRecord(key, name string, ts int64, value float64) MetricRecord {
	return MetricRecord{
		Source:     SourceExternal,
		Key:        key,
		Name:       name,
		Host:       "10105",
		Timestamp:  ts,
		Value:      value,
		RecordedAt: time.Unix(ts, 0).UTC(),
	}
}
