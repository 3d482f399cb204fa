package storage

import "time"

// AlertEventRecord is one row of the append-only alert history. Apart from
// the dispatch outcome it mirrors the event the dispatcher handled.
type AlertEventRecord struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id"`
	RuleName    string    `json:"rule_name"`
	Severity    string    `json:"severity"`
	Fingerprint string    `json:"fingerprint"`
	Message     string    `json:"message"`
	Observed    float64   `json:"observed"`
	WindowStart int64     `json:"window_start"`
	Outcome     string    `json:"outcome"`
	CreatedAt   time.Time `json:"created_at"`
}
