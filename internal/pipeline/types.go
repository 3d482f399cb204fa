package pipeline

import "time"

type Source string

const (
	SourceApp      Source = "APP"
	SourceExternal Source = "EXTERNAL"
)

// MetricRecord is the unified view of one sample from either stream.
// Timestamp is the instant the value describes (unix seconds); RecordedAt
// is the instant the platform stored it. The two may disagree under skew.
type MetricRecord struct {
	Source     Source    `json:"source"`
	Key        string    `json:"key"`
	Name       string    `json:"name,omitempty"`
	Host       string    `json:"host,omitempty"`
	Timestamp  int64     `json:"timestamp"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CorrelationResult pairs one APP record with every EXTERNAL record whose
// timestamp falls inside [WindowStart, WindowEnd].
type CorrelationResult struct {
	AppRecord       *MetricRecord  `json:"app_record"`
	ExternalRecords []MetricRecord `json:"external_records"`
	WindowStart     int64          `json:"window_start"`
	WindowEnd       int64          `json:"window_end"`
}

type Severity string

const (
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

type AlertEvent struct {
	ID           string    `json:"id"`
	RuleID       string    `json:"rule_id"`
	RuleName     string    `json:"rule_name"`
	Severity     Severity  `json:"severity"`
	Fingerprint  string    `json:"fingerprint"`
	Message      string    `json:"message"`
	Observed     float64   `json:"observed"`
	AppKey       string    `json:"app_key,omitempty"`
	AppTimestamp int64     `json:"app_timestamp,omitempty"`
	ExternalKeys []string  `json:"external_keys,omitempty"`
	WindowStart  int64     `json:"window_start"`
	CreatedAt    time.Time `json:"created_at"`
}

type DeliveryRecord struct {
	Fingerprint   string
	RuleID        string
	Severity      Severity
	FirstSeen     time.Time
	LastAttempt   time.Time
	LastDelivered time.Time
	Attempts      int
	Delivered     bool
	LastError     string
}

type DispatchOutcome string

const (
	OutcomeSent       DispatchOutcome = "SENT"
	OutcomeSuppressed DispatchOutcome = "SUPPRESSED"
	OutcomeFailed     DispatchOutcome = "FAILED"
)

type DispatchResult struct {
	Event   AlertEvent      `json:"event"`
	Outcome DispatchOutcome `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
}

type CycleState string

const (
	StateIdle        CycleState = "IDLE"
	StateFetching    CycleState = "FETCHING"
	StateCorrelating CycleState = "CORRELATING"
	StateEvaluating  CycleState = "EVALUATING"
	StateDispatching CycleState = "DISPATCHING"
)

type CycleReport struct {
	CycleID         string    `json:"cycle_id"`
	StartedAt       time.Time `json:"started_at"`
	DurationMS      int64     `json:"duration_ms"`
	AppFetched      int       `json:"app_fetched"`
	ExternalFetched int       `json:"external_fetched"`
	Malformed       int       `json:"malformed"`
	Results         int       `json:"results"`
	Events          int       `json:"events"`
	Sent            int       `json:"sent"`
	Suppressed      int       `json:"suppressed"`
	Failed          int       `json:"failed"`
	Watermark       time.Time `json:"watermark"`
	Outcome         string    `json:"outcome"`
	Stage           string    `json:"stage,omitempty"`
	Err             string    `json:"error,omitempty"`
}
