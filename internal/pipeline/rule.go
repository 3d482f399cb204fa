package pipeline

import (
	"fmt"
	"regexp"
)

const (
	KindAppThreshold      = "app_threshold"
	KindExternalThreshold = "external_threshold"
	KindMissingExternal   = "missing_external"
)

// Rule is a declarative anomaly condition. Kind selects the variant:
// app_threshold compares the APP series named by Field, external_threshold
// compares any correlated EXTERNAL record matching Item by key or name,
// missing_external fires when a result has no correlated EXTERNAL records.
type Rule struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Kind     string   `yaml:"kind" json:"kind"`
	Severity Severity `yaml:"severity" json:"severity"`
	Field    string   `yaml:"field,omitempty" json:"field,omitempty"`
	Item     string   `yaml:"item,omitempty" json:"item,omitempty"`
	Op       string   `yaml:"op,omitempty" json:"op,omitempty"`
	Value    float64  `yaml:"value,omitempty" json:"value,omitempty"`
}

// DefaultRules is the rule set used when the configuration names none.
func DefaultRules(errorRateThreshold float64) []Rule {
	return []Rule{{
		ID:       "error-rate-exceeded",
		Name:     "Error rate exceeded",
		Kind:     KindAppThreshold,
		Severity: SeverityCritical,
		Field:    "error_rate",
		Op:       ">",
		Value:    errorRateThreshold,
	}}
}

type ErrorDetail struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint"`
}

type RuleError struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details"`
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s (%d issues)", e.Code, e.Message, len(e.Details))
}

var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

func ValidateRules(rules []Rule) *RuleError {
	var details []ErrorDetail
	seen := map[string]bool{}
	for i, rule := range rules {
		field := func(name string) string { return fmt.Sprintf("rules[%d].%s", i, name) }
		if rule.ID == "" || !identRegex.MatchString(rule.ID) {
			details = append(details, ErrorDetail{Field: field("id"), Problem: "invalid", Hint: "Use alphanumeric identifiers"})
		} else if seen[rule.ID] {
			details = append(details, ErrorDetail{Field: field("id"), Problem: "duplicate", Hint: "Rule ids must be unique"})
		}
		seen[rule.ID] = true
		if rule.Severity != SeverityWarn && rule.Severity != SeverityCritical {
			details = append(details, ErrorDetail{Field: field("severity"), Problem: "invalid", Hint: "Use WARN or CRITICAL"})
		}
		switch rule.Kind {
		case KindAppThreshold:
			if rule.Field == "" {
				details = append(details, ErrorDetail{Field: field("field"), Problem: "missing", Hint: "Name the APP series, e.g. error_rate"})
			}
			if detail := validateOp(rule.Op, field("op")); detail != nil {
				details = append(details, *detail)
			}
		case KindExternalThreshold:
			if rule.Item == "" {
				details = append(details, ErrorDetail{Field: field("item"), Problem: "missing", Hint: "Name the EXTERNAL item by key or name"})
			}
			if detail := validateOp(rule.Op, field("op")); detail != nil {
				details = append(details, *detail)
			}
		case KindMissingExternal:
		default:
			details = append(details, ErrorDetail{Field: field("kind"), Problem: "unknown", Hint: "Use app_threshold, external_threshold or missing_external"})
		}
	}
	if len(details) > 0 {
		return &RuleError{Code: "RULE_SET_INVALID", Message: "rule set failed validation", Details: details}
	}
	return nil
}

func validateOp(op, field string) *ErrorDetail {
	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
		return nil
	default:
		return &ErrorDetail{Field: field, Problem: "invalid", Hint: "Use one of > >= < <= == !="}
	}
}

func compare(op string, observed, target float64) (bool, error) {
	switch op {
	case ">":
		return observed > target, nil
	case ">=":
		return observed >= target, nil
	case "<":
		return observed < target, nil
	case "<=":
		return observed <= target, nil
	case "==":
		return observed == target, nil
	case "!=":
		return observed != target, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}
