package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Evaluate runs every rule against every correlation result. Rules never
// short-circuit each other: a rule that fails to evaluate is reported in
// the error slice and treated as not matched. Events keep result order,
// then rule order.
func Evaluate(results []CorrelationResult, rules []Rule) ([]AlertEvent, []error) {
	events := []AlertEvent{}
	var errs []error
	for _, result := range results {
		for _, rule := range rules {
			hit, observed, err := ruleMatches(rule, result)
			if err != nil {
				errs = append(errs, &RuleEvaluationError{RuleID: rule.ID, Err: err})
				continue
			}
			if !hit {
				continue
			}
			events = append(events, buildEvent(rule, result, observed))
		}
	}
	return events, errs
}

func ruleMatches(rule Rule, result CorrelationResult) (bool, float64, error) {
	switch rule.Kind {
	case KindAppThreshold:
		app := result.AppRecord
		if app == nil || app.Key != rule.Field {
			return false, 0, nil
		}
		hit, err := compare(rule.Op, app.Value, rule.Value)
		if err != nil {
			return false, 0, err
		}
		return hit, app.Value, nil
	case KindExternalThreshold:
		for _, ext := range result.ExternalRecords {
			if ext.Key != rule.Item && ext.Name != rule.Item {
				continue
			}
			hit, err := compare(rule.Op, ext.Value, rule.Value)
			if err != nil {
				return false, 0, err
			}
			if hit {
				return true, ext.Value, nil
			}
		}
		return false, 0, nil
	case KindMissingExternal:
		return result.AppRecord != nil && len(result.ExternalRecords) == 0, 0, nil
	default:
		return false, 0, fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
}

func buildEvent(rule Rule, result CorrelationResult, observed float64) AlertEvent {
	evt := AlertEvent{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		Fingerprint: Fingerprint(rule.ID, result.AppRecord, result.ExternalRecords, result.WindowStart),
		Observed:    observed,
		WindowStart: result.WindowStart,
		CreatedAt:   time.Now().UTC(),
	}
	if result.AppRecord != nil {
		evt.AppKey = result.AppRecord.Key
		evt.AppTimestamp = result.AppRecord.Timestamp
	}
	keys := make([]string, 0, len(result.ExternalRecords))
	for _, ext := range result.ExternalRecords {
		keys = append(keys, ext.Key)
	}
	evt.ExternalKeys = keys
	evt.Message = buildMessage(rule, result, observed)
	return evt
}

func buildMessage(rule Rule, result CorrelationResult, observed float64) string {
	switch rule.Kind {
	case KindAppThreshold:
		return fmt.Sprintf("%s: %s=%v %s %v", rule.Name, rule.Field, observed, rule.Op, rule.Value)
	case KindExternalThreshold:
		return fmt.Sprintf("%s: item %s=%v %s %v", rule.Name, rule.Item, observed, rule.Op, rule.Value)
	case KindMissingExternal:
		return fmt.Sprintf("%s: no external records in window [%d, %d]", rule.Name, result.WindowStart, result.WindowEnd)
	default:
		return rule.Name
	}
}
