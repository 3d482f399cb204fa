package pipeline

import "testing"

func TestValidateRulesAcceptsDefaults(t *testing.T) {
	if err := ValidateRules(DefaultRules(0.5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDefaultRulesThreshold(t *testing.T) {
	rules := DefaultRules(0.7)
	if len(rules) != 1 {
		t.Fatalf("expected 1 default rule, got %d", len(rules))
	}
	rule := rules[0]
	if rule.ID != "error-rate-exceeded" {
		t.Fatalf("unexpected rule id: %s", rule.ID)
	}
	if rule.Value != 0.7 || rule.Op != ">" || rule.Field != "error_rate" {
		t.Fatalf("unexpected rule condition: %s %s %v", rule.Field, rule.Op, rule.Value)
	}
	if rule.Severity != SeverityCritical {
		t.Fatalf("unexpected severity: %s", rule.Severity)
	}
}

func TestValidateRulesRejectsUnknownKind(t *testing.T) {
	err := ValidateRules([]Rule{{ID: "r1", Kind: "percentile", Severity: SeverityWarn}})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if err.Code != "RULE_SET_INVALID" {
		t.Fatalf("unexpected code: %s", err.Code)
	}
	if len(err.Details) != 1 || err.Details[0].Field != "rules[0].kind" {
		t.Fatalf("unexpected details: %#v", err.Details)
	}
}

func TestValidateRulesRejectsDuplicateIDs(t *testing.T) {
	rules := []Rule{
		{ID: "dup", Kind: KindMissingExternal, Severity: SeverityWarn},
		{ID: "dup", Kind: KindMissingExternal, Severity: SeverityWarn},
	}
	err := ValidateRules(rules)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if err.Details[0].Problem != "duplicate" {
		t.Fatalf("unexpected problem: %s", err.Details[0].Problem)
	}
}

func TestValidateRulesRequiresFieldAndOp(t *testing.T) {
	err := ValidateRules([]Rule{{ID: "r1", Kind: KindAppThreshold, Severity: SeverityCritical}})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if len(err.Details) != 2 {
		t.Fatalf("expected field and op issues, got %#v", err.Details)
	}
}

func TestValidateRulesRejectsBadSeverity(t *testing.T) {
	err := ValidateRules([]Rule{{ID: "r1", Kind: KindMissingExternal, Severity: "HIGH"}})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestCompareOperators(t *testing.T) {
	cases := []struct {
		op       string
		observed float64
		target   float64
		want     bool
	}{
		{">", 0.8, 0.5, true},
		{">", 0.5, 0.5, false},
		{">=", 0.5, 0.5, true},
		{"<", 100, 200, true},
		{"<=", 200, 200, true},
		{"==", 1, 1, true},
		{"!=", 1, 2, true},
	}
	for _, tc := range cases {
		got, err := compare(tc.op, tc.observed, tc.target)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tc.op, err)
		}
		if got != tc.want {
			t.Fatalf("%v %s %v: expected %v", tc.observed, tc.op, tc.target, tc.want)
		}
	}
}

func TestCompareUnknownOperator(t *testing.T) {
	if _, err := compare("~", 1, 2); err == nil {
		t.Fatalf("expected error for unknown operator")
	}
}
