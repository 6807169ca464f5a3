package validator

import (
	"context"
	"strings"
	"testing"

	"stepline/internal/domain"
)

func TestRulesValidate(t *testing.T) {
	rules := Rules{DefaultMinLength: 5}
	cases := []struct {
		name     string
		content  string
		kind     string
		criteria *domain.Criteria
		pass     bool
		msg      string
	}{
		{name: "empty", content: "   ", kind: "text", pass: false, msg: "empty"},
		{name: "default min length", content: "abc", kind: "text", pass: false, msg: "too short"},
		{name: "no criteria", content: "long enough", kind: "text", pass: true},
		{name: "criteria min length wins", content: "abcdef", kind: "text", criteria: &domain.Criteria{Mode: "evidence", MinLength: 10}, msg: "need at least 10"},
		{name: "kind rejected", content: "package main", kind: "text", criteria: &domain.Criteria{Mode: "evidence", ContentKinds: []string{"code"}}, msg: "not accepted"},
		{name: "must include", content: "a short essay", kind: "text", criteria: &domain.Criteria{Mode: "evidence", MustInclude: []string{"ESSAY", "summary"}}, msg: "summary"},
		{name: "pattern miss", content: "result: none", kind: "text", criteria: &domain.Criteria{Mode: "evidence", Pattern: `\d+`}, msg: "does not match"},
		{name: "all rules pass", content: "Summary: 42 items", kind: "code", criteria: &domain.Criteria{Mode: "evidence", ContentKinds: []string{"code"}, MustInclude: []string{"summary"}, Pattern: `\d+`}, pass: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			passed, msg, err := rules.Validate(context.Background(), tc.content, tc.criteria, tc.kind)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if passed != tc.pass {
				t.Fatalf("passed = %v, want %v (msg %q)", passed, tc.pass, msg)
			}
			if tc.msg != "" && !strings.Contains(msg, tc.msg) {
				t.Fatalf("message %q does not mention %q", msg, tc.msg)
			}
		})
	}
}

func TestRulesBadPattern(t *testing.T) {
	_, _, err := Rules{}.Validate(context.Background(), "anything", &domain.Criteria{Mode: "evidence", Pattern: "("}, "text")
	if err == nil {
		t.Fatalf("expected error for bad pattern")
	}
}

func TestCheckCriteria(t *testing.T) {
	if err := CheckCriteria(nil); err != nil {
		t.Fatalf("nil criteria: %v", err)
	}
	if err := CheckCriteria(&domain.Criteria{Mode: "aggregate"}); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if err := CheckCriteria(&domain.Criteria{Mode: "sometimes"}); domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("expected invalid mode error, got %v", err)
	}
	if err := CheckCriteria(&domain.Criteria{Mode: "evidence", Pattern: "["}); domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("expected invalid pattern error, got %v", err)
	}
}
