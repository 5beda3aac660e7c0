// Consistency checks over exported test spans
package report

import (
	"fmt"
	"slices"

	"github.com/andrewh/testspan/pkg/testspan"
)

// Rule names a property every exported test span must hold.
type Rule string

const (
	RuleStatus   Rule = "status"
	RuleOrigin   Rule = "origin"
	RuleTiming   Rule = "timing"
	RuleNesting  Rule = "nesting"
	RuleResource Rule = "resource"
)

// Violation is one broken rule on one span.
type Violation struct {
	SpanID  string
	Suite   string
	Name    string
	Rule    Rule
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s (span %s): %s: %s", v.Suite, v.Name, v.SpanID, v.Rule, v.Message)
}

var validStatuses = []string{
	string(testspan.StatusPass),
	string(testspan.StatusFail),
	string(testspan.StatusSkip),
}

// Check verifies the test spans in spans. A span passes when it carries a
// single valid status, the test origin marker and a matching resource name,
// ends no earlier than it starts, and is not nested beneath another test span.
func Check(spans []Span) []Violation {
	tests := make(map[string]bool)
	for _, s := range spans {
		if IsTestSpan(s) {
			tests[s.SpanID] = true
		}
	}

	var out []Violation
	for _, s := range spans {
		if !IsTestSpan(s) {
			continue
		}
		suite := s.Attributes[string(testspan.KeyTestSuite)]
		name := s.Attributes[string(testspan.KeyTestName)]
		add := func(rule Rule, format string, args ...any) {
			out = append(out, Violation{
				SpanID:  s.SpanID,
				Suite:   suite,
				Name:    name,
				Rule:    rule,
				Message: fmt.Sprintf(format, args...),
			})
		}

		status, ok := s.Attributes[string(testspan.KeyTestStatus)]
		switch {
		case !ok:
			add(RuleStatus, "no status recorded")
		case !slices.Contains(validStatuses, status):
			add(RuleStatus, "unknown status %q", status)
		}
		if origin := s.Attributes[string(testspan.KeyOrigin)]; origin != testspan.CIAppOrigin {
			add(RuleOrigin, "origin is %q, want %q", origin, testspan.CIAppOrigin)
		}
		if want := testspan.Identity{Suite: suite, Name: name}.Resource(); s.Attributes[string(testspan.KeyResourceName)] != want {
			add(RuleResource, "resource is %q, want %q", s.Attributes[string(testspan.KeyResourceName)], want)
		}
		if s.EndTime.Before(s.StartTime) {
			add(RuleTiming, "ends %s before it starts", s.StartTime.Sub(s.EndTime))
		}
		if s.ParentID != "" && tests[s.ParentID] {
			add(RuleNesting, "parent %s is another test span", s.ParentID)
		}
	}
	return out
}
