// Per-test summaries of exported test spans
// Groups attempts of the same test and keeps the outcome of the latest one
package report

import (
	"cmp"
	"slices"
	"strconv"
	"time"

	"github.com/andrewh/testspan/pkg/testspan"
)

// TestSummary aggregates every exported attempt of one test.
type TestSummary struct {
	Suite      string
	Name       string
	Attempts   int
	Failures   int
	Status     string // status of the latest attempt
	ErrorType  string // error type of the latest attempt
	Parameters string
	Duration   time.Duration // summed over attempts
}

// Totals counts summaries by final status.
type Totals struct {
	Tests  int
	Passed int
	Failed int
	Other  int
}

type summaryKey struct{ suite, name string }

// IsTestSpan reports whether s was produced for a test execution.
func IsTestSpan(s Span) bool {
	return s.Attributes[string(testspan.KeyTestType)] == testspan.TypeTest
}

// Summarize groups test spans by suite and name. Non-test spans are ignored.
// Results are sorted by suite, then name.
func Summarize(spans []Span) []TestSummary {
	byTest := make(map[summaryKey]*TestSummary)
	latest := make(map[summaryKey]Span)

	for _, s := range spans {
		if !IsTestSpan(s) {
			continue
		}
		key := summaryKey{
			suite: s.Attributes[string(testspan.KeyTestSuite)],
			name:  s.Attributes[string(testspan.KeyTestName)],
		}
		sum := byTest[key]
		if sum == nil {
			sum = &TestSummary{Suite: key.suite, Name: key.name}
			byTest[key] = sum
		}
		sum.Attempts++
		sum.Duration += s.EndTime.Sub(s.StartTime)
		if s.Attributes[string(testspan.KeyTestStatus)] == string(testspan.StatusFail) {
			sum.Failures++
		}
		if prev, ok := latest[key]; !ok || laterAttempt(s, prev) {
			latest[key] = s
		}
	}

	out := make([]TestSummary, 0, len(byTest))
	for key, sum := range byTest {
		last := latest[key]
		sum.Status = last.Attributes[string(testspan.KeyTestStatus)]
		sum.ErrorType = last.Attributes[string(testspan.KeyErrorType)]
		sum.Parameters = last.Attributes[string(testspan.KeyTestParameters)]
		out = append(out, *sum)
	}
	slices.SortFunc(out, func(a, b TestSummary) int {
		if c := cmp.Compare(a.Suite, b.Suite); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// laterAttempt orders attempts by invocation number, then start time.
func laterAttempt(a, b Span) bool {
	ai, bi := invocation(a), invocation(b)
	if ai != bi {
		return ai > bi
	}
	return a.StartTime.After(b.StartTime)
}

func invocation(s Span) int {
	n, err := strconv.Atoi(s.Attributes[string(testspan.KeyTestInvocation)])
	if err != nil {
		return 0
	}
	return n
}

// Count tallies summaries by final status.
func Count(sums []TestSummary) Totals {
	var t Totals
	for _, s := range sums {
		t.Tests++
		switch testspan.Status(s.Status) {
		case testspan.StatusPass:
			t.Passed++
		case testspan.StatusFail:
			t.Failed++
		default:
			t.Other++
		}
	}
	return t
}
