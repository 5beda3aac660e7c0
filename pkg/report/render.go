// Table rendering of test summaries and check violations
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Render writes sums as a table followed by a totals footer.
func Render(w io.Writer, sums []TestSummary) {
	title := cases.Title(language.English)
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Suite", "Test", "Attempts", "Status", "Error", "Duration"})
	for _, s := range sums {
		status := s.Status
		if status == "" {
			status = "-"
		} else {
			status = title.String(status)
		}
		tw.AppendRow(table.Row{s.Suite, s.Name, s.Attempts, status, s.ErrorType, s.Duration.Round(time.Millisecond)})
	}
	t := Count(sums)
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d tests", t.Tests), "",
		fmt.Sprintf("%d passed, %d failed", t.Passed, t.Failed), "", ""})
	tw.Render()
}

// RenderViolations writes vs as a table. Nothing is written when vs is empty.
func RenderViolations(w io.Writer, vs []Violation) {
	if len(vs) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Suite", "Test", "Span", "Rule", "Problem"})
	for _, v := range vs {
		tw.AppendRow(table.Row{v.Suite, v.Name, v.SpanID, v.Rule, v.Message})
	}
	tw.Render()
}
