// Round trip: replayed suites exported through stdouttrace and read back
package report_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/andrewh/testspan/pkg/replay"
	"github.com/andrewh/testspan/pkg/report"
	"github.com/andrewh/testspan/pkg/testspan"
)

func TestReplayedSpansPassChecks(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(&buf))
	require.NoError(t, err)
	tp := testspan.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer, err := testspan.NewTracer(testspan.Config{Provider: tp})
	require.NoError(t, err)

	runner := &replay.Runner{
		Script: &replay.Script{
			Model:   replay.ModelCircus,
			RootDir: "/repo",
			Timeout: 30 * time.Millisecond,
			Suites: []replay.SuiteScript{{
				Path: "/repo/src/sum.test.js",
				Tests: []replay.TestScript{
					{Name: "adds", Outcome: replay.OutcomePass},
					{Name: "flaky", Outcome: replay.OutcomePass, Retries: 2, FailAttempts: 1},
					{Name: "hangs", Outcome: replay.OutcomeTimeout},
					{Name: "later", Outcome: replay.OutcomeSkip},
				},
			}},
		},
		Tracer: tracer,
	}
	_, err = runner.Run(context.Background())
	require.NoError(t, err)

	spans, err := report.ParseSpans(&buf, report.FormatAuto)
	require.NoError(t, err)
	assert.Empty(t, report.Check(spans))

	sums := report.Summarize(spans)
	require.Len(t, sums, 4)
	byName := make(map[string]report.TestSummary)
	for _, s := range sums {
		assert.Equal(t, "src/sum.test.js", s.Suite)
		byName[s.Name] = s
	}
	assert.Equal(t, "pass", byName["adds"].Status)
	assert.Equal(t, 2, byName["flaky"].Attempts)
	assert.Equal(t, "pass", byName["flaky"].Status)
	assert.Equal(t, "fail", byName["hangs"].Status)
	assert.Equal(t, "Timeout", byName["hangs"].ErrorType)
	assert.Equal(t, "skip", byName["later"].Status)
}
