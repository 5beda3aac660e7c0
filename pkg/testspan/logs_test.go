// Tests for LogObserver that derives log records from failed and slow tests.
// Uses an in-memory log exporter to capture and verify emitted records.
package testspan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type memoryLogExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryLogExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryLogExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryLogExporter) get() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]sdklog.Record, len(e.records))
	copy(out, e.records)
	return out
}

func newTestLogObserver(t *testing.T, slowThreshold time.Duration) (*LogObserver, *memoryLogExporter) {
	t.Helper()
	exporter := &memoryLogExporter{}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)),
	)
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })
	return NewLogObserver(lp, slowThreshold), exporter
}

func TestLogObserverFailedTest(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 0)
	obs.Observe(Result{
		Suite:     "sum.test.js",
		Name:      "hangs",
		Status:    StatusFail,
		ErrorType: ErrorTypeTimeout,
		Duration:  5 * time.Second,
	})

	records := exporter.get()
	require.Len(t, records, 1)
	assert.Equal(t, otellog.SeverityError, records[0].Severity())
	body := records[0].Body().AsString()
	assert.Contains(t, body, "sum.test.js")
	assert.Contains(t, body, "hangs")
	assert.Contains(t, body, "Timeout")
}

func TestLogObserverSlowTest(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 100*time.Millisecond)
	obs.Observe(Result{Suite: "sum.test.js", Name: "slow", Status: StatusPass, Duration: 250 * time.Millisecond})
	obs.Observe(Result{Suite: "sum.test.js", Name: "fast", Status: StatusPass, Duration: 50 * time.Millisecond})

	records := exporter.get()
	require.Len(t, records, 1)
	assert.Equal(t, otellog.SeverityWarn, records[0].Severity())
	assert.Contains(t, records[0].Body().AsString(), "slow test sum.test.js slow")
}

func TestLogObserverPassingTestIsQuiet(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 0)
	obs.Observe(Result{Suite: "sum.test.js", Name: "adds", Status: StatusPass, Duration: time.Hour})
	obs.Observe(Result{Suite: "sum.test.js", Name: "later", Status: StatusSkip})
	assert.Empty(t, exporter.get())
}

func TestLogObserverAttributes(t *testing.T) {
	t.Parallel()

	obs, exporter := newTestLogObserver(t, 0)
	obs.Observe(Result{Suite: "sum.test.js", Name: "adds", Invocation: 3, Status: StatusFail})

	records := exporter.get()
	require.Len(t, records, 1)
	got := map[string]string{}
	records[0].WalkAttributes(func(kv otellog.KeyValue) bool {
		got[kv.Key] = kv.Value.String()
		return true
	})
	assert.Equal(t, "sum.test.js", got["test.suite"])
	assert.Equal(t, "adds", got["test.name"])
	assert.Equal(t, "3", got["test.invocation"])
	assert.NotContains(t, got, "trace_id")
}
