// LogObserver derives log records from failed and slow tests
// Emits ERROR-severity logs for failures and WARN-severity logs for slow tests
package testspan

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/log"
)

// LogObserver emits log records for notable test outcomes.
type LogObserver struct {
	logger        log.Logger
	slowThreshold time.Duration
}

// NewLogObserver creates a LogObserver that emits logs via the given LoggerProvider.
// A slowThreshold of 0 disables slow test detection.
func NewLogObserver(lp log.LoggerProvider, slowThreshold time.Duration) *LogObserver {
	return &LogObserver{
		logger:        lp.Logger(instrumentationName),
		slowThreshold: slowThreshold,
	}
}

// Observe emits log records for failed tests and tests exceeding the slow threshold.
func (l *LogObserver) Observe(r Result) {
	attrs := []log.KeyValue{
		log.String(string(KeyTestSuite), r.Suite),
		log.String(string(KeyTestName), r.Name),
		log.Int(string(KeyTestInvocation), r.Invocation),
	}
	if r.TraceID.IsValid() {
		attrs = append(attrs, log.String("trace_id", r.TraceID.String()))
	}

	if r.Failed() {
		var rec log.Record
		rec.SetTimestamp(r.Timestamp.Add(r.Duration))
		rec.SetSeverity(log.SeverityError)
		rec.SetSeverityText("ERROR")
		msg := fmt.Sprintf("test failed: %s %s", r.Suite, r.Name)
		if r.ErrorType != "" {
			msg += " (" + r.ErrorType + ")"
		}
		rec.SetBody(log.StringValue(msg))
		rec.AddAttributes(attrs...)
		l.logger.Emit(context.Background(), rec)
	}

	if l.slowThreshold > 0 && r.Duration > l.slowThreshold {
		var rec log.Record
		rec.SetTimestamp(r.Timestamp.Add(r.Duration))
		rec.SetSeverity(log.SeverityWarn)
		rec.SetSeverityText("WARN")
		rec.SetBody(log.StringValue(fmt.Sprintf(
			"slow test %s %s: %s (threshold %s)",
			r.Suite, r.Name, r.Duration, l.slowThreshold,
		)))
		rec.AddAttributes(attrs...)
		l.logger.Emit(context.Background(), rec)
	}
}
