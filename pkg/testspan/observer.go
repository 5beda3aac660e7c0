// Observer interface for deriving signals (metrics, logs) from finished test spans
// Observers receive the outcome of each test after its span ends
package testspan

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Result is the outcome of one test execution.
type Result struct {
	Suite      string
	Name       string
	Invocation int
	Status     Status
	ErrorType  string
	Parameters string
	Timestamp  time.Time
	Duration   time.Duration
	TraceID    trace.TraceID
}

// Failed reports whether the test ended with a fail status.
func (r Result) Failed() bool { return r.Status == StatusFail }

// Observer receives the result of each test after its span is finished.
// Observe may be called from the goroutine that ran the test body.
type Observer interface {
	Observe(r Result)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(r Result)

// Observe calls f(r).
func (f ObserverFunc) Observe(r Result) { f(r) }
