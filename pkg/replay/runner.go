// Replay runner: drives scripted test suites through a simulated runner model
// Test bodies really run; hung bodies are released only after their suite is torn down
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrewh/testspan/pkg/hook"
	"github.com/andrewh/testspan/pkg/testspan"
)

// Runner replays a script.
type Runner struct {
	Script *Script
	Tracer *testspan.Tracer
	// Hooks installs the instrumentation wrappers. Nil uses a hook.Shimmer per suite.
	Hooks  hook.Instrumenter
	Logger *slog.Logger
}

// Stats holds counters collected during a replay.
type Stats struct {
	Suites       int64 `json:"suites"`
	Tests        int64 `json:"tests"`
	Attempts     int64 `json:"attempts"`
	Retries      int64 `json:"retries"`
	Skipped      int64 `json:"skipped"`
	Timeouts     int64 `json:"timeouts"`
	HookFailures int64 `json:"hook_failures"`
	Exceptions   int64 `json:"exceptions"`
	ElapsedMs    int64 `json:"elapsed_ms"`
}

// Run replays every suite in order.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	if r.Script == nil || r.Tracer == nil {
		return nil, fmt.Errorf("script and tracer are required")
	}
	if err := ValidateScript(r.Script); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var stats Stats
	start := time.Now()
	for _, suite := range r.Script.Suites {
		if err := ctx.Err(); err != nil {
			return &stats, err
		}
		logger.Debug("replaying suite", "model", string(r.Script.Model), "path", suite.Path)

		var err error
		switch r.Script.Model {
		case ModelJasmine:
			err = r.runJasmine(ctx, suite, &stats)
		default:
			err = r.runCircus(ctx, suite, &stats)
		}
		stats.Suites++
		if err != nil {
			return &stats, fmt.Errorf("suite %s: %w", suite.Path, err)
		}
	}
	stats.ElapsedMs = time.Since(start).Milliseconds()
	return &stats, nil
}

// AssertionError is the failure a scripted test body raises. It carries the
// stack it was raised on.
type AssertionError struct {
	Message string
	stack   []byte
}

func newAssertionError(format string, args ...any) *AssertionError {
	return &AssertionError{Message: fmt.Sprintf(format, args...), stack: debug.Stack()}
}

func (e *AssertionError) Error() string { return e.Message }

// Stack returns the stack the error was raised on.
func (e *AssertionError) Stack() []byte { return e.stack }

// expectState is the simulated assertion library state.
type expectState struct {
	mu         sync.Mutex
	current    string
	suppressed []error
}

func (e *expectState) CurrentTestName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *expectState) SuppressedErrors() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suppressed
}

func (e *expectState) reset(current string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = current
	e.suppressed = nil
}

func (e *expectState) suppress(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suppressed = append(e.suppressed, err)
}

// script holds what a body needs to act out its TestScript.
type script struct {
	test     TestScript
	state    *expectState
	release  <-chan struct{}
	attempts atomic.Int64
	spec     func() specReporter
}

// specReporter is the exception handler of the spec running a body.
type specReporter interface {
	OnException(ctx context.Context, err error)
}

func (s *script) body() testspan.Body {
	if s.test.Callback {
		return testspan.CallbackFunc(func(ctx context.Context, done func(error)) {
			n := s.attempts.Add(1)
			go func() { done(s.act(ctx, n)) }()
		})
	}
	return testspan.Func(func(ctx context.Context) error {
		return s.act(ctx, s.attempts.Add(1))
	})
}

func (s *script) act(ctx context.Context, attempt int64) error {
	ts := s.test
	if ts.Duration > 0 {
		select {
		case <-time.After(ts.Duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if attempt <= int64(ts.FailAttempts) {
		return newAssertionError("%s: attempt %d failed", ts.FullName(), attempt)
	}

	switch ts.Outcome {
	case OutcomeFail:
		return newAssertionError("%s", s.message("expect(received).toBe(expected)"))
	case OutcomePanic:
		panic(newAssertionError("%s", s.message("unexpected panic")))
	case OutcomeAssert:
		s.state.suppress(newAssertionError("%s", s.message("expect.assertions(1) failed")))
	case OutcomeTimeout:
		<-s.release
	case OutcomeThrow:
		if s.spec != nil {
			if spec := s.spec(); spec != nil {
				spec.OnException(ctx, newAssertionError("%s", s.message("expect(received).toEqual(expected)")))
			}
		}
		<-s.release
	}
	return nil
}

func (s *script) message(fallback string) string {
	if s.test.Message != "" {
		return s.test.Message
	}
	return fallback
}

type bodyResult struct {
	err      error
	panicked bool
}

// execution runs bodies on their own goroutines and remembers those still
// running when their timeout expired.
type execution struct {
	timeout time.Duration
	release chan struct{}
	hung    []<-chan bodyResult
}

func newExecution(timeout time.Duration) *execution {
	return &execution{timeout: timeout, release: make(chan struct{})}
}

// run executes fn and waits for it up to the timeout. timedOut reports whether
// the body was still running when the timeout expired.
func (e *execution) run(ctx context.Context, fn testspan.Body) (res bodyResult, timedOut bool) {
	ch := make(chan bodyResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", r)
				}
				ch <- bodyResult{err: err, panicked: true}
			}
		}()
		ch <- bodyResult{err: fn.Run(ctx)}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res, false
	case <-timer.C:
		e.hung = append(e.hung, ch)
		return bodyResult{}, true
	}
}

// finish releases hung bodies and waits for them to return.
func (e *execution) finish() {
	close(e.release)
	for _, ch := range e.hung {
		<-ch
	}
	e.hung = nil
}
