// Event dispatcher: turns runner lifecycle events into test spans
// Both runner models feed this one vocabulary through their adapters
package testspan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/andrewh/testspan/pkg/hook"
)

// Kind is the type of a lifecycle event.
type Kind string

const (
	KindSetup         Kind = "setup"
	KindTestStart     Kind = "test_start"
	KindTestRetry     Kind = "test_retry"
	KindTestFnFailure Kind = "test_fn_failure"
	KindTestSkip      Kind = "test_skip"
	KindTestTodo      Kind = "test_todo"
	KindHookFailure   Kind = "hook_failure"
	// KindException is raised by runners that report assertion failures
	// through a per-test exception handler instead of the body's result.
	KindException Kind = "exception"
)

// HookError is a failure recorded against a test by a before/after hook.
type HookError struct {
	Message string
	Err     error
}

// Test is the runner's record of a declared test.
type Test struct {
	Name string
	// Fn is the body the runner will call. Handling test_start replaces it.
	Fn Body
	// Invocations counts executions, retries included. The runner increments
	// it before each execution.
	Invocations int
	Errors      []HookError
}

// Event is a lifecycle event.
type Event struct {
	Kind Kind
	Test *Test
	// Reason is the failure reason of a test_fn_failure event.
	Reason string
	// Err is the error raised to the exception handler.
	Err error
	// FullName, when set, is the runner-resolved test name and is used as is.
	FullName string
	// TestPath is the test file path attached to an exception.
	TestPath string
}

// Runtime exposes the live state of the runner's assertion library.
type Runtime interface {
	// CurrentTestName is the name of the executing test, or "" when unknown.
	CurrentTestName() string
	// SuppressedErrors are assertion failures recorded without failing the body.
	SuppressedErrors() []error
}

type noRuntime struct{}

func (noRuntime) CurrentTestName() string   { return "" }
func (noRuntime) SuppressedErrors() []error { return nil }

// Dispatcher handles the events of one suite run. Events must be delivered
// one at a time; test bodies may complete on other goroutines.
type Dispatcher struct {
	suite   *Suite
	rt      Runtime
	globals *hook.Target
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher for suite. globals is the target holding
// the "each" registration function; rt may be nil when the runner exposes no
// assertion state.
func NewDispatcher(suite *Suite, rt Runtime, globals *hook.Target) *Dispatcher {
	if rt == nil {
		rt = noRuntime{}
	}
	return &Dispatcher{
		suite:   suite,
		rt:      rt,
		globals: globals,
		logger:  suite.tracer.logger.With("suite", suite.path),
	}
}

// Suite returns the suite the dispatcher records into.
func (d *Dispatcher) Suite() *Suite { return d.suite }

// Handle processes one event. Unknown kinds and events without the data they
// need are ignored.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindSetup:
		if err := d.suite.CaptureParameters(d.globals); err != nil {
			return fmt.Errorf("capturing test parameters: %w", err)
		}
	case KindTestStart:
		if ev.Test != nil {
			d.start(ev.Test)
		}
	case KindTestRetry:
		if ev.Test != nil {
			d.retry(ev.Test)
		}
	case KindTestFnFailure:
		if ev.Test != nil {
			d.timeout(ev.Test, ev.Reason)
		}
	case KindTestSkip, KindTestTodo:
		if ev.Test != nil {
			d.skip(ctx, ev)
		}
	case KindHookFailure:
		if ev.Test != nil {
			d.hookFailure(ctx, ev)
		}
	case KindException:
		d.exception(ctx, ev)
	default:
		d.logger.Debug("ignoring event", "kind", string(ev.Kind))
	}
	return nil
}

func (d *Dispatcher) name(ev Event) string {
	if ev.FullName != "" {
		return ev.FullName
	}
	return ResolveName(d.rt.CurrentTestName(), ev.Test.Name)
}

func (d *Dispatcher) start(test *Test) {
	declared := test.Name
	name := ResolveName(d.rt.CurrentTestName(), declared)
	params := d.suite.paramsFor(test)

	original := test.Fn
	d.suite.rememberOriginal(name, original)
	test.Fn = Body{
		Fn: func(ctx context.Context) error {
			return d.run(ctx, test, declared, params, original)
		},
		instrumented: true,
	}
}

// run executes one attempt of a test inside its span.
func (d *Dispatcher) run(ctx context.Context, test *Test, declared, params string, original Body) error {
	name := ResolveName(d.rt.CurrentTestName(), declared)
	id := d.suite.identity(name, test.Invocations)
	ctx, span := d.suite.startTest(ctx, id, params)
	if d.suite.spans.Put(id, span) {
		d.logger.Warn("test identity reused while its span is open", "test", id.String())
	}

	defer func() {
		if r := recover(); r != nil {
			span.failWithStack(panicError(r), currentStack())
			span.Finish()
			panic(r)
		}
		span.Finish()
	}()

	if err := original.Run(ctx); err != nil {
		span.Fail(err)
		return err
	}
	if suppressed := d.rt.SuppressedErrors(); len(suppressed) > 0 {
		span.Fail(suppressed[0])
	}
	span.SetStatus(StatusPass)
	return nil
}

func (d *Dispatcher) retry(test *Test) {
	name := ResolveName(d.rt.CurrentTestName(), test.Name)
	if fn, ok := d.suite.original(name); ok {
		test.Fn = fn
	}
}

func (d *Dispatcher) timeout(test *Test, reason string) {
	if !IsTimeout(reason) {
		return
	}
	name := ResolveName(d.rt.CurrentTestName(), test.Name)
	span, ok := d.suite.spans.Get(name, test.Invocations)
	if !ok {
		d.logger.Debug("timeout for unknown test", "test", name, "invocation", test.Invocations)
		return
	}
	span.FailTimeout(reason)
	span.Finish()
}

func (d *Dispatcher) skip(ctx context.Context, ev Event) {
	_, span := d.suite.startTest(ctx, d.suite.identity(d.name(ev), ev.Test.Invocations), d.suite.paramsFor(ev.Test))
	span.SetStatus(StatusSkip)
	span.Finish()
}

func (d *Dispatcher) hookFailure(ctx context.Context, ev Event) {
	_, span := d.suite.startTest(ctx, d.suite.identity(d.name(ev), ev.Test.Invocations), d.suite.paramsFor(ev.Test))
	if len(ev.Test.Errors) > 0 {
		span.failHook(ev.Test.Errors[0])
	} else {
		span.SetStatus(StatusFail)
	}
	span.Finish()
}

// exception closes the active span of a test whose failure was reported to
// the runner's exception handler rather than through the body's result.
func (d *Dispatcher) exception(ctx context.Context, ev Event) {
	span := SpanFromContext(ctx)
	if span == nil {
		span, _ = d.suite.spans.Get(ev.FullName, 0)
	}
	if span == nil {
		return
	}
	id := span.Identity()
	if ev.FullName != id.Name || !strings.HasSuffix(ev.TestPath, id.Suite) || span.Status() != "" {
		return
	}
	err := ev.Err
	if err == nil {
		err = fmt.Errorf("test %q raised an exception", ev.FullName)
	}
	if span.failWithStack(err, currentStack()) {
		span.Finish()
	}
}

// PanicError is recorded on a test span when the body panics with a value
// that is not an error.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &PanicError{Value: r}
}
