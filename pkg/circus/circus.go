// Linear-model adapter: decorates a runner environment that receives a serialized
// stream of lifecycle events, turning them into test spans before delegating
package circus

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrewh/testspan/pkg/hook"
	"github.com/andrewh/testspan/pkg/testspan"
)

// Native event names delivered by the runner.
const (
	EventSetup         = "setup"
	EventTestStart     = "test_start"
	EventTestRetry     = "test_retry"
	EventTestFnStart   = "test_fn_start"
	EventTestFnSuccess = "test_fn_success"
	EventTestFnFailure = "test_fn_failure"
	EventTestDone      = "test_done"
	EventTestSkip      = "test_skip"
	EventTestTodo      = "test_todo"
	EventHookFailure   = "hook_failure"
	EventTeardown      = "teardown"
)

// Plugins lists the runner environments this adapter decorates.
var Plugins = []testspan.Plugin{
	{Name: "jest-environment-node", Versions: []string{">=24.8.0"}},
	{Name: "jest-environment-jsdom", Versions: []string{">=24.8.0"}},
}

var adapterDir = testspan.CallerDir()

// Event is a lifecycle event as the runner emits it.
type Event struct {
	Name string
	Test *testspan.Test
	// Error is the failure of a test_fn_failure event. Timeouts are reported
	// as a string reason; other failures carry the thrown value.
	Error any
}

// Base is the runner's own test environment.
type Base interface {
	// Global is the global test object; parameterized tests are declared
	// through its "each" function.
	Global() *hook.Target
	// VMContext returns the assertion state of the test execution context,
	// or nil when no context exists.
	VMContext() testspan.Runtime
	HandleTestEvent(ctx context.Context, ev Event) error
	Teardown(ctx context.Context) error
}

// Config identifies the test file the environment runs.
type Config struct {
	RootDir  string
	TestPath string
}

// Environment decorates a Base with test span generation.
type Environment struct {
	base       Base
	suite      *testspan.Suite
	dispatcher *testspan.Dispatcher
}

// New decorates base. hooks installs the parameter capture wrapper; nil uses
// a default hook.Shimmer.
func New(base Base, tracer *testspan.Tracer, hooks hook.Instrumenter, cfg Config) *Environment {
	suite := tracer.NewSuite(hooks, testspan.SuiteConfig{
		RootDir:   cfg.RootDir,
		TestPath:  cfg.TestPath,
		StackDirs: []string{adapterDir},
	})
	return &Environment{
		base:       base,
		suite:      suite,
		dispatcher: testspan.NewDispatcher(suite, vmRuntime{base}, base.Global()),
	}
}

// Suite returns the per-suite state of the environment.
func (e *Environment) Suite() *testspan.Suite { return e.suite }

// Global returns the base environment's global test object.
func (e *Environment) Global() *hook.Target { return e.base.Global() }

// HandleTestEvent records ev and then passes it to the base environment.
func (e *Environment) HandleTestEvent(ctx context.Context, ev Event) error {
	if tev, ok := translate(ev); ok {
		if err := e.dispatcher.Handle(ctx, tev); err != nil {
			return fmt.Errorf("handling %s: %w", ev.Name, err)
		}
	}
	return e.base.HandleTestEvent(ctx, ev)
}

// Teardown flushes the suite's spans before tearing down the base environment.
func (e *Environment) Teardown(ctx context.Context) error {
	return errors.Join(e.suite.Teardown(ctx), e.base.Teardown(ctx))
}

func translate(ev Event) (testspan.Event, bool) {
	out := testspan.Event{Test: ev.Test}
	switch ev.Name {
	case EventSetup:
		out.Kind = testspan.KindSetup
	case EventTestStart:
		out.Kind = testspan.KindTestStart
	case EventTestRetry:
		out.Kind = testspan.KindTestRetry
	case EventTestFnFailure:
		out.Kind = testspan.KindTestFnFailure
		if reason, ok := ev.Error.(string); ok {
			out.Reason = reason
		}
	case EventTestSkip:
		out.Kind = testspan.KindTestSkip
	case EventTestTodo:
		out.Kind = testspan.KindTestTodo
	case EventHookFailure:
		out.Kind = testspan.KindHookFailure
	default:
		return testspan.Event{}, false
	}
	return out, true
}

// vmRuntime reads assertion state from whatever execution context the base
// environment currently has.
type vmRuntime struct {
	base Base
}

func (r vmRuntime) CurrentTestName() string {
	if vm := r.base.VMContext(); vm != nil {
		return vm.CurrentTestName()
	}
	return ""
}

func (r vmRuntime) SuppressedErrors() []error {
	if vm := r.base.VMContext(); vm != nil {
		return vm.SuppressedErrors()
	}
	return nil
}
