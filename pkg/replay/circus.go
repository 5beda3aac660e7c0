// Simulated linear runner: emits the native event stream of a circus-style runner
// into a decorated environment, running test bodies between start and completion events
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrewh/testspan/pkg/circus"
	"github.com/andrewh/testspan/pkg/hook"
	"github.com/andrewh/testspan/pkg/testspan"
)

// circusBase is the runner's own environment: it owns the global test object
// and the assertion state, and records the events it is handed.
type circusBase struct {
	global   *hook.Target
	state    *expectState
	events   []string
	pending  *script
	declared []declaredTest
}

type declaredTest struct {
	script *script
	test   *testspan.Test
}

func newCircusBase() *circusBase {
	b := &circusBase{global: hook.NewTarget("test"), state: &expectState{}}
	b.global.Define(testspan.EachMethod, testspan.EachFunc(func(table [][]any) func(string, testspan.Body) {
		return func(name string, fn testspan.Body) {
			for range table {
				b.declare(name, fn)
			}
		}
	}))
	return b
}

func (b *circusBase) declare(name string, fn testspan.Body) {
	b.declared = append(b.declared, declaredTest{script: b.pending, test: &testspan.Test{Name: name, Fn: fn}})
}

func (b *circusBase) Global() *hook.Target           { return b.global }
func (b *circusBase) VMContext() testspan.Runtime    { return b.state }
func (b *circusBase) Teardown(context.Context) error { return nil }

func (b *circusBase) HandleTestEvent(_ context.Context, ev circus.Event) error {
	b.events = append(b.events, ev.Name)
	return nil
}

func (r *Runner) runCircus(ctx context.Context, suite SuiteScript, stats *Stats) error {
	return r.replayCircus(ctx, suite, newCircusBase(), stats)
}

func (r *Runner) replayCircus(ctx context.Context, suite SuiteScript, base *circusBase, stats *Stats) error {
	env := circus.New(base, r.Tracer, r.Hooks, circus.Config{
		RootDir:  r.Script.RootDir,
		TestPath: suite.Path,
	})
	exec := newExecution(r.Script.Timeout)

	emit := func(name string, test *testspan.Test, failure any) error {
		return env.HandleTestEvent(ctx, circus.Event{Name: name, Test: test, Error: failure})
	}

	err := r.playCircus(ctx, suite, base, exec, emit, stats)
	if emitErr := emit(circus.EventTeardown, nil, nil); emitErr != nil {
		err = errors.Join(err, emitErr)
	}
	err = errors.Join(err, env.Teardown(ctx))
	exec.finish()
	return err
}

func (r *Runner) playCircus(ctx context.Context, suite SuiteScript, base *circusBase, exec *execution,
	emit func(string, *testspan.Test, any) error, stats *Stats,
) error {
	if err := emit(circus.EventSetup, nil, nil); err != nil {
		return err
	}

	for _, ts := range suite.Tests {
		base.pending = &script{test: ts, state: base.state, release: exec.release}
		if len(ts.Each) == 0 {
			base.declare(ts.FullName(), base.pending.body())
			continue
		}
		each, err := hook.Get[testspan.EachFunc](base.global, testspan.EachMethod)
		if err != nil {
			return err
		}
		each(ts.Each)(ts.FullName(), base.pending.body())
	}
	stats.Tests += int64(len(base.declared))

	for _, dt := range base.declared {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.playCircusTest(ctx, dt, base, exec, emit, stats); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) playCircusTest(ctx context.Context, dt declaredTest, base *circusBase, exec *execution,
	emit func(string, *testspan.Test, any) error, stats *Stats,
) error {
	test, ts := dt.test, dt.script.test
	switch ts.Outcome {
	case OutcomeSkip:
		stats.Skipped++
		base.state.reset("")
		return emit(circus.EventTestSkip, test, nil)
	case OutcomeTodo:
		stats.Skipped++
		base.state.reset("")
		return emit(circus.EventTestTodo, test, nil)
	case OutcomeHookFailure:
		stats.HookFailures++
		test.Invocations++
		base.state.reset(test.Name)
		if err := emit(circus.EventTestStart, test, nil); err != nil {
			return err
		}
		hookErr := newAssertionError("%s", dt.script.message("beforeEach hook failed"))
		test.Errors = append(test.Errors, testspan.HookError{Message: hookErr.Message, Err: hookErr})
		if err := emit(circus.EventHookFailure, test, nil); err != nil {
			return err
		}
		return emit(circus.EventTestDone, test, nil)
	}

	for attempt := 1; attempt <= ts.Retries+1; attempt++ {
		test.Invocations++
		if attempt > 1 {
			stats.Retries++
			if err := emit(circus.EventTestRetry, test, nil); err != nil {
				return err
			}
		}
		base.state.reset(test.Name)
		if err := emit(circus.EventTestStart, test, nil); err != nil {
			return err
		}
		if err := emit(circus.EventTestFnStart, test, nil); err != nil {
			return err
		}

		stats.Attempts++
		res, timedOut := exec.run(ctx, test.Fn)
		var failure any
		switch {
		case timedOut:
			stats.Timeouts++
			failure = fmt.Sprintf("Exceeded timeout of %d ms for a test.", r.Script.Timeout.Milliseconds())
		case res.err != nil:
			failure = res.err
		case len(base.state.SuppressedErrors()) > 0:
			failure = base.state.SuppressedErrors()[0]
		}

		if failure == nil {
			if err := emit(circus.EventTestFnSuccess, test, nil); err != nil {
				return err
			}
		} else if err := emit(circus.EventTestFnFailure, test, failure); err != nil {
			return err
		}
		if err := emit(circus.EventTestDone, test, nil); err != nil {
			return err
		}
		if failure == nil {
			break
		}
	}
	return nil
}
