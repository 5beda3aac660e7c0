// Simulated declarative runner: installs it/fit/xit and a spec exception handler,
// registers the scripted specs, then runs them reporting failures to the handler
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/andrewh/testspan/pkg/hook"
	"github.com/andrewh/testspan/pkg/jasmine"
	"github.com/andrewh/testspan/pkg/testspan"
)

type jasmineEnv struct {
	input      *jasmine.GlobalInput
	state      *expectState
	describe   string
	pending    *script
	specs      []registeredSpec
	skipped    int64
	exceptions atomic.Int64
}

type registeredSpec struct {
	spec   *jasmine.Spec
	fn     testspan.Body
	script *script
}

func newJasmineEnv(testPath string) *jasmineEnv {
	env := &jasmineEnv{state: &expectState{}}
	env.input = &jasmine.GlobalInput{
		Globals:   hook.NewTarget("global"),
		SpecProto: hook.NewTarget("Spec.prototype"),
		Expect:    env.state,
		TestPath:  testPath,
	}
	it := jasmine.ItFunc(func(description string, fn testspan.Body, _ time.Duration) *jasmine.Spec {
		spec := env.newSpec(description)
		env.specs = append(env.specs, registeredSpec{spec: spec, fn: fn, script: env.pending})
		return spec
	})
	env.input.Globals.Define(jasmine.MethodIt, it)
	env.input.Globals.Define(jasmine.MethodFit, it)
	env.input.Globals.Define(jasmine.MethodXit, jasmine.ItFunc(func(description string, _ testspan.Body, _ time.Duration) *jasmine.Spec {
		env.skipped++
		return env.newSpec(description)
	}))
	env.input.SpecProto.Define(jasmine.MethodOnException, jasmine.OnExceptionFunc(func(context.Context, *jasmine.Spec, error) {
		env.exceptions.Add(1)
	}))
	return env
}

func (env *jasmineEnv) newSpec(description string) *jasmine.Spec {
	name := description
	if env.describe != "" {
		name = env.describe + " " + description
	}
	return jasmine.NewSpec(env.input.SpecProto, name, env.input.TestPath)
}

// install is the runner's own install step; the globals are already defined.
func (env *jasmineEnv) install(context.Context, jasmine.GlobalConfig, *jasmine.GlobalInput) error {
	return nil
}

func (r *Runner) runJasmine(ctx context.Context, suite SuiteScript, stats *Stats) error {
	env := newJasmineEnv(suite.Path)
	instr := jasmine.New(r.Tracer, r.Hooks)
	exec := newExecution(r.Script.Timeout)

	install := instr.Wrap(env.install)
	err := install(ctx, jasmine.GlobalConfig{RootDir: r.Script.RootDir}, env.input)
	if err == nil {
		err = r.playJasmine(ctx, suite, env, exec, stats)
	}
	err = errors.Join(err, instr.Teardown(ctx, env.input))
	exec.finish()
	stats.Skipped += env.skipped
	stats.Exceptions += env.exceptions.Load()
	return err
}

func (r *Runner) playJasmine(ctx context.Context, suite SuiteScript, env *jasmineEnv, exec *execution, stats *Stats) error {
	for _, ts := range suite.Tests {
		method := jasmine.MethodIt
		switch {
		case ts.Outcome == OutcomeSkip:
			method = jasmine.MethodXit
		case ts.Only:
			method = jasmine.MethodFit
		}
		it, err := hook.Get[jasmine.ItFunc](env.input.Globals, method)
		if err != nil {
			return err
		}

		sc := &script{test: ts, state: env.state, release: exec.release}
		var spec *jasmine.Spec
		sc.spec = func() specReporter {
			if spec == nil {
				return nil
			}
			return spec
		}
		env.describe = ts.Describe
		env.pending = sc
		spec = it(ts.Name, sc.body(), r.Script.Timeout)
		env.describe = ""
		stats.Tests++
	}

	for _, rs := range env.specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		env.state.reset(rs.spec.FullName)
		stats.Attempts++
		res, timedOut := exec.run(ctx, rs.fn)
		switch {
		case timedOut:
			stats.Timeouts++
			rs.spec.OnException(context.Background(), fmt.Errorf( //nolint:staticcheck // runner's own wording
				"Timeout - Async callback was not invoked within the %d ms timeout specified by jest.setTimeout.",
				r.Script.Timeout.Milliseconds()))
		case res.err != nil:
			rs.spec.OnException(context.Background(), res.err)
		}
	}
	return nil
}
