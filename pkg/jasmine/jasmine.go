// Declarative-model adapter: decorates the runner's async install step so that
// it, fit and xit registrations and per-spec exception reports produce test spans
package jasmine

import (
	"context"
	"sync"
	"time"

	"github.com/andrewh/testspan/pkg/hook"
	"github.com/andrewh/testspan/pkg/testspan"
)

// Names of the patched functions.
const (
	MethodIt          = "it"
	MethodFit         = "fit"
	MethodXit         = "xit"
	MethodOnException = "onException"
)

// Plugin describes the runner module this adapter decorates.
var Plugin = testspan.Plugin{
	Name:     "jest-jasmine2",
	Versions: []string{">=24.8.0"},
	File:     "build/jasmineAsyncInstall.js",
}

var adapterDir = testspan.CallerDir()

// ItFunc registers a spec.
type ItFunc func(description string, fn testspan.Body, timeout time.Duration) *Spec

// OnExceptionFunc is the spec exception handler.
type OnExceptionFunc func(ctx context.Context, spec *Spec, err error)

// Spec is a registered spec.
type Spec struct {
	// FullName is the spec description prefixed by its enclosing describe blocks.
	FullName string
	Result   SpecResult

	proto *hook.Target
}

// SpecResult is the runner's record of a spec outcome.
type SpecResult struct {
	TestPath string
}

// NewSpec creates a spec whose exception handler is looked up on proto.
func NewSpec(proto *hook.Target, fullName, testPath string) *Spec {
	return &Spec{FullName: fullName, Result: SpecResult{TestPath: testPath}, proto: proto}
}

// OnException reports err raised while the spec ran.
func (s *Spec) OnException(ctx context.Context, err error) {
	fn, lookupErr := hook.Get[OnExceptionFunc](s.proto, MethodOnException)
	if lookupErr != nil {
		return
	}
	fn(ctx, s, err)
}

// GlobalInput is the per-test-file environment the install step populates.
type GlobalInput struct {
	// Globals holds the it, fit and xit registration functions.
	Globals *hook.Target
	// SpecProto holds the onException handler shared by every spec.
	SpecProto *hook.Target
	// Expect exposes the assertion library state.
	Expect   testspan.Runtime
	TestPath string
}

// GlobalConfig is the run-wide configuration.
type GlobalConfig struct {
	RootDir string
}

// AsyncInstallFunc installs the spec registration functions for one test file.
type AsyncInstallFunc func(ctx context.Context, cfg GlobalConfig, input *GlobalInput) error

// Instrumentation decorates the install step.
type Instrumentation struct {
	tracer *testspan.Tracer
	hooks  hook.Instrumenter

	mu     sync.Mutex
	suites map[*GlobalInput]*testspan.Suite
}

// New creates an Instrumentation recording spans with tracer. A nil hooks
// uses a default hook.Shimmer.
func New(tracer *testspan.Tracer, hooks hook.Instrumenter) *Instrumentation {
	return &Instrumentation{
		tracer: tracer,
		hooks:  hooks,
		suites: make(map[*GlobalInput]*testspan.Suite),
	}
}

// Wrap returns install decorated with span generation.
func (in *Instrumentation) Wrap(install AsyncInstallFunc) AsyncInstallFunc {
	return func(ctx context.Context, cfg GlobalConfig, input *GlobalInput) error {
		suite := in.tracer.NewSuite(in.hooks, testspan.SuiteConfig{
			RootDir:   cfg.RootDir,
			TestPath:  input.TestPath,
			StackDirs: []string{adapterDir},
		})
		d := testspan.NewDispatcher(suite, input.Expect, nil)

		in.mu.Lock()
		in.suites[input] = suite
		in.mu.Unlock()

		if err := testspan.InstallFunc(suite, input.SpecProto, MethodOnException, wrapOnException(d)); err != nil {
			return err
		}
		if err := testspan.InstallFunc(suite, input.Globals, MethodIt, wrapIt(d)); err != nil {
			return err
		}
		if err := testspan.InstallFunc(suite, input.Globals, MethodFit, wrapIt(d)); err != nil {
			return err
		}
		if err := testspan.InstallFunc(suite, input.Globals, MethodXit, wrapItSkip(d)); err != nil {
			return err
		}
		return install(ctx, cfg, input)
	}
}

// Suite returns the suite state created for input, if it was installed.
func (in *Instrumentation) Suite(input *GlobalInput) (*testspan.Suite, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	s, ok := in.suites[input]
	return s, ok
}

// Teardown restores input's registration functions and flushes its spans.
func (in *Instrumentation) Teardown(ctx context.Context, input *GlobalInput) error {
	in.mu.Lock()
	suite, ok := in.suites[input]
	delete(in.suites, input)
	in.mu.Unlock()
	if !ok {
		return nil
	}
	return suite.Teardown(ctx)
}

func wrapIt(d *testspan.Dispatcher) func(ItFunc) ItFunc {
	return func(it ItFunc) ItFunc {
		return func(description string, fn testspan.Body, timeout time.Duration) *Spec {
			test := &testspan.Test{Name: description, Fn: fn, Invocations: 1}
			_ = d.Handle(context.Background(), testspan.Event{Kind: testspan.KindTestStart, Test: test})
			return it(description, test.Fn, timeout)
		}
	}
}

func wrapItSkip(d *testspan.Dispatcher) func(ItFunc) ItFunc {
	return func(it ItFunc) ItFunc {
		return func(description string, fn testspan.Body, timeout time.Duration) *Spec {
			spec := it(description, fn, timeout)
			ev := testspan.Event{
				Kind: testspan.KindTestSkip,
				Test: &testspan.Test{Name: description, Invocations: 1},
			}
			if spec != nil {
				ev.FullName = spec.FullName
			}
			_ = d.Handle(context.Background(), ev)
			return spec
		}
	}
}

func wrapOnException(d *testspan.Dispatcher) func(OnExceptionFunc) OnExceptionFunc {
	return func(onException OnExceptionFunc) OnExceptionFunc {
		return func(ctx context.Context, spec *Spec, err error) {
			_ = d.Handle(ctx, testspan.Event{
				Kind:     testspan.KindException,
				FullName: spec.FullName,
				TestPath: spec.Result.TestPath,
				Err:      err,
			})
			onException(ctx, spec, err)
		}
	}
}
