// Per-suite-run state: correlation store, parameter record, original bodies and installed hooks
// Teardown restores every hook and flushes spans before the runner tears the suite down
package testspan

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/andrewh/testspan/pkg/hook"
)

// SuiteConfig identifies one test file run.
type SuiteConfig struct {
	// RootDir is the run root; the suite tag is TestPath relative to it.
	RootDir string
	// TestPath is the test file path reported by the runner.
	TestPath string
	// StackDirs are extra source directories whose frames are dropped from
	// recorded error stacks, typically the adapter's own.
	StackDirs []string
}

type installedHook struct {
	target *hook.Target
	method string
}

// Suite holds every piece of mutable state for one suite run.
type Suite struct {
	tracer    *Tracer
	hooks     hook.Instrumenter
	path      string
	stackDirs []string
	spans     *SpanStore
	params    *Params

	mu           sync.Mutex
	originals    map[string]Body
	testParams   map[*Test]string // input row taken by each test on its first event
	installed    []installedHook
	eachCaptured bool
}

func newSuite(t *Tracer, hooks hook.Instrumenter, cfg SuiteConfig) *Suite {
	if hooks == nil {
		hooks = hook.NewShimmer(t.logger)
	}
	dirs := append(slices.Clone(t.stackDirs), cfg.StackDirs...)
	return &Suite{
		tracer:     t,
		hooks:      hooks,
		path:       SuitePath(cfg.RootDir, cfg.TestPath),
		stackDirs:  dirs,
		spans:      NewSpanStore(),
		params:     NewParams(),
		originals:  make(map[string]Body),
		testParams: make(map[*Test]string),
	}
}

// Path is the suite tag: the test file path relative to the run root.
func (s *Suite) Path() string { return s.path }

// Spans returns the suite's correlation store.
func (s *Suite) Spans() *SpanStore { return s.spans }

// Params returns the suite's parameter record.
func (s *Suite) Params() *Params { return s.params }

// Tracer returns the tracer the suite opens spans on.
func (s *Suite) Tracer() *Tracer { return s.tracer }

// Install wraps method on target and records it for restoration at teardown.
func (s *Suite) Install(target *hook.Target, method string, w hook.Wrapper) error {
	if err := s.hooks.Wrap(target, method, w); err != nil {
		return err
	}
	s.mu.Lock()
	s.installed = append(s.installed, installedHook{target: target, method: method})
	s.mu.Unlock()
	return nil
}

// InstallFunc is the typed form of Suite.Install.
func InstallFunc[F any](s *Suite, target *hook.Target, method string, wrap func(original F) F) error {
	return s.Install(target, method, func(original any) (any, error) {
		f, ok := original.(F)
		if !ok {
			return nil, fmt.Errorf("%s.%s is %T: %w", target.Name(), method, original, hook.ErrTypeMismatch)
		}
		return wrap(f), nil
	})
}

// CaptureParameters wraps the "each" registration function on globals so the
// input rows of parameterized tests are recorded under their declared names.
// The record is reset on every call; the wrapper is installed only once.
func (s *Suite) CaptureParameters(globals *hook.Target) error {
	s.params.Reset()
	s.mu.Lock()
	clear(s.testParams)
	s.mu.Unlock()
	if globals == nil {
		return nil
	}
	s.mu.Lock()
	captured := s.eachCaptured
	s.mu.Unlock()
	if captured {
		return nil
	}

	err := InstallFunc(s, globals, EachMethod, func(original EachFunc) EachFunc {
		return func(table [][]any) func(string, Body) {
			rows := FormatTable(table)
			bind := original(table)
			return func(name string, fn Body) {
				s.params.Register(name, rows)
				bind(name, fn)
			}
		}
	})
	if errors.Is(err, hook.ErrNoMethod) {
		s.tracer.logger.Debug("no parameterized test registration to capture", "suite", s.path)
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.eachCaptured = true
	s.mu.Unlock()
	return nil
}

func (s *Suite) rememberOriginal(name string, fn Body) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.originals[name] = fn
}

func (s *Suite) original(name string) (Body, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.originals[name]
	return fn, ok
}

// paramsFor returns the input row of test. The first call takes the next row
// registered under the declared name; retries and later events of the same
// test reuse it.
func (s *Suite) paramsFor(test *Test) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.testParams[test]; ok {
		return p
	}
	p := s.params.Next(test.Name)
	s.testParams[test] = p
	return p
}

func (s *Suite) identity(name string, invocation int) Identity {
	return Identity{Suite: s.path, Name: name, Invocation: invocation}
}

func (s *Suite) startTest(ctx context.Context, id Identity, params string) (context.Context, *TestSpan) {
	return s.tracer.start(ctx, id, params, s.stackDirs)
}

// Teardown restores every installed hook, finishes spans left open, and
// blocks until finished spans have been handed to the exporters.
func (s *Suite) Teardown(ctx context.Context) error {
	var errs []error

	s.mu.Lock()
	installed := s.installed
	s.installed = nil
	s.eachCaptured = false
	clear(s.originals)
	clear(s.testParams)
	s.mu.Unlock()

	for i := len(installed) - 1; i >= 0; i-- {
		h := installed[i]
		if err := s.hooks.Unwrap(h.target, h.method); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s.%s: %w", h.target.Name(), h.method, err))
		}
	}
	s.params.Reset()

	for _, span := range s.spans.Open() {
		s.tracer.logger.Warn("finishing test left open at teardown", "suite", s.path, "test", span.Identity().String())
		span.fail(ErrorTypeUnfinished, errUnfinished.Error(), "", errUnfinished)
		span.Finish()
	}
	s.spans.Reset()

	if err := s.tracer.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing spans: %w", err))
	}
	return errors.Join(errs...)
}

var errUnfinished = errors.New("test did not complete before suite teardown")
