// Tests for the declarative-model install decorator
package jasmine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/andrewh/testspan/pkg/hook"
	"github.com/andrewh/testspan/pkg/testspan"
)

const testPath = "/repo/spec/user.test.js"

type expect struct {
	mu      sync.Mutex
	current string
}

func (e *expect) CurrentTestName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *expect) SuppressedErrors() []error { return nil }

func (e *expect) set(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = name
}

// env is a minimal runner: registered specs are kept for the test to run.
type env struct {
	input      *GlobalInput
	expect     *expect
	specs      map[string]testspan.Body
	exceptions []error
	installed  bool
}

func newEnv() *env {
	e := &env{expect: &expect{}, specs: make(map[string]testspan.Body)}
	e.input = &GlobalInput{
		Globals:   hook.NewTarget("global"),
		SpecProto: hook.NewTarget("Spec.prototype"),
		Expect:    e.expect,
		TestPath:  testPath,
	}
	it := ItFunc(func(description string, fn testspan.Body, _ time.Duration) *Spec {
		e.specs[description] = fn
		return NewSpec(e.input.SpecProto, description, testPath)
	})
	e.input.Globals.Define(MethodIt, it)
	e.input.Globals.Define(MethodFit, it)
	e.input.Globals.Define(MethodXit, ItFunc(func(description string, _ testspan.Body, _ time.Duration) *Spec {
		return NewSpec(e.input.SpecProto, "suite "+description, testPath)
	}))
	e.input.SpecProto.Define(MethodOnException, OnExceptionFunc(func(_ context.Context, _ *Spec, err error) {
		e.exceptions = append(e.exceptions, err)
	}))
	return e
}

func (e *env) install(context.Context, GlobalConfig, *GlobalInput) error {
	e.installed = true
	return nil
}

func (e *env) register(t *testing.T, method, description string, fn testspan.Body) *Spec {
	t.Helper()
	it, err := hook.Get[ItFunc](e.input.Globals, method)
	require.NoError(t, err)
	return it(description, fn, time.Second)
}

func setup(t *testing.T) (*env, *Instrumentation, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := testspan.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer, err := testspan.NewTracer(testspan.Config{Provider: tp})
	require.NoError(t, err)

	e := newEnv()
	instr := New(tracer, nil)
	require.NoError(t, instr.Wrap(e.install)(context.Background(), GlobalConfig{RootDir: "/repo"}, e.input))
	require.True(t, e.installed)
	return e, instr, exporter
}

func stringAttr(s tracetest.SpanStub, key attribute.Key) string {
	for _, kv := range s.Attributes {
		if kv.Key == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestItTracesSpec(t *testing.T) {
	t.Parallel()

	e, _, exporter := setup(t)
	for _, method := range []string{MethodIt, MethodFit} {
		e.register(t, method, method+" loads", testspan.Func(func(context.Context) error { return nil }))
	}
	assert.Empty(t, exporter.GetSpans(), "registration opens no span")

	for _, name := range []string{"it loads", "fit loads"} {
		fn := e.specs[name]
		require.True(t, fn.Instrumented())
		e.expect.set(name)
		require.NoError(t, fn.Run(context.Background()))
	}

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "it loads", stringAttr(spans[0], testspan.KeyTestName))
	assert.Equal(t, "fit loads", stringAttr(spans[1], testspan.KeyTestName))
	for _, s := range spans {
		assert.Equal(t, "pass", stringAttr(s, testspan.KeyTestStatus))
		assert.Equal(t, "spec/user.test.js", stringAttr(s, testspan.KeyTestSuite))
	}
}

func TestXitRecordsSkip(t *testing.T) {
	t.Parallel()

	e, _, exporter := setup(t)
	spec := e.register(t, MethodXit, "deletes", testspan.Func(func(context.Context) error { return nil }))
	assert.Equal(t, "suite deletes", spec.FullName)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "suite deletes", stringAttr(spans[0], testspan.KeyTestName))
	assert.Equal(t, "skip", stringAttr(spans[0], testspan.KeyTestStatus))
}

func TestOnExceptionClosesHungSpec(t *testing.T) {
	t.Parallel()

	e, _, exporter := setup(t)
	release := make(chan struct{})
	started := make(chan struct{})
	spec := e.register(t, MethodIt, "renders", testspan.Func(func(context.Context) error {
		close(started)
		<-release
		return nil
	}))

	e.expect.set("renders")
	done := make(chan error, 1)
	go func() { done <- e.specs["renders"].Run(context.Background()) }()
	<-started

	thrown := errors.New("expected <div> to equal <span>")
	spec.OnException(context.Background(), thrown)
	require.Len(t, e.exceptions, 1, "the runner's handler still runs")
	assert.Same(t, thrown, e.exceptions[0])

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "fail", stringAttr(spans[0], testspan.KeyTestStatus))
	assert.Equal(t, "expected <div> to equal <span>", stringAttr(spans[0], testspan.KeyErrorMessage))

	stack := stringAttr(spans[0], testspan.KeyErrorStack)
	assert.Contains(t, stack, "testing.tRunner")
	assert.False(t, strings.HasPrefix(stack, "goroutine"))
	assert.NotContains(t, stack, "runtime/debug.Stack")
	assert.NotContains(t, stack, "pkg/jasmine/jasmine.go")
	assert.NotContains(t, stack, "pkg/testspan/dispatcher.go")

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, exporter.GetSpans(), 1)
}

func TestOnExceptionForOtherFileIgnored(t *testing.T) {
	t.Parallel()

	e, _, exporter := setup(t)
	release := make(chan struct{})
	started := make(chan struct{})
	e.register(t, MethodIt, "renders", testspan.Func(func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	e.expect.set("renders")
	done := make(chan error, 1)
	go func() { done <- e.specs["renders"].Run(context.Background()) }()
	<-started

	other := NewSpec(e.input.SpecProto, "renders", "/repo/spec/other.test.js")
	other.OnException(context.Background(), errors.New("boom"))
	assert.Len(t, e.exceptions, 1)
	assert.Empty(t, exporter.GetSpans())

	close(release)
	require.NoError(t, <-done)
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "pass", stringAttr(spans[0], testspan.KeyTestStatus))
}

func TestTeardownRestoresGlobals(t *testing.T) {
	t.Parallel()

	e, instr, _ := setup(t)
	_, ok := instr.Suite(e.input)
	require.True(t, ok)
	for _, m := range []string{MethodIt, MethodFit, MethodXit} {
		assert.Equal(t, 1, e.input.Globals.Layers(m), m)
	}
	assert.Equal(t, 1, e.input.SpecProto.Layers(MethodOnException))

	require.NoError(t, instr.Teardown(context.Background(), e.input))
	for _, m := range []string{MethodIt, MethodFit, MethodXit} {
		assert.Equal(t, 0, e.input.Globals.Layers(m), m)
	}
	assert.Equal(t, 0, e.input.SpecProto.Layers(MethodOnException))
	_, ok = instr.Suite(e.input)
	assert.False(t, ok)

	require.NoError(t, instr.Teardown(context.Background(), e.input), "second teardown is a no-op")
}

func TestWrapFailsWithoutRegistrationFunctions(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := testspan.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer, err := testspan.NewTracer(testspan.Config{Provider: tp})
	require.NoError(t, err)

	input := &GlobalInput{Globals: hook.NewTarget("global"), SpecProto: hook.NewTarget("Spec.prototype"), TestPath: testPath}
	called := false
	install := func(context.Context, GlobalConfig, *GlobalInput) error { called = true; return nil }

	err = New(tracer, nil).Wrap(install)(context.Background(), GlobalConfig{}, input)
	require.ErrorIs(t, err, hook.ErrNoMethod)
	assert.False(t, called)
}

func TestPluginMetadata(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "jest-jasmine2", Plugin.Name)
	assert.Equal(t, "build/jasmineAsyncInstall.js", Plugin.File)
	ok, err := Plugin.Supports("26.6.3")
	require.NoError(t, err)
	assert.True(t, ok)
}
