// Tracer: opens test spans on an OpenTelemetry SDK provider with the shared tag set
// Owns root trace context selection, child span cascade tracking and flushing
package testspan

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrewh/testspan/pkg/hook"
	"github.com/andrewh/testspan/pkg/idgen"
)

const (
	instrumentationName = "github.com/andrewh/testspan"
	defaultFramework    = "jest"
)

// Config configures a Tracer.
type Config struct {
	// Provider receives every test span. Required.
	Provider *sdktrace.TracerProvider
	// Framework names the test framework; spans are named "<framework>.test".
	Framework string
	// Metadata is appended to every span (CI provider, git commit, runtime, ...).
	Metadata []attribute.KeyValue
	// Parent, when it holds a valid W3C traceparent, makes every test span a
	// child of that remote span instead of a new trace root.
	Parent propagation.TextMapCarrier
	// Observers are notified after each test span finishes.
	Observers []Observer
	// Logger receives diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Tracer opens and finishes test spans.
type Tracer struct {
	provider  *sdktrace.TracerProvider
	tracer    trace.Tracer
	framework string
	spanName  string
	metadata  []attribute.KeyValue
	parent    trace.SpanContext
	observers []Observer
	logger    *slog.Logger
	open      *openSpans
	stackDirs []string
}

// NewTracer creates a Tracer and registers its child span tracker on the provider.
func NewTracer(cfg Config) (*Tracer, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("tracer provider is required")
	}
	framework := cfg.Framework
	if framework == "" {
		framework = defaultFramework
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	t := &Tracer{
		provider:  cfg.Provider,
		tracer:    cfg.Provider.Tracer(instrumentationName),
		framework: framework,
		spanName:  framework + ".test",
		metadata:  slices.Clone(cfg.Metadata),
		observers: slices.Clone(cfg.Observers),
		logger:    logger,
		open:      newOpenSpans(),
		stackDirs: []string{packageDir},
	}
	if cfg.Parent != nil {
		t.parent = Extract(cfg.Parent)
		if !t.parent.IsValid() {
			logger.Warn("ignoring invalid parent trace context")
		}
	}
	cfg.Provider.RegisterSpanProcessor(t.open)
	return t, nil
}

// NewTracerProvider creates an SDK provider suited to test spans: every span
// is sampled and IDs come from the pooled generator. opts are applied last.
func NewTracerProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	base := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithIDGenerator(idgen.New()),
	}
	return sdktrace.NewTracerProvider(append(base, opts...)...)
}

// Extract reads a W3C trace context from carrier.
func Extract(carrier propagation.TextMapCarrier) trace.SpanContext {
	ctx := propagation.TraceContext{}.Extract(context.Background(), carrier)
	return trace.SpanContextFromContext(ctx)
}

// SpanName is the name given to every test span.
func (t *Tracer) SpanName() string { return t.spanName }

// NewSuite creates the per-suite-run state for one test file.
func (t *Tracer) NewSuite(hooks hook.Instrumenter, cfg SuiteConfig) *Suite {
	return newSuite(t, hooks, cfg)
}

// Flush blocks until every finished span has been handed to the exporters.
func (t *Tracer) Flush(ctx context.Context) error {
	return t.provider.ForceFlush(ctx)
}

// attributes is the tag set shared by every test span, whatever the event that opened it.
func (t *Tracer) attributes(id Identity, params string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 11+len(t.metadata))
	attrs = append(attrs,
		KeyTestType.String(TypeTest),
		KeySpanType.String(TypeTest),
		KeyTestFramework.String(t.framework),
		KeySamplingPriority.Int(AutoKeep),
		KeySamplingDecision.Int(1),
		KeyOrigin.String(CIAppOrigin),
		KeyTestName.String(id.Name),
		KeyTestSuite.String(id.Suite),
		KeyResourceName.String(id.Resource()),
		KeyTestInvocation.Int(id.Invocation),
	)
	if params != "" {
		attrs = append(attrs, KeyTestParameters.String(params))
	}
	return append(attrs, t.metadata...)
}

// start opens a test span for id. The span is a new trace root unless a
// parent context was configured.
func (t *Tracer) start(ctx context.Context, id Identity, params string, stackDirs []string) (context.Context, *TestSpan) {
	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(t.attributes(id, params)...),
	}
	if t.parent.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, t.parent)
	} else {
		opts = append(opts, trace.WithNewRoot())
	}

	now := time.Now()
	opts = append(opts, trace.WithTimestamp(now))
	ctx, span := t.tracer.Start(ctx, t.spanName, opts...)
	t.open.adopt(span.SpanContext().SpanID())

	ts := &TestSpan{
		span:      span,
		identity:  id,
		params:    params,
		start:     now,
		tracer:    t,
		stackDirs: stackDirs,
	}
	ts.ctx = ContextWithSpan(ctx, ts)
	return ts.ctx, ts
}

func (t *Tracer) notify(r Result) {
	for _, obs := range t.observers {
		obs.Observe(r)
	}
}
