// TestSpan: one test execution's span with write-once status and exactly-once finish
// Finishing a test span also ends any child spans the test body left open
package testspan

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TestSpan is the span of a single test execution.
type TestSpan struct {
	span      trace.Span
	ctx       context.Context
	identity  Identity
	params    string
	start     time.Time
	tracer    *Tracer
	stackDirs []string // frames from these source directories are dropped from recorded stacks

	mu       sync.Mutex
	status   Status
	errType  string
	finished bool
}

type spanKey struct{}

// ContextWithSpan returns a copy of ctx carrying span as the active test span.
func ContextWithSpan(ctx context.Context, span *TestSpan) context.Context {
	return context.WithValue(ctx, spanKey{}, span)
}

// SpanFromContext returns the active test span in ctx, or nil.
func SpanFromContext(ctx context.Context) *TestSpan {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(spanKey{}).(*TestSpan)
	return span
}

// Identity returns the identity the span was opened with.
func (s *TestSpan) Identity() Identity { return s.identity }

// Context returns the context in which the test body runs.
func (s *TestSpan) Context() context.Context { return s.ctx }

// SpanContext returns the underlying OpenTelemetry span context.
func (s *TestSpan) SpanContext() trace.SpanContext { return s.span.SpanContext() }

// Status returns the recorded status, or "" when none has been set.
func (s *TestSpan) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Finished reports whether Finish has been called.
func (s *TestSpan) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// SetStatus records a terminal status. Only the first status on an open span
// takes effect; it reports whether this call did.
func (s *TestSpan) SetStatus(status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatusLocked(status)
}

func (s *TestSpan) setStatusLocked(status Status) bool {
	if s.status != "" || s.finished {
		return false
	}
	s.status = status
	s.span.SetAttributes(KeyTestStatus.String(string(status)))
	return true
}

// Fail marks the span failed with err. The stack carried by err, if any, is
// recorded with instrumentation frames removed.
func (s *TestSpan) Fail(err error) bool {
	if err == nil {
		err = errors.New("test failed")
	}
	return s.fail(errorType(err), err.Error(), s.filter(errorStack(err)), err)
}

// FailTimeout marks the span failed because the runner reported a timeout.
func (s *TestSpan) FailTimeout(reason string) bool {
	return s.fail(ErrorTypeTimeout, reason, "", errors.New(reason))
}

// failWithStack marks the span failed, using stack when err carries none.
func (s *TestSpan) failWithStack(err error, stack []byte) bool {
	st := errorStack(err)
	if st == "" {
		st = string(stack)
	}
	return s.fail(errorType(err), err.Error(), s.filter(st), err)
}

func (s *TestSpan) failHook(he HookError) bool {
	msg := he.Message
	if msg == "" && he.Err != nil {
		msg = he.Err.Error()
	}
	errType := "Error"
	if he.Err != nil {
		errType = errorType(he.Err)
	}
	return s.fail(errType, msg, s.filter(errorStack(he.Err)), errors.New(msg))
}

func (s *TestSpan) fail(errType, msg, stack string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.setStatusLocked(StatusFail) {
		return false
	}
	s.errType = errType
	attrs := []attribute.KeyValue{
		KeyErrorType.String(errType),
		KeyErrorMessage.String(msg),
	}
	if stack != "" {
		attrs = append(attrs, KeyErrorStack.String(stack))
	}
	s.span.SetAttributes(attrs...)
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, msg)
	return true
}

// Finish ends the span and any child spans still open beneath it. Only the
// first call has an effect; it reports whether this call did.
func (s *TestSpan) Finish() bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	s.finished = true
	status, errType := s.status, s.errType
	s.mu.Unlock()

	end := time.Now()
	if status == StatusPass {
		s.span.SetStatus(codes.Ok, "")
	}
	for _, child := range s.tracer.open.release(s.span.SpanContext().SpanID()) {
		child.End(trace.WithTimestamp(end))
	}
	s.span.End(trace.WithTimestamp(end))

	s.tracer.notify(Result{
		Suite:      s.identity.Suite,
		Name:       s.identity.Name,
		Invocation: s.identity.Invocation,
		Status:     status,
		ErrorType:  errType,
		Parameters: s.params,
		Timestamp:  s.start,
		Duration:   end.Sub(s.start),
		TraceID:    s.span.SpanContext().TraceID(),
	})
	return true
}

func (s *TestSpan) filter(stack string) string {
	return FilterStack(stack, s.stackDirs)
}

// errorType names the dynamic type of err the way span error events do.
func errorType(err error) string {
	t := reflect.TypeOf(err)
	if t == nil {
		return "error"
	}
	if t.PkgPath() == "" && t.Name() == "" {
		return t.String()
	}
	return fmt.Sprintf("%s.%s", t.PkgPath(), t.Name())
}

// openSpans is a span processor tracking spans started beneath test spans so
// they can be ended when their test finishes.
type openSpans struct {
	mu    sync.Mutex
	owner map[trace.SpanID]trace.SpanID // span -> owning test span
	open  map[trace.SpanID]sdktrace.ReadWriteSpan
}

var _ sdktrace.SpanProcessor = (*openSpans)(nil)

func newOpenSpans() *openSpans {
	return &openSpans{
		owner: make(map[trace.SpanID]trace.SpanID),
		open:  make(map[trace.SpanID]sdktrace.ReadWriteSpan),
	}
}

// adopt marks id as a test span owning its descendants.
func (o *openSpans) adopt(id trace.SpanID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owner[id] = id
}

func (o *openSpans) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	parent := s.Parent()
	if !parent.IsValid() {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	owner, ok := o.owner[parent.SpanID()]
	if !ok {
		return
	}
	id := s.SpanContext().SpanID()
	o.owner[id] = owner
	o.open[id] = s
}

func (o *openSpans) OnEnd(s sdktrace.ReadOnlySpan) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.open, s.SpanContext().SpanID())
}

func (o *openSpans) Shutdown(context.Context) error   { return nil }
func (o *openSpans) ForceFlush(context.Context) error { return nil }

// release forgets every span owned by test and returns those still open.
func (o *openSpans) release(test trace.SpanID) []sdktrace.ReadWriteSpan {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []sdktrace.ReadWriteSpan
	for id, owner := range o.owner {
		if owner != test {
			continue
		}
		if s, ok := o.open[id]; ok {
			out = append(out, s)
		}
		delete(o.open, id)
		delete(o.owner, id)
	}
	return out
}
