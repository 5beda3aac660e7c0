// Test bodies as declared by authors, in plain and completion-callback form
package testspan

import (
	"context"
	"sync"
)

// Body is a test function. Exactly one of Fn or Callback is normally set.
// Callback bodies signal completion by calling done, possibly from another goroutine.
type Body struct {
	Fn       func(ctx context.Context) error
	Callback func(ctx context.Context, done func(error))

	instrumented bool
}

// Func wraps a plain test function.
func Func(fn func(ctx context.Context) error) Body {
	return Body{Fn: fn}
}

// CallbackFunc wraps a test function that reports completion through done.
func CallbackFunc(fn func(ctx context.Context, done func(error))) Body {
	return Body{Callback: fn}
}

// IsZero reports whether the body has no function.
func (b Body) IsZero() bool {
	return b.Fn == nil && b.Callback == nil
}

// Instrumented reports whether the body was produced by the dispatcher.
func (b Body) Instrumented() bool {
	return b.instrumented
}

// Run executes the body. Callback bodies block until done is called or ctx ends.
func (b Body) Run(ctx context.Context) error {
	switch {
	case b.Callback != nil:
		return awaitCallback(ctx, b.Callback)
	case b.Fn != nil:
		return b.Fn(ctx)
	default:
		return nil
	}
}

func awaitCallback(ctx context.Context, fn func(context.Context, func(error))) error {
	result := make(chan error, 1)
	var once sync.Once
	fn(ctx, func(err error) {
		once.Do(func() { result <- err })
	})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
