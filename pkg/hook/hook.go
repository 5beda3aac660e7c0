// Reversible replacement of named functions on runner-owned objects
// Runner internals expose their patchable functions as named slots on a Target
package hook

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
)

var (
	// ErrNoMethod is returned when a target has no function under the requested name.
	ErrNoMethod = errors.New("no such method")
	// ErrTypeMismatch is returned when a slot holds, or a wrapper returns, a value of the wrong function type.
	ErrTypeMismatch = errors.New("function type mismatch")
)

// Target is an object whose named functions can be wrapped and later restored.
type Target struct {
	name  string
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	current any
	layers  []any // implementations replaced by each Wrap, most recent last
}

// NewTarget creates an empty target. The name is only used in error messages.
func NewTarget(name string) *Target {
	return &Target{name: name, slots: make(map[string]*slot)}
}

// Name returns the target's name.
func (t *Target) Name() string { return t.name }

// Define installs the base implementation of method, discarding any wrappers.
func (t *Target) Define(method string, fn any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[method] = &slot{current: fn}
}

// Lookup returns the current implementation of method.
func (t *Target) Lookup(method string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[method]
	if !ok {
		return nil, false
	}
	return s.current, true
}

// Layers reports how many wrappers are installed on method.
func (t *Target) Layers(method string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.slots[method]; ok {
		return len(s.layers)
	}
	return 0
}

// Get returns the current implementation of method as a function of type F.
func Get[F any](t *Target, method string) (F, error) {
	var zero F
	v, ok := t.Lookup(method)
	if !ok {
		return zero, fmt.Errorf("%s.%s: %w", t.name, method, ErrNoMethod)
	}
	f, ok := v.(F)
	if !ok {
		return zero, fmt.Errorf("%s.%s is %T: %w", t.name, method, v, ErrTypeMismatch)
	}
	return f, nil
}

// Wrapper builds a replacement implementation from the current one.
// It runs while the target is locked and must not call back into the target.
type Wrapper func(original any) (any, error)

// Instrumenter installs and removes replacement implementations on targets.
type Instrumenter interface {
	Wrap(t *Target, method string, w Wrapper) error
	Unwrap(t *Target, method string) error
}

// WrapFunc is a typed convenience over Instrumenter.Wrap.
func WrapFunc[F any](in Instrumenter, t *Target, method string, wrap func(original F) F) error {
	return in.Wrap(t, method, func(original any) (any, error) {
		f, ok := original.(F)
		if !ok {
			return nil, fmt.Errorf("%s.%s is %T: %w", t.Name(), method, original, ErrTypeMismatch)
		}
		return wrap(f), nil
	})
}

// Shimmer is the default Instrumenter. Wrappers stack; each Unwrap removes the
// most recently installed one.
type Shimmer struct {
	logger *slog.Logger
}

// NewShimmer creates a Shimmer. A nil logger discards diagnostics.
func NewShimmer(logger *slog.Logger) *Shimmer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Shimmer{logger: logger}
}

// Wrap replaces method with the value built by w.
func (s *Shimmer) Wrap(t *Target, method string, w Wrapper) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sl, ok := t.slots[method]
	if !ok {
		return fmt.Errorf("wrapping %s.%s: %w", t.name, method, ErrNoMethod)
	}
	replacement, err := w(sl.current)
	if err != nil {
		return fmt.Errorf("wrapping %s.%s: %w", t.name, method, err)
	}
	if reflect.TypeOf(replacement) != reflect.TypeOf(sl.current) {
		return fmt.Errorf("wrapping %s.%s: wrapper returned %T for %T: %w",
			t.name, method, replacement, sl.current, ErrTypeMismatch)
	}
	sl.layers = append(sl.layers, sl.current)
	sl.current = replacement
	return nil
}

// Unwrap restores the implementation method had before the last Wrap.
// Unwrapping a method with no wrappers is a no-op.
func (s *Shimmer) Unwrap(t *Target, method string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sl, ok := t.slots[method]
	if !ok {
		return fmt.Errorf("unwrapping %s.%s: %w", t.name, method, ErrNoMethod)
	}
	n := len(sl.layers)
	if n == 0 {
		s.logger.Debug("no original to unwrap", "target", t.name, "method", method)
		return nil
	}
	sl.current = sl.layers[n-1]
	sl.layers = sl.layers[:n-1]
	return nil
}
