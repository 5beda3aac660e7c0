// Span correlation store: open test spans keyed by test name and invocation
// Later events that carry less identity than the start event resolve through it
package testspan

import "sync"

type storeKey struct {
	name       string
	invocation int
}

// SpanStore maps (test name, invocation) to the span opened for it.
// It is scoped to one suite run.
type SpanStore struct {
	mu     sync.Mutex
	spans  map[storeKey]*TestSpan
	order  []storeKey
	latest map[string]int
}

// NewSpanStore creates an empty store.
func NewSpanStore() *SpanStore {
	return &SpanStore{
		spans:  make(map[storeKey]*TestSpan),
		latest: make(map[string]int),
	}
}

// Put stores span under id's name and invocation. It reports whether an
// unfinished span was displaced, which means the runner reused an identity.
func (s *SpanStore) Put(id Identity, span *TestSpan) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey{name: id.Name, invocation: id.Invocation}
	prev, exists := s.spans[k]
	if !exists {
		s.order = append(s.order, k)
	}
	s.spans[k] = span
	s.latest[id.Name] = id.Invocation
	return exists && prev != span && !prev.Finished()
}

// Get returns the span stored for name and invocation. An invocation of zero
// or less matches the most recently stored invocation of name.
func (s *SpanStore) Get(name string, invocation int) (*TestSpan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if invocation <= 0 {
		inv, ok := s.latest[name]
		if !ok {
			return nil, false
		}
		invocation = inv
	}
	span, ok := s.spans[storeKey{name: name, invocation: invocation}]
	return span, ok
}

// Open returns the stored spans not yet finished, in insertion order.
func (s *SpanStore) Open() []*TestSpan {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*TestSpan
	for _, k := range s.order {
		if span := s.spans[k]; !span.Finished() {
			out = append(out, span)
		}
	}
	return out
}

// Len returns the number of stored entries.
func (s *SpanStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spans)
}

// Reset drops every entry.
func (s *SpanStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.spans)
	clear(s.latest)
	s.order = nil
}
