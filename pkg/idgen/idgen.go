// Random trace and span identifiers for test spans
// Backed by pooled UUIDv4 randomness so ID generation never blocks on the system source
package idgen

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

var enablePool sync.Once

// Generator produces trace and span IDs. It implements sdktrace.IDGenerator.
type Generator struct{}

// New returns a Generator and switches the uuid package to its buffered random pool.
func New() *Generator {
	enablePool.Do(uuid.EnableRandPool)
	return &Generator{}
}

// NewIDs returns a fresh trace ID and a span ID for the root span of that trace.
func (g *Generator) NewIDs(ctx context.Context) (trace.TraceID, trace.SpanID) {
	var tid trace.TraceID
	for !tid.IsValid() {
		fill(tid[:])
	}
	return tid, g.NewSpanID(ctx, tid)
}

// NewSpanID returns a non-zero span ID.
func (g *Generator) NewSpanID(context.Context, trace.TraceID) trace.SpanID {
	var sid trace.SpanID
	for !sid.IsValid() {
		fill(sid[:])
	}
	return sid
}

// fill writes random bytes into dst, drawing as many UUIDs as it needs.
// Bytes 6 and 8 of a UUID carry its version and variant bits and are skipped.
func fill(dst []byte) {
	for len(dst) > 0 {
		u := uuid.New()
		for i, b := range u {
			if i == 6 || i == 8 {
				continue
			}
			dst[0] = b
			dst = dst[1:]
			if len(dst) == 0 {
				return
			}
		}
	}
}
