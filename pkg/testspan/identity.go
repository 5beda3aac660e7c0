// Test identity and the rules for resolving it from runner state
package testspan

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Identity names one execution of a test within a suite run.
type Identity struct {
	Suite      string
	Name       string
	Invocation int
}

// Resource is the backend resource name for the test.
func (id Identity) Resource() string {
	return id.Suite + "." + id.Name
}

func (id Identity) String() string {
	return fmt.Sprintf("%s_%d", id.Name, id.Invocation)
}

// ResolveName picks the name a test span is keyed and tagged by. The live
// current-test name reported by the runner wins; the declared name is the
// fallback when the execution context exposes none.
func ResolveName(current, declared string) string {
	if current != "" {
		return current
	}
	return declared
}

// timeoutPrefix is how the runner words the failure reason of a timed-out
// test. It is matched textually and breaks if upstream rewords the message.
const timeoutPrefix = "Exceeded timeout"

// IsTimeout reports whether a failure reason describes a test timeout.
func IsTimeout(reason string) bool {
	return strings.HasPrefix(reason, timeoutPrefix)
}

// SuitePath relativizes a runner-reported test file path to the run root.
// Paths outside root are returned unchanged.
func SuitePath(root, path string) string {
	if root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
