// Attribute keys and fixed values stamped on every test span
package testspan

import "go.opentelemetry.io/otel/attribute"

// Test span attribute keys.
const (
	KeyTestType       = attribute.Key("test.type")
	KeyTestName       = attribute.Key("test.name")
	KeyTestSuite      = attribute.Key("test.suite")
	KeyTestStatus     = attribute.Key("test.status")
	KeyTestParameters = attribute.Key("test.parameters")
	KeyTestFramework  = attribute.Key("test.framework")
	KeyTestInvocation = attribute.Key("test.invocation")
	KeySpanType       = attribute.Key("span.type")
	KeyResourceName   = attribute.Key("resource.name")
	KeyOrigin         = attribute.Key("_dd.origin")

	KeySamplingPriority = attribute.Key("sampling.priority")
	KeySamplingDecision = attribute.Key("sampling.rule.decision")

	KeyErrorType    = attribute.Key("error.type")
	KeyErrorMessage = attribute.Key("error.message")
	KeyErrorStack   = attribute.Key("error.stack")
)

// Fixed attribute values.
const (
	TypeTest    = "test"
	CIAppOrigin = "ciapp-test"

	// AutoKeep asks the backend to keep the trace without further sampling.
	AutoKeep = 1

	// ErrorTypeTimeout marks failures reported through the runner's timeout channel.
	ErrorTypeTimeout = "Timeout"
	// ErrorTypeUnfinished marks spans still open when their suite tears down.
	ErrorTypeUnfinished = "Unfinished"
)

// Status is the terminal outcome recorded on a test span.
type Status string

// Test statuses. The zero value means no status has been recorded yet.
const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)
