// Tests for span parsing across stdouttrace and OTLP exports
package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stdouttraceLine = `{"Name":"jest.test","SpanContext":{"TraceID":"aaa","SpanID":"bbb"},"Parent":{"TraceID":"00000000000000000000000000000000","SpanID":"0000000000000000"},"StartTime":"2024-01-01T00:00:00Z","EndTime":"2024-01-01T00:00:00.005Z","Attributes":[{"Key":"test.type","Value":{"Type":"STRING","Value":"test"}},{"Key":"test.invocation","Value":{"Type":"INT64","Value":2}},{"Key":"test.status","Value":{"Type":"STRING","Value":"fail"}}],"Status":{"Code":"Error","Description":"boom"},"InstrumentationScope":{"Name":"github.com/andrewh/testspan"}}`

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  Format
	}{
		{"stdouttrace", stdouttraceLine, FormatStdouttrace},
		{"otlp", `{"resourceSpans":[]}`, FormatOTLP},
		{"pretty otlp", "{\n  \"resourceSpans\": []\n}", FormatOTLP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := detectFormat([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectFormatUnknown(t *testing.T) {
	t.Parallel()

	for _, input := range []string{`{"something":"else"}`, `not json`} {
		_, err := detectFormat([]byte(input))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot detect format")
	}
}

func TestParseStdouttrace(t *testing.T) {
	t.Parallel()

	spans, err := ParseSpans(strings.NewReader(stdouttraceLine+"\n\n"), FormatAuto)
	require.NoError(t, err)
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, "aaa", s.TraceID)
	assert.Equal(t, "bbb", s.SpanID)
	assert.Empty(t, s.ParentID, "all-zeros parent should be empty")
	assert.Equal(t, "jest.test", s.Name)
	assert.True(t, s.IsError)
	assert.Equal(t, "test", s.Attributes["test.type"])
	assert.Equal(t, "2", s.Attributes["test.invocation"])
	assert.Equal(t, "fail", s.Attributes["test.status"])
	assert.Equal(t, int64(5), s.EndTime.Sub(s.StartTime).Milliseconds())
}

func TestParseStdouttraceBadLine(t *testing.T) {
	t.Parallel()

	_, err := ParseSpans(strings.NewReader(stdouttraceLine+"\n{broken"), FormatStdouttrace)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseOTLP(t *testing.T) {
	t.Parallel()

	// "AQIDBAUGBwgJCgsMDQ4PEA==" is bytes 1..16.
	input := `{
		"resourceSpans": [{
			"resource": {"attributes": [{"key": "service.name", "value": {"stringValue": "ci"}}]},
			"scopeSpans": [{"scope": {"name": "github.com/andrewh/testspan"}, "spans": [{
				"traceId": "AQIDBAUGBwgJCgsMDQ4PEA==",
				"spanId": "AQIDBAUGBwg=",
				"parentSpanId": "CAcGBQQDAgE=",
				"name": "jest.test",
				"startTimeUnixNano": "1700000000000000000",
				"endTimeUnixNano": "1700000000030000000",
				"status": {"code": 2},
				"attributes": [
					{"key": "test.name", "value": {"stringValue": "adds"}},
					{"key": "test.invocation", "value": {"intValue": "3"}},
					{"key": "sampling.priority", "value": {"doubleValue": 1.5}},
					{"key": "flaky", "value": {"boolValue": true}}
				]
			}]}]
		}]
	}`

	spans, err := ParseSpans(strings.NewReader(input), FormatAuto)
	require.NoError(t, err)
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", s.TraceID)
	assert.Equal(t, "0102030405060708", s.SpanID)
	assert.Equal(t, "0807060504030201", s.ParentID)
	assert.Equal(t, "jest.test", s.Name)
	assert.True(t, s.IsError)
	assert.Equal(t, "adds", s.Attributes["test.name"])
	assert.Equal(t, "3", s.Attributes["test.invocation"])
	assert.Equal(t, "1.5", s.Attributes["sampling.priority"])
	assert.Equal(t, "true", s.Attributes["flaky"])
	assert.Equal(t, int64(30), s.EndTime.Sub(s.StartTime).Milliseconds())
}

func TestParseSpansEmpty(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "   \n", `{"resourceSpans":[]}`} {
		_, err := ParseSpans(strings.NewReader(input), FormatAuto)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no spans found")
	}
}

func TestParseSpansUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := ParseSpans(strings.NewReader(stdouttraceLine), Format("zipkin"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestIsZeroID(t *testing.T) {
	t.Parallel()

	assert.True(t, isZeroID("0000000000000000"))
	assert.False(t, isZeroID("0a00000000000000"))
	assert.False(t, isZeroID(""))
}
