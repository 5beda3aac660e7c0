// Exported span parsing for test run reports
// Reads stdouttrace (line-delimited JSON) and OTLP protobuf JSON exports
package report

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// Span is the format-independent representation of an exported span.
type Span struct {
	TraceID    string
	SpanID     string
	ParentID   string // empty for root spans
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	IsError    bool
	Attributes map[string]string
}

// Format identifies the input trace format.
type Format string

const (
	FormatAuto        Format = "auto"
	FormatStdouttrace Format = "stdouttrace"
	FormatOTLP        Format = "otlp"
)

const maxInputSize = 256 * 1024 * 1024 // 256 MB

const noSpansHelp = "no spans found in input\n\nProvide a file or pipe stdin:\n  testspan report spans.json\n  cat spans.json | testspan report"

// ParseSpans reads spans from r in the given format. FormatAuto inspects the
// first JSON object to pick one. Input is limited to 256 MB.
func ParseSpans(r io.Reader, format Format) ([]Span, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("input exceeds maximum size of %d MB", maxInputSize/(1024*1024))
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New(noSpansHelp)
	}

	if format == FormatAuto {
		format, err = detectFormat(data)
		if err != nil {
			return nil, err
		}
	}

	switch format {
	case FormatStdouttrace:
		return parseStdouttrace(data)
	case FormatOTLP:
		return parseOTLP(data)
	default:
		return nil, fmt.Errorf("unknown format %q, valid formats: auto, stdouttrace, otlp", format)
	}
}

// detectFormat tries the first line (line-delimited stdouttrace), then the
// whole input (pretty-printed OTLP).
func detectFormat(data []byte) (Format, error) {
	firstLine, _, hasMore := bytes.Cut(data, []byte{'\n'})
	firstLine = bytes.TrimSpace(firstLine)

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(firstLine, &probe); err == nil {
		if f, ok := probeFormat(probe); ok {
			return f, nil
		}
	}
	if hasMore {
		if err := json.Unmarshal(data, &probe); err == nil {
			if f, ok := probeFormat(probe); ok {
				return f, nil
			}
		}
	}
	return "", fmt.Errorf("cannot detect format: input has neither SpanContext (stdouttrace) nor resourceSpans (OTLP)")
}

func probeFormat(probe map[string]json.RawMessage) (Format, bool) {
	if _, ok := probe["SpanContext"]; ok {
		return FormatStdouttrace, true
	}
	if _, ok := probe["resourceSpans"]; ok {
		return FormatOTLP, true
	}
	return "", false
}

// stdouttraceSpan mirrors the SDK's stdouttrace JSON output.
type stdouttraceSpan struct {
	Name        string `json:"Name"`
	SpanContext struct {
		TraceID string `json:"TraceID"`
		SpanID  string `json:"SpanID"`
	} `json:"SpanContext"`
	Parent struct {
		SpanID string `json:"SpanID"`
	} `json:"Parent"`
	StartTime  time.Time `json:"StartTime"`
	EndTime    time.Time `json:"EndTime"`
	Attributes []struct {
		Key   string `json:"Key"`
		Value struct {
			Type  string `json:"Type"`
			Value any    `json:"Value"`
		} `json:"Value"`
	} `json:"Attributes"`
	Status struct {
		Code string `json:"Code"`
	} `json:"Status"`
}

func parseStdouttrace(data []byte) ([]Span, error) {
	var spans []Span
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var raw stdouttraceSpan
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		parentID := raw.Parent.SpanID
		if isZeroID(parentID) {
			parentID = ""
		}
		attrs := make(map[string]string, len(raw.Attributes))
		for _, attr := range raw.Attributes {
			attrs[attr.Key] = fmt.Sprint(attr.Value.Value)
		}

		spans = append(spans, Span{
			TraceID:    raw.SpanContext.TraceID,
			SpanID:     raw.SpanContext.SpanID,
			ParentID:   parentID,
			Name:       raw.Name,
			StartTime:  raw.StartTime,
			EndTime:    raw.EndTime,
			IsError:    raw.Status.Code == "Error",
			Attributes: attrs,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(spans) == 0 {
		return nil, errors.New(noSpansHelp)
	}
	return spans, nil
}

func parseOTLP(data []byte) ([]Span, error) {
	var req coltracepb.ExportTraceServiceRequest
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing OTLP: %w", err)
	}

	var spans []Span
	for _, rs := range req.ResourceSpans {
		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				parentID := hex.EncodeToString(span.ParentSpanId)
				if isZeroID(parentID) {
					parentID = ""
				}
				attrs := make(map[string]string, len(span.Attributes))
				for _, attr := range span.Attributes {
					attrs[attr.Key] = anyValueString(attr.Value)
				}

				spans = append(spans, Span{
					TraceID:    hex.EncodeToString(span.TraceId),
					SpanID:     hex.EncodeToString(span.SpanId),
					ParentID:   parentID,
					Name:       span.Name,
					StartTime:  time.Unix(0, int64(span.StartTimeUnixNano)), //nolint:gosec // nanosecond timestamps are always positive
					EndTime:    time.Unix(0, int64(span.EndTimeUnixNano)),   //nolint:gosec // nanosecond timestamps are always positive
					IsError:    span.Status != nil && span.Status.Code == tracepb.Status_STATUS_CODE_ERROR,
					Attributes: attrs,
				})
			}
		}
	}

	if len(spans) == 0 {
		return nil, errors.New(noSpansHelp)
	}
	return spans, nil
}

// isZeroID reports whether a hex-encoded ID is all zeros.
func isZeroID(id string) bool {
	for _, c := range id {
		if c != '0' {
			return false
		}
	}
	return len(id) > 0
}

func anyValueString(v *commonpb.AnyValue) string {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'g', -1, 64)
	case nil:
		return ""
	default:
		return protojson.Format(v)
	}
}
