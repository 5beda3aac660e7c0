// MetricObserver derives test count, duration, and failure metrics from test results
// Uses the OTel Metrics API with suite and status attributes
package testspan

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricObserver records derived metrics for each finished test.
type MetricObserver struct {
	duration metric.Float64Histogram
	tests    metric.Int64Counter
	failures metric.Int64Counter
}

// NewMetricObserver creates a MetricObserver backed by the given MeterProvider.
func NewMetricObserver(mp metric.MeterProvider) (*MetricObserver, error) {
	meter := mp.Meter(instrumentationName)

	duration, err := meter.Float64Histogram("test.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration of test executions in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	tests, err := meter.Int64Counter("test.count",
		metric.WithDescription("Number of finished test executions"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("test.failure.count",
		metric.WithDescription("Number of failed test executions"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricObserver{
		duration: duration,
		tests:    tests,
		failures: failures,
	}, nil
}

// Observe records metrics derived from the finished test.
func (m *MetricObserver) Observe(r Result) {
	ctx := context.Background()
	suite := attribute.String(string(KeyTestSuite), r.Suite)
	m.tests.Add(ctx, 1, metric.WithAttributes(suite, attribute.String(string(KeyTestStatus), string(r.Status))))
	m.duration.Record(ctx, float64(r.Duration)/float64(time.Millisecond), metric.WithAttributes(suite))
	if r.Failed() {
		m.failures.Add(ctx, 1, metric.WithAttributes(suite, attribute.String(string(KeyErrorType), r.ErrorType)))
	}
}
