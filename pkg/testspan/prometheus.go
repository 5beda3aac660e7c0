// PrometheusObserver exposes test outcomes as Prometheus collectors for pull-based scraping
package testspan

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver counts finished tests and their durations by suite and status.
type PrometheusObserver struct {
	tests    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusObserver creates the collectors and registers them with reg.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	p := &PrometheusObserver{
		tests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "testspan",
				Name:      "tests_total",
				Help:      "Total number of finished test executions",
			},
			[]string{"suite", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "testspan",
				Name:      "test_duration_seconds",
				Help:      "Duration of test executions",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"suite"},
		),
	}
	for _, c := range []prometheus.Collector{p.tests, p.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Observe records the finished test.
func (p *PrometheusObserver) Observe(r Result) {
	p.tests.WithLabelValues(r.Suite, string(r.Status)).Inc()
	p.duration.WithLabelValues(r.Suite).Observe(r.Duration.Seconds())
}
