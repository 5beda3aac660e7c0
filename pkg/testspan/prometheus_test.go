// Tests for PrometheusObserver collectors
package testspan

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserverCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver(reg)
	require.NoError(t, err)

	obs.Observe(Result{Suite: "sum.test.js", Status: StatusPass, Duration: 10 * time.Millisecond})
	obs.Observe(Result{Suite: "sum.test.js", Status: StatusPass, Duration: 20 * time.Millisecond})
	obs.Observe(Result{Suite: "sum.test.js", Status: StatusFail, Duration: 30 * time.Millisecond})

	assert.InDelta(t, 2.0, testutil.ToFloat64(obs.tests.WithLabelValues("sum.test.js", "pass")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(obs.tests.WithLabelValues("sum.test.js", "fail")), 0)

	expected := `
# HELP testspan_tests_total Total number of finished test executions
# TYPE testspan_tests_total counter
testspan_tests_total{status="fail",suite="sum.test.js"} 1
testspan_tests_total{status="pass",suite="sum.test.js"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "testspan_tests_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(obs.duration))
}

func TestPrometheusObserverDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusObserver(reg)
	require.NoError(t, err)
	_, err = NewPrometheusObserver(reg)
	require.Error(t, err)
}
