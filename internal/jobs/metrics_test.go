package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	assert.NoError(t, metrics.Track("weeks:refresh").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, metrics.Track("weeks:refresh").End(boom), boom)
	metrics.AddAffected("cleaning:close_stale", 3)
	metrics.AddAffected("cleaning:close_stale", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("weeks:refresh", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("weeks:refresh")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.affected.WithLabelValues("cleaning:close_stale")))
}

func TestNilMetricsTracker(t *testing.T) {
	var metrics *Metrics
	boom := errors.New("boom")
	assert.ErrorIs(t, metrics.Track("x").End(boom), boom)
	metrics.AddAffected("x", 1)
}
