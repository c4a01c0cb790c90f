package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.AlertGenerated("high")
	m.AlertGenerated("high")
	m.Conflict("dispute")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsGenerated.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConcurrencyConflicts.WithLabelValues("dispute")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Screened()
		m.RuleSkipped()
		m.SinkFailure("audit")
		m.ObserveRequest("GET", "/", "200", 0.1)
	})
}
