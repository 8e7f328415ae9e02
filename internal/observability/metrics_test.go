package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordTransition("claim", "ok")
	m.RecordTransition("claim", "ok")
	m.RecordTransition("claim", "ALREADY_CLAIMED")
	m.ObserveSweep("inactivity", 20*time.Millisecond, 3)
	m.RecordSideEffectFailure("archive")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("claim", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("claim", "ALREADY_CLAIMED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepSelectedTotal.WithLabelValues("inactivity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SideEffectFailures.WithLabelValues("archive")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTransition("close", "ok")
		m.ObserveSweep("staleness", time.Second, 1)
		m.RecordRequest("/", "GET", 200, time.Millisecond)
		m.RecordError("/", "GET", "NOT_FOUND")
		m.RecordSideEffectFailure("transcript")
	})
}
