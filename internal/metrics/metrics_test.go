package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Probe("reflected", time.Second)
		m.Batch()
		m.BlockedDomain()
		m.Candidates(3)
		m.Verdict(true, time.Second)
		assert.Nil(t, m.Registry())
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.Probe("reflected", 10*time.Millisecond)
	m.Probe("reflected", 0)
	m.Probe("blocked", 0)
	m.Batch()
	m.BlockedDomain()
	m.Verdict(true, time.Second)
	m.Verdict(false, time.Second)
	m.Verdict(false, time.Second)
	m.Candidates(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.probesTotal.WithLabelValues("reflected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probesTotal.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockedDomains))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdictsTotal.WithLabelValues("executed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.verdictsTotal.WithLabelValues("not_executed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.candidatesGauge))
}
