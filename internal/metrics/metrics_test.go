package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.Admission(OutcomeAdmitted)
	m.Admission(OutcomeAdmitted)
	m.Admission("quota_exceeded")
	m.Commit(CommitCounted)
	m.Commit(CommitSkipped)
	m.SessionIssued()
	m.SessionRevoked()
	m.SessionsSwept(3)
	m.SessionsSwept(0)
	m.Renewal()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues(OutcomeAdmitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("quota_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues(CommitCounted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues(CommitSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("revoked")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions.WithLabelValues("swept")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.renewals))

	count, err := testutil.GatherAndCount(registry, "keygate_admissions_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Admission(OutcomeAdmitted)
		m.Commit(CommitFailed)
		m.SessionIssued()
		m.SessionRevoked()
		m.SessionsSwept(5)
		m.Renewal()
	})
}
