// Package metrics exposes Prometheus counters for admissions, usage commits
// and dashboard sessions. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeAdmitted = "admitted"
	OutcomeError    = "error"

	CommitCounted = "counted"
	CommitSkipped = "skipped"
	CommitFailed  = "failed"
)

// Metrics holds the collectors. Create it with New.
type Metrics struct {
	admissions *prometheus.CounterVec
	commits    *prometheus.CounterVec
	sessions   *prometheus.CounterVec
	renewals   prometheus.Counter
}

// New creates the collectors and registers them with registerer.
// A nil registerer falls back to prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_admissions_total",
			Help: "Admission decisions by outcome: admitted, a rejection kind, or error.",
		}, []string{"outcome"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_usage_commits_total",
			Help: "Deferred usage commits by result.",
		}, []string{"result"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keygate_sessions_total",
			Help: "Dashboard session lifecycle events.",
		}, []string{"event"}),
		renewals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keygate_key_renewals_total",
			Help: "Successful key renewals.",
		}),
	}
	registerer.MustRegister(m.admissions, m.commits, m.sessions, m.renewals)
	return m
}

// Admission records one admission decision.
func (m *Metrics) Admission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

// Commit records the result of one deferred commit.
func (m *Metrics) Commit(result string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionIssued() {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("issued").Inc()
}

func (m *Metrics) SessionRevoked() {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("revoked").Inc()
}

// SessionsSwept adds n swept sessions.
func (m *Metrics) SessionsSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessions.WithLabelValues("swept").Add(float64(n))
}

func (m *Metrics) Renewal() {
	if m == nil {
		return
	}
	m.renewals.Inc()
}
