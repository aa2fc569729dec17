// Package metrics exposes Prometheus counters for the entitlement engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks validation and commit outcomes.
//
// Metrics:
//   - entitlement_validations_total: validation probes by outcome reason
//   - entitlement_claims_committed_total: committed claims by override flag
//   - entitlement_commits_rejected_total: refused commits by reason
//   - entitlement_commit_conflicts_total: commits aborted on retry exhaustion
type EngineMetrics struct {
	validationsTotal     *prometheus.CounterVec
	claimsCommittedTotal *prometheus.CounterVec
	commitsRejectedTotal *prometheus.CounterVec
	commitConflictsTotal prometheus.Counter
}

// New creates and registers the engine metrics with the provided registry.
func New(registry *prometheus.Registry) *EngineMetrics {
	m := &EngineMetrics{
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitlement",
				Name:      "validations_total",
				Help:      "Total number of claim validation probes",
			},
			[]string{"reason"},
		),
		claimsCommittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitlement",
				Name:      "claims_committed_total",
				Help:      "Total number of committed claims",
			},
			[]string{"override"},
		),
		commitsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "entitlement",
				Name:      "commits_rejected_total",
				Help:      "Total number of refused claim commits",
			},
			[]string{"reason"},
		),
		commitConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "entitlement",
				Name:      "commit_conflicts_total",
				Help:      "Total number of commits aborted after retry exhaustion",
			},
		),
	}

	registry.MustRegister(
		m.validationsTotal,
		m.claimsCommittedTotal,
		m.commitsRejectedTotal,
		m.commitConflictsTotal,
	)
	return m
}

// ObserveValidation records one validation probe outcome.
func (m *EngineMetrics) ObserveValidation(reason string) {
	if reason == "" {
		reason = "ok"
	}
	m.validationsTotal.WithLabelValues(reason).Inc()
}

// ObserveCommit records one committed claim.
func (m *EngineMetrics) ObserveCommit(override bool) {
	label := "false"
	if override {
		label = "true"
	}
	m.claimsCommittedTotal.WithLabelValues(label).Inc()
}

// ObserveRejection records one refused commit.
func (m *EngineMetrics) ObserveRejection(reason string) {
	m.commitsRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveConflict records one commit aborted on retry exhaustion.
func (m *EngineMetrics) ObserveConflict() {
	m.commitConflictsTotal.Inc()
}
