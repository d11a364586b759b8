// Package metrics exposes Prometheus collectors for delegation activity.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "conductor"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	delegations    *prometheus.CounterVec
	active         prometheus.Gauge
	lockConflicts  prometheus.Counter
	convergence    *prometheus.CounterVec
	waitDuration   prometheus.Histogram
	approvals      *prometheus.CounterVec
	clarifications *prometheus.CounterVec
	completionGate *prometheus.CounterVec
}

// MustNew registers the collectors with reg and panics on any registration
// error other than an identical collector already being present, in which
// case the existing collector is reused. A nil reg uses the default registry.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		delegations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Delegation requests by outcome.",
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delegations_active",
			Help:      "Delegations currently tracked across all parent sessions.",
		}),
		lockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "conflicts_total",
			Help:      "Delegations rejected because a file was locked by another task.",
		}),
		convergence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "convergence",
			Name:      "waits_total",
			Help:      "Convergence waits by result.",
		}, []string{"result"}),
		waitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "convergence",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a child session to converge.",
			Buckets:   []float64{1, 5, 10, 15, 30, 60, 120, 300},
		}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approvals",
			Name:      "recorded_total",
			Help:      "Verifier verdicts recorded in the approval ledger.",
		}, []string{"status"}),
		clarifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clarifications",
			Name:      "total",
			Help:      "Clarification protocol outcomes.",
		}, []string{"state"}),
		completionGate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approvals",
			Name:      "gate_checks_total",
			Help:      "Completion gate checks by result.",
		}, []string{"result"}),
	}

	m.delegations = register(reg, m.delegations)
	m.active = register(reg, m.active)
	m.lockConflicts = register(reg, m.lockConflicts)
	m.convergence = register(reg, m.convergence)
	m.waitDuration = register(reg, m.waitDuration)
	m.approvals = register(reg, m.approvals)
	m.clarifications = register(reg, m.clarifications)
	m.completionGate = register(reg, m.completionGate)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Delegation counts a delegation request outcome ("admitted", "unauthorized",
// "conflict", "rejected", "failed").
func (m *Metrics) Delegation(outcome string) {
	if m == nil {
		return
	}
	m.delegations.WithLabelValues(outcome).Inc()
	if outcome == "conflict" {
		m.lockConflicts.Inc()
	}
}

// SetActive reports the number of tracked delegations.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}

// Convergence records how a wait ended and how long it took.
func (m *Metrics) Convergence(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.convergence.WithLabelValues(result).Inc()
	m.waitDuration.Observe(elapsed.Seconds())
}

// Approval counts a recorded verdict.
func (m *Metrics) Approval(status string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(status).Inc()
}

// Clarification counts a clarification outcome by state.
func (m *Metrics) Clarification(state string) {
	if m == nil {
		return
	}
	m.clarifications.WithLabelValues(state).Inc()
}

// CompletionGate counts a completion gate decision ("passed", "missing", "stale").
func (m *Metrics) CompletionGate(result string) {
	if m == nil {
		return
	}
	m.completionGate.WithLabelValues(result).Inc()
}
