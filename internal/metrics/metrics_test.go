package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.Delegation("admitted")
	m.Delegation("admitted")
	m.Delegation("conflict")
	m.SetActive(2)
	m.Convergence("converged", 12*time.Second)
	m.Approval("approved")
	m.Clarification("AWAITING_ANSWER")
	m.CompletionGate("stale")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.delegations.WithLabelValues("admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.delegations.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockConflicts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.active))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.convergence.WithLabelValues("converged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.approvals.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clarifications.WithLabelValues("AWAITING_ANSWER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completionGate.WithLabelValues("stale")))

	n, err := testutil.GatherAndCount(reg, "conductor_convergence_wait_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMustNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNew(reg)
	second := MustNew(reg)

	first.Delegation("admitted")
	second.Delegation("admitted")

	assert.Equal(t, 2.0, testutil.ToFloat64(second.delegations.WithLabelValues("admitted")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Delegation("admitted")
		m.SetActive(1)
		m.Convergence("timeout", time.Second)
		m.Approval("rejected")
		m.Clarification("NONE")
		m.CompletionGate("passed")
	})
}
