package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Grants.WithLabelValues("paid", ResultOK).Inc()
	m.DuplicateInvoices.Inc()

	assert.InDelta(t, 1, testutil.ToFloat64(m.Grants.WithLabelValues("paid", ResultOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DuplicateInvoices), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
