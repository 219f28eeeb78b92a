package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Emails.WithLabelValues(OutcomeVoucher).Inc()
	m.Vouchers.WithLabelValues("Apple iCloud").Inc()
	m.ExtractionDefaults.WithLabelValues("Apple iCloud", "total_amount").Inc()
	m.Errors.WithLabelValues(KindFormula).Inc()
	m.LedgerRequests.WithLabelValues("vouchers", "201").Inc()
	m.LedgerDuration.Observe(0.2)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 6)
}

func TestCounters(t *testing.T) {
	m := NewNop()

	m.Emails.WithLabelValues(OutcomeNoMatch).Inc()
	m.Emails.WithLabelValues(OutcomeNoMatch).Inc()
	m.Emails.WithLabelValues(OutcomeVoucher).Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Emails.WithLabelValues(OutcomeNoMatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Emails.WithLabelValues(OutcomeVoucher)))

	expected := `
# HELP mailvoucher_emails_total Emails seen by the processor, by outcome
# TYPE mailvoucher_emails_total counter
mailvoucher_emails_total{outcome="no_match"} 2
mailvoucher_emails_total{outcome="voucher"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(m.Emails, strings.NewReader(expected)))
}
