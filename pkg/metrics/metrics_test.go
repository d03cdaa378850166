package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSettlementMetrics(t *testing.T) {
	m := Settlement()
	assert.Same(t, m, Settlement())

	before := testutil.ToFloat64(m.settlementOutcomes.WithLabelValues("ETH", "settled"))
	m.Verification("ETH", "settled")
	assert.Equal(t, before+1, testutil.ToFloat64(m.settlementOutcomes.WithLabelValues("ETH", "settled")))

	m.DatabaseConnections(10, 3, 7)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.dbConnections.WithLabelValues("in_use")))

	m.ChainQuery("tron", "finalized", 20*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.chainQueries))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *SettlementMetrics
	assert.NotPanics(t, func() {
		m.IntentCreated("ETH")
		m.LedgerConsistencyFailure("ETH")
		m.RateFallback("timeout")
		m.HTTPRequest("GET", "/health", 200, time.Millisecond)
	})
}
