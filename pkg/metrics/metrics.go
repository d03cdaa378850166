// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "settlement"

// SettlementMetrics records deposit and settlement activity.
type SettlementMetrics struct {
	intentsCreated      *prometheus.CounterVec
	settlementOutcomes  *prometheus.CounterVec
	ledgerFailures      *prometheus.CounterVec
	duplicateReferences *prometheus.CounterVec
	expired             *prometheus.CounterVec
	chainQueries        *prometheus.CounterVec
	chainLatency        *prometheus.HistogramVec
	rateFallbacks       *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpLatency         *prometheus.HistogramVec
	dbConnections       *prometheus.GaugeVec
}

var (
	settlementOnce sync.Once
	settlementReg  *SettlementMetrics
)

// Settlement returns the lazily-registered collectors.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = &SettlementMetrics{
			intentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "intents",
				Name:      "created_total",
				Help:      "Payment intents created, by asset.",
			}, []string{"asset"}),
			settlementOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "intents",
				Name:      "verifications_total",
				Help:      "Verification outcomes, by asset and resulting status.",
			}, []string{"asset", "status"}),
			ledgerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "consistency_failures_total",
				Help:      "Settle-and-credit units of work that rolled back.",
			}, []string{"asset"}),
			duplicateReferences: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "intents",
				Name:      "duplicate_references_total",
				Help:      "Transaction references rejected because another intent holds them.",
			}, []string{"asset"}),
			expired: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "intents",
				Name:      "expired_total",
				Help:      "Pending intents failed by the expiry sweep.",
			}, []string{"asset", "reason"}),
			chainQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chain",
				Name:      "queries_total",
				Help:      "Finality queries, by network and reported state.",
			}, []string{"network", "state"}),
			chainLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "chain",
				Name:      "query_duration_seconds",
				Help:      "Latency of finality queries.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"network"}),
			rateFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rates",
				Name:      "fallbacks_total",
				Help:      "Rate lookups served from the static table.",
			}, []string{"reason"}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests, by route and status.",
			}, []string{"method", "route", "status"}),
			httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "route"}),
			dbConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "database",
				Name:      "connections",
				Help:      "Database pool connections, by state.",
			}, []string{"state"}),
		}
		prometheus.MustRegister(
			settlementReg.intentsCreated,
			settlementReg.settlementOutcomes,
			settlementReg.ledgerFailures,
			settlementReg.duplicateReferences,
			settlementReg.expired,
			settlementReg.chainQueries,
			settlementReg.chainLatency,
			settlementReg.rateFallbacks,
			settlementReg.httpRequests,
			settlementReg.httpLatency,
			settlementReg.dbConnections,
		)
	})
	return settlementReg
}

func (m *SettlementMetrics) IntentCreated(asset string) {
	if m == nil {
		return
	}
	m.intentsCreated.WithLabelValues(asset).Inc()
}

// Verification records the status a verification attempt left the intent in.
func (m *SettlementMetrics) Verification(asset, status string) {
	if m == nil {
		return
	}
	m.settlementOutcomes.WithLabelValues(asset, status).Inc()
}

func (m *SettlementMetrics) LedgerConsistencyFailure(asset string) {
	if m == nil {
		return
	}
	m.ledgerFailures.WithLabelValues(asset).Inc()
}

func (m *SettlementMetrics) DuplicateReference(asset string) {
	if m == nil {
		return
	}
	m.duplicateReferences.WithLabelValues(asset).Inc()
}

func (m *SettlementMetrics) Expired(asset, reason string) {
	if m == nil {
		return
	}
	m.expired.WithLabelValues(asset, reason).Inc()
}

// ChainQuery records a finality query. state is the reported TxState or "error".
func (m *SettlementMetrics) ChainQuery(network, state string, took time.Duration) {
	if m == nil {
		return
	}
	m.chainQueries.WithLabelValues(network, state).Inc()
	m.chainLatency.WithLabelValues(network).Observe(took.Seconds())
}

func (m *SettlementMetrics) RateFallback(reason string) {
	if m == nil {
		return
	}
	m.rateFallbacks.WithLabelValues(reason).Inc()
}

func (m *SettlementMetrics) HTTPRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(took.Seconds())
}

// DatabaseConnections publishes pool stats.
func (m *SettlementMetrics) DatabaseConnections(open, inUse, idle int) {
	if m == nil {
		return
	}
	m.dbConnections.WithLabelValues("open").Set(float64(open))
	m.dbConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.dbConnections.WithLabelValues("idle").Set(float64(idle))
}
