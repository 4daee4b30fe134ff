package observability

import (
	"time"

	"github.com/boddenberg/card-ledger-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	ledgerOps         *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	installments      prometheus.Counter
	statementsCreated prometheus.Counter
	statementStatus   *prometheus.CounterVec
	eventFailures     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_external_errors_total",
				Help: "Total errors from external dependencies.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		ledgerOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transactions_total",
				Help: "Ledger writes by operation and outcome.",
			},
			[]string{"operation", "status"},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rejections_total",
				Help: "Ledger writes rejected by a business rule.",
			},
			[]string{"reason"},
		),
		installments: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_installments_written_total",
				Help: "Installment rows written by split purchases.",
			},
		),
		statementsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_statements_created_total",
				Help: "Statements created lazily by the ledger.",
			},
		),
		statementStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_statement_transitions_total",
				Help: "Statement status transitions by target status.",
			},
			[]string{"status"},
		),
		eventFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_event_publish_failures_total",
				Help: "Ledger events that could not be published.",
			},
			[]string{"type"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrLedgerOp counts a ledger write with its outcome (success, rejected, error).
func (m *Metrics) IncrLedgerOp(operation, status string) {
	m.ledgerOps.WithLabelValues(operation, status).Inc()
}

// IncrRejection counts a business-rule rejection (credit, funds, validation, conflict, not_found).
func (m *Metrics) IncrRejection(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

// AddInstallments counts installment rows written.
func (m *Metrics) AddInstallments(n int) {
	m.installments.Add(float64(n))
}

// IncrStatementsCreated counts lazily created statements.
func (m *Metrics) IncrStatementsCreated() {
	m.statementsCreated.Inc()
}

// IncrStatementTransition counts a statement moving to status.
func (m *Metrics) IncrStatementTransition(status string) {
	m.statementStatus.WithLabelValues(status).Inc()
}

// IncrEventFailure counts a ledger event that failed to publish.
func (m *Metrics) IncrEventFailure(eventType string) {
	m.eventFailures.WithLabelValues(eventType).Inc()
}

// GetLedgerSnapshot returns a snapshot of ledger metrics suitable for the
// GET /v1/metrics/ledger endpoint.
func (m *Metrics) GetLedgerSnapshot() *domain.LedgerMetrics {
	// Prometheus counters expose cumulative values.
	cacheHits := getCounterValue(m.cacheHits, "statements")
	cacheMisses := getCounterValue(m.cacheMisses, "statements")

	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	return &domain.LedgerMetrics{
		TransactionsCreated:  int64(getCounterValue(m.ledgerOps, "create", "success")),
		TransactionsEdited:   int64(getCounterValue(m.ledgerOps, "edit", "success")),
		TransactionsDeleted:  int64(getCounterValue(m.ledgerOps, "delete", "success")),
		InstallmentsWritten:  int64(readCounter(m.installments)),
		StatementsCreated:    int64(readCounter(m.statementsCreated)),
		CreditRejections:     int64(getCounterValue(m.rejections, "insufficient_credit")),
		FundsRejections:      int64(getCounterValue(m.rejections, "insufficient_funds")),
		StoreErrors:          int64(getCounterValue(m.externalErrors, "postgres")),
		EventPublishFailures: int64(sumCounterVec(m.eventFailures)),
		CacheHitRate:         cacheHitRate,
		Period:               "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	return readCounter(cv.WithLabelValues(labels...))
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec adds every child of a CounterVec.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()
	total := float64(0)
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err == nil && m.Counter != nil && m.Counter.Value != nil {
			total += *m.Counter.Value
		}
	}
	return total
}
