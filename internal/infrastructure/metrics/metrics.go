// Package metrics exposes Prometheus collectors for HTTP traffic, the
// allocation engine, posting and remittance.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"paydesk/internal/core/types"
	"paydesk/internal/domain/documents/payment"
	"paydesk/internal/domain/registers/application"
	"paydesk/internal/infrastructure/storage/postgres"
)

const namespace = "paydesk"

// Metrics holds every collector of the service on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	allocationOps    *prometheus.CounterVec
	postings         *prometheus.CounterVec
	postedAmount     prometheus.Counter
	storeRetries     *prometheus.CounterVec
	remittances      prometheus.Counter
	remittedPayments prometheus.Counter
	remittedAmount   prometheus.Counter
}

// New registers all collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		allocationOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_operations_total",
			Help:      "Allocation engine operations by result",
		}, []string{"op", "result"}),

		postings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "postings_total",
			Help:      "Posting attempts by outcome",
		}, []string{"result"}),

		postedAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posted_amount_total",
			Help:      "Sum of amounts applied to orders by successful postings",
		}),

		storeRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Retried attempts after a conflict or an unavailable store",
		}, []string{"op"}),

		remittances: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remittances_total",
			Help:      "Completed remittance runs",
		}),

		remittedPayments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remitted_payments_total",
			Help:      "Payment applications marked remitted",
		}),

		remittedAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remitted_amount_total",
			Help:      "Sum of remitted application amounts",
		}),
	}
}

// Registry returns the registry served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var (
	_ payment.Metrics     = (*Metrics)(nil)
	_ application.Metrics = (*Metrics)(nil)
)

// AllocationOp implements payment.Metrics.
func (m *Metrics) AllocationOp(op, result string) {
	m.allocationOps.WithLabelValues(op, result).Inc()
}

// PostingCompleted implements payment.Metrics.
func (m *Metrics) PostingCompleted(result string, applied types.Money) {
	m.postings.WithLabelValues(result).Inc()
	if result == "posted" {
		m.postedAmount.Add(applied.InexactFloat64())
	}
}

// StoreRetry implements payment.Metrics.
func (m *Metrics) StoreRetry(op string) {
	m.storeRetries.WithLabelValues(op).Inc()
}

// RemittanceCompleted implements application.Metrics.
func (m *Metrics) RemittanceCompleted(count int, total types.Money) {
	m.remittances.Inc()
	m.remittedPayments.Add(float64(count))
	m.remittedAmount.Add(total.InexactFloat64())
}

// RegisterPool exposes connection pool gauges.
func (m *Metrics) RegisterPool(pool *postgres.Pool) {
	f := promauto.With(m.registry)
	gauge := func(name, help string, read func(postgres.PoolStats) float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(pool.Stats()) })
	}
	gauge("total_conns", "Open connections", func(s postgres.PoolStats) float64 { return float64(s.TotalConns) })
	gauge("idle_conns", "Idle connections", func(s postgres.PoolStats) float64 { return float64(s.IdleConns) })
	gauge("acquired_conns", "Connections in use", func(s postgres.PoolStats) float64 { return float64(s.AcquiredConns) })
	gauge("max_conns", "Configured maximum", func(s postgres.PoolStats) float64 { return float64(s.MaxConns) })
}
