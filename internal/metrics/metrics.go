package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationSeconds  *prometheus.HistogramVec
	refundsTotal      *prometheus.CounterVec
	divergentProjects prometheus.Gauge
	divergentAccounts prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crowdfund",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations partitioned by operation and result.",
			},
			[]string{"op", "result"},
		),
		operationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "crowdfund",
				Subsystem: "ledger",
				Name:      "operation_seconds",
				Help:      "Latency of ledger units of work.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		refundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crowdfund",
				Subsystem: "workflow",
				Name:      "refunds_total",
				Help:      "Cascading refunds partitioned by result (refunded, skipped, failed).",
			},
			[]string{"result"},
		),
		divergentProjects: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "crowdfund",
				Subsystem: "ledger",
				Name:      "consistency_divergent_projects",
				Help:      "Projects whose current funding differs from their active funding records in the last check.",
			},
		),
		divergentAccounts: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "crowdfund",
				Subsystem: "ledger",
				Name:      "consistency_divergent_accounts",
				Help:      "Accounts whose balance differs from the ledger in the last check.",
			},
		),
	}
}

func (m *Metrics) ObserveOperation(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationsTotal.WithLabelValues(op, result).Inc()
	m.operationSeconds.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AddRefunds(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.refundsTotal.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) SetDivergence(projects, accounts int) {
	if m == nil {
		return
	}
	m.divergentProjects.Set(float64(projects))
	m.divergentAccounts.Set(float64(accounts))
}
