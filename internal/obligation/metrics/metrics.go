package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks obligation lifecycle activity.
type Metrics struct {
	Created     prometheus.Counter
	Transitions *prometheus.CounterVec
	FundedTotal prometheus.Counter
	FundLatency prometheus.Histogram
}

// New registers obligation metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearfund_obligations_created_total",
			Help: "Total obligations created.",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clearfund_obligation_transitions_total",
			Help: "Obligation state transitions by target status.",
		}, []string{"status"}),
		FundedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearfund_funding_events_total",
			Help: "Total funding events recorded.",
		}),
		FundLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clearfund_fund_duration_seconds",
			Help:    "Latency of the funding transaction.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
