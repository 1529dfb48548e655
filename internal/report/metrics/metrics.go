package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks report generation and downloads.
type Metrics struct {
	Generated        *prometheus.CounterVec
	Downloads        prometheus.Counter
	ExpiredDownloads prometheus.Counter
	NumberRetries    prometheus.Counter
	GenerateDuration prometheus.Histogram
}

// New registers report metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Generated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clearfund_reports_generated_total",
			Help: "Reports generated by type.",
		}, []string{"type"}),
		Downloads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearfund_report_downloads_total",
			Help: "Successful report downloads.",
		}),
		ExpiredDownloads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearfund_report_expired_downloads_total",
			Help: "Download attempts rejected because the report expired.",
		}),
		NumberRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearfund_report_number_retries_total",
			Help: "Report number allocations retried after a collision.",
		}),
		GenerateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clearfund_report_generate_duration_seconds",
			Help:    "Latency of report generation.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveGenerate records one generation latency sample.
func (m *Metrics) ObserveGenerate(start time.Time) {
	m.GenerateDuration.Observe(time.Since(start).Seconds())
}
