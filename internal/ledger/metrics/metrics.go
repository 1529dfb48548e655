package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger module. Integrity incidents
// are the alerting signal: any non-zero value means a case's ledger can no
// longer be trusted and writes for it are paused.
type Metrics struct {
	EntriesAppended     prometheus.Counter
	IntegrityIncidents  prometheus.Counter
	CasesFrozen         prometheus.Counter
	ReplayDuration      prometheus.Histogram
	SummaryCacheHits    prometheus.Counter
	SummaryCacheMisses  prometheus.Counter
}

// New creates a Metrics instance with all ledger module metrics registered.
func New() *Metrics {
	return &Metrics{
		EntriesAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearfund_ledger_entries_appended_total",
			Help: "Total number of ledger entries appended",
		}),
		IntegrityIncidents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearfund_ledger_integrity_incidents_total",
			Help: "Total number of replay/incremental balance divergences detected",
		}),
		CasesFrozen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearfund_ledger_cases_frozen_total",
			Help: "Total number of cases frozen pending integrity resolution",
		}),
		ReplayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clearfund_ledger_replay_duration_seconds",
			Help:    "Duration of full ledger replays",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		SummaryCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearfund_balance_cache_hits_total",
			Help: "Balance summary cache hits",
		}),
		SummaryCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearfund_balance_cache_misses_total",
			Help: "Balance summary cache misses",
		}),
	}
}

// ObserveReplay records the duration of a full replay. Call with time.Now()
// taken at the start of the replay.
func (m *Metrics) ObserveReplay(start time.Time) {
	m.ReplayDuration.Observe(time.Since(start).Seconds())
}
