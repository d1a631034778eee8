package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	askRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_ask_requests_total",
			Help: "Total number of natural-language questions processed.",
		},
	)
	sqlGenerationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_sql_generation_failures_total",
			Help: "Total number of questions for which the model produced no SQL.",
		},
	)
	sqlExecutionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_sql_execution_failures_total",
			Help: "Total number of generated statements that failed against the store.",
		},
	)
	chartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_charts_total",
			Help: "Total number of chart specs produced, by chart kind.",
		},
		[]string{"kind"},
	)
	historyCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_history_cache_hits_total",
			Help: "Total number of history reads served from the in-process cache.",
		},
	)
	historyCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_history_cache_misses_total",
			Help: "Total number of history reads that fell through to the durable store.",
		},
	)
	persistenceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_persistence_failures_total",
			Help: "Total number of best-effort exchange writes that failed.",
		},
	)
	askDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_ask_duration_seconds",
			Help:    "End-to-end ask pipeline latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

func init() {
	prometheus.MustRegister(
		askRequestsTotal,
		sqlGenerationFailuresTotal,
		sqlExecutionFailuresTotal,
		chartsTotal,
		historyCacheHitsTotal,
		historyCacheMissesTotal,
		persistenceFailuresTotal,
		askDurationSeconds,
	)
}

func ObserveAsk(generated, executed, charted bool, chartKind string, elapsed time.Duration) {
	askRequestsTotal.Inc()
	if !generated {
		sqlGenerationFailuresTotal.Inc()
	}
	if generated && !executed {
		sqlExecutionFailuresTotal.Inc()
	}
	if charted {
		chartsTotal.WithLabelValues(chartKind).Inc()
	}
	askDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveHistoryCache(hit bool) {
	if hit {
		historyCacheHitsTotal.Inc()
		return
	}
	historyCacheMissesTotal.Inc()
}

func IncrementPersistenceFailure() {
	persistenceFailuresTotal.Inc()
}
