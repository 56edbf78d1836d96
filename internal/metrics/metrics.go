package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fieldtrack"

var (
	storeQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "queries_total",
			Help:      "Statements executed per backing store, by operation and outcome.",
		},
		[]string{"store", "op", "outcome"},
	)

	storeQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Statement latency per backing store.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"store", "op"},
	)

	storeBusyRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "busy_retries_total",
			Help:      "Attempts retried after the store reported busy or locked.",
		},
		[]string{"store"},
	)

	storeContentionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "contention_failures_total",
			Help:      "Operations that exhausted the busy retry budget.",
		},
		[]string{"store"},
	)

	watchRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "refreshes_total",
			Help:      "Full refetches triggered by a changed latest check-in.",
		},
		[]string{"agent"},
	)
)

// ObserveQuery records one statement against a store.
func ObserveQuery(store, op string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeQueriesTotal.WithLabelValues(store, op, outcome).Inc()
	storeQueryDuration.WithLabelValues(store, op).Observe(time.Since(started).Seconds())
}

func BusyRetry(store string) {
	storeBusyRetries.WithLabelValues(store).Inc()
}

func ContentionFailure(store string) {
	storeContentionFailures.WithLabelValues(store).Inc()
}

func WatchRefresh(agent string) {
	watchRefreshes.WithLabelValues(agent).Inc()
}
