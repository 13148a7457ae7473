package remotestore

import "github.com/prometheus/client_golang/prometheus"

var (
	remoteCallTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remote",
		Name:      "calls_total",
		Help:      "Remote store calls by collection, operation and outcome.",
	}, []string{"collection", "op", "result"})

	remoteCallSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "remote",
		Name:      "call_seconds",
		Help:      "Latency of remote store calls.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"collection", "op"})

	skippedRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remote",
		Name:      "skipped_rows_total",
		Help:      "Remote rows skipped because their payload was malformed.",
	}, []string{"collection"})
)

func init() {
	prometheus.MustRegister(remoteCallTotal, remoteCallSeconds, skippedRows)
}
