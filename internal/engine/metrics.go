package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	syncCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync",
		Name:      "cycles_total",
		Help:      "Orchestrated sync cycles by outcome.",
	}, []string{"result"})

	collectionSyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync",
		Name:      "collection_cycles_total",
		Help:      "Per-collection cycles by outcome.",
	}, []string{"collection", "result"})

	collectionSyncSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sync",
		Name:      "collection_seconds",
		Help:      "Latency of one collection's pull-resolve-push cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"collection"})

	syncInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sync",
		Name:      "in_flight",
		Help:      "Whether a sync cycle is currently running.",
	})

	tracer = otel.Tracer("github.com/example/wellness-sync-engine/engine")
)

func init() {
	prometheus.MustRegister(syncCyclesTotal, collectionSyncTotal, collectionSyncSeconds, syncInFlight)
}
