package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/example/shelf-sync/internal/types"
)

var (
	syncLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reconcile",
		Name:      "sync_seconds",
		Help:      "Duration of pull and push operations.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"op"})

	syncOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconcile",
		Name:      "sync_total",
		Help:      "Pull and push operations by outcome.",
	}, []string{"op", "outcome"})

	rowOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconcile",
		Name:      "pull_rows_total",
		Help:      "Remote document rows by expansion outcome.",
	}, []string{"outcome"})

	droppedTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconcile",
		Name:      "dropped_triggers_total",
		Help:      "Sync requests dropped because another sync was in flight.",
	}, []string{"op"})

	collectionSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reconcile",
		Name:      "collection_books",
		Help:      "Number of records in the in-memory collection after the last pull.",
	})

	tracer = otel.Tracer("github.com/example/shelf-sync/reconcile")
)

func init() {
	prometheus.MustRegister(syncLatency, syncOutcomes, rowOutcomes, droppedTriggers, collectionSize)
}

func observeSync(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(types.CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	syncLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	syncOutcomes.WithLabelValues(op, outcome).Inc()
}

func (r PullResult) record() {
	rowOutcomes.WithLabelValues("cache_hit").Add(float64(r.CacheHits))
	rowOutcomes.WithLabelValues("looked_up").Add(float64(r.LookedUp))
	rowOutcomes.WithLabelValues("unresolved").Add(float64(r.Unresolved))
	rowOutcomes.WithLabelValues("lookup_failed").Add(float64(r.LookupFailed))
	rowOutcomes.WithLabelValues("malformed").Add(float64(r.Skipped))
	collectionSize.Set(float64(r.Books))
}
