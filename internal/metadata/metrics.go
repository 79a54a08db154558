package metadata

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/shelf-sync/internal/types"
)

var (
	lookupLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "metadata",
		Name:      "request_seconds",
		Help:      "Latency of metadata provider requests.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"provider", "op"})

	lookupOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metadata",
		Name:      "requests_total",
		Help:      "Metadata provider requests by outcome.",
	}, []string{"provider", "op", "outcome"})

	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metadata",
		Name:      "cache_lookups_total",
		Help:      "ISBN lookups served from or missed by the lookup cache.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(lookupLatency, lookupOutcomes, cacheHits)
}

func observeLookup(provider, op string, code types.Code, start time.Time) {
	outcome := "ok"
	if code != "" {
		outcome = string(code)
	}
	lookupLatency.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
	lookupOutcomes.WithLabelValues(provider, op, outcome).Inc()
}
