package remote

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/shelf-sync/internal/types"
)

var (
	requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "remote",
		Name:      "request_seconds",
		Help:      "Latency of remote document store requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"backend", "op"})

	requestOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remote",
		Name:      "requests_total",
		Help:      "Remote document store requests by outcome.",
	}, []string{"backend", "op", "outcome"})

	documentBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "remote",
		Name:      "document_bytes",
		Help:      "Size of documents moved to and from the remote store.",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
	}, []string{"backend", "direction"})

	tracer = otel.Tracer("github.com/example/shelf-sync/remote")
)

func init() {
	prometheus.MustRegister(requestLatency, requestOutcomes, documentBytes)
}

// Instrumented wraps a Store with per-request metrics and a span.
type Instrumented struct {
	next    Store
	backend string
}

// Instrument decorates next, labelling its metrics with backend.
func Instrument(next Store, backend string) *Instrumented {
	return &Instrumented{next: next, backend: backend}
}

// Fetch implements Store.
func (s *Instrumented) Fetch(ctx context.Context, id, credential string) (string, error) {
	ctx, done := s.begin(ctx, "fetch", id)
	text, err := s.next.Fetch(ctx, id, credential)
	if err == nil {
		documentBytes.WithLabelValues(s.backend, "in").Observe(float64(len(text)))
	}
	done(err)
	return text, err
}

// Create implements Store.
func (s *Instrumented) Create(ctx context.Context, credential, text string) (string, error) {
	ctx, done := s.begin(ctx, "create", "")
	documentBytes.WithLabelValues(s.backend, "out").Observe(float64(len(text)))
	id, err := s.next.Create(ctx, credential, text)
	done(err)
	return id, err
}

// Update implements Store.
func (s *Instrumented) Update(ctx context.Context, id, credential, text string) error {
	ctx, done := s.begin(ctx, "update", id)
	documentBytes.WithLabelValues(s.backend, "out").Observe(float64(len(text)))
	err := s.next.Update(ctx, id, credential, text)
	done(err)
	return err
}

func (s *Instrumented) begin(ctx context.Context, op, id string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "remote."+op)
	span.SetAttributes(attribute.String("remote.backend", s.backend))
	if id != "" {
		span.SetAttributes(attribute.String("remote.document", id))
	}
	start := time.Now()

	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = string(types.CodeOf(err))
			if outcome == "" {
				outcome = "error"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		requestLatency.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
		requestOutcomes.WithLabelValues(s.backend, op, outcome).Inc()
		span.End()
	}
}
