package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"reqguard/internal/models"
	"reqguard/internal/store"
)

// InstrumentedStore wraps a store.CounterStore implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStore struct {
	inner    store.CounterStore
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStore creates a counter-store wrapper that records trace
// spans, operation latency histograms, and error counters for every store
// method call.
func NewInstrumentedStore(inner store.CounterStore) (*InstrumentedStore, error) {
	tracer := otel.Tracer("reqguard/store")
	meter := otel.Meter("reqguard/store")

	duration, err := meter.Float64Histogram(
		"store.operation.duration",
		metric.WithDescription("Duration of counter store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"store.operation.errors",
		metric.WithDescription("Number of counter store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "store."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("store.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (*models.CounterEntry, error) {
	ctx, span := s.startSpan(ctx, "Get", attribute.String("counter_key", key))
	start := time.Now()
	result, err := s.inner.Get(ctx, key)
	s.record(ctx, span, "Get", start, err)
	return result, err
}

func (s *InstrumentedStore) Set(ctx context.Context, entry *models.CounterEntry) error {
	ctx, span := s.startSpan(ctx, "Set", attribute.String("counter_key", entry.Key))
	start := time.Now()
	err := s.inner.Set(ctx, entry)
	s.record(ctx, span, "Set", start, err)
	return err
}

func (s *InstrumentedStore) Increment(ctx context.Context, key string, window time.Duration) (*models.CounterEntry, error) {
	ctx, span := s.startSpan(ctx, "Increment",
		attribute.String("counter_key", key),
		attribute.String("window", window.String()),
	)
	start := time.Now()
	result, err := s.inner.Increment(ctx, key, window)
	s.record(ctx, span, "Increment", start, err)
	return result, err
}

func (s *InstrumentedStore) Block(ctx context.Context, key string, until time.Time) error {
	ctx, span := s.startSpan(ctx, "Block", attribute.String("counter_key", key))
	start := time.Now()
	err := s.inner.Block(ctx, key, until)
	s.record(ctx, span, "Block", start, err)
	return err
}

func (s *InstrumentedStore) Reset(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "Reset", attribute.String("counter_key", key))
	start := time.Now()
	err := s.inner.Reset(ctx, key)
	s.record(ctx, span, "Reset", start, err)
	return err
}

func (s *InstrumentedStore) Cleanup(ctx context.Context) (int, error) {
	ctx, span := s.startSpan(ctx, "Cleanup")
	start := time.Now()
	removed, err := s.inner.Cleanup(ctx)
	span.SetAttributes(attribute.Int("removed", removed))
	s.record(ctx, span, "Cleanup", start, err)
	return removed, err
}

func (s *InstrumentedStore) Len(ctx context.Context) (int, error) {
	ctx, span := s.startSpan(ctx, "Len")
	start := time.Now()
	result, err := s.inner.Len(ctx)
	s.record(ctx, span, "Len", start, err)
	return result, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
