package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/storage"
)

const storeScopeName = "github.com/starford/kodebase/storage"

// InstrumentedStore wraps storage.ArtifactStore with a span and
// kodebase.store.* metrics per call.
type InstrumentedStore struct {
	inner  storage.ArtifactStore
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

var _ storage.ArtifactStore = (*InstrumentedStore)(nil)

// WrapStore returns s decorated with instrumentation, or s itself when
// enabled is false.
func WrapStore(s storage.ArtifactStore, enabled bool) storage.ArtifactStore {
	if !enabled {
		return s
	}
	m := Meter(storeScopeName)
	ops, _ := m.Int64Counter("kodebase.store.operations",
		metric.WithDescription("Total artifact store operations executed"),
	)
	dur, _ := m.Float64Histogram("kodebase.store.operation.duration",
		metric.WithDescription("Artifact store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("kodebase.store.errors",
		metric.WithDescription("Total artifact store operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storeScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

func (s *InstrumentedStore) op(name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("store.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(context.Background(), "store."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) Get(id string) (*artifact.Artifact, error) {
	attrs := []attribute.KeyValue{attribute.String("kodebase.artifact.id", id)}
	ctx, span, t := s.op("Get", attrs...)
	a, err := s.inner.Get(id)
	s.done(ctx, span, t, err, attrs...)
	return a, err
}

func (s *InstrumentedStore) List() ([]string, error) {
	ctx, span, t := s.op("List")
	ids, err := s.inner.List()
	span.SetAttributes(attribute.Int("kodebase.artifact.count", len(ids)))
	s.done(ctx, span, t, err)
	return ids, err
}

func (s *InstrumentedStore) Put(a *artifact.Artifact) error {
	attrs := []attribute.KeyValue{
		attribute.String("kodebase.artifact.id", a.ID),
		attribute.String("kodebase.artifact.state", string(a.CurrentState())),
	}
	ctx, span, t := s.op("Put", attrs...)
	err := s.inner.Put(a)
	s.done(ctx, span, t, err, attrs...)
	return err
}
