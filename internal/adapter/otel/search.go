package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// TracingSearchEngine wraps a domain.SearchEngine with OpenTelemetry tracing.
type TracingSearchEngine struct {
	next   domain.SearchEngine
	tracer trace.Tracer
}

var _ domain.SearchEngine = (*TracingSearchEngine)(nil)

// NewTracingSearchEngine creates a tracing decorator around the given engine.
func NewTracingSearchEngine(next domain.SearchEngine) *TracingSearchEngine {
	return &TracingSearchEngine{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (e *TracingSearchEngine) CreateIndex(ctx context.Context, name string, settings domain.IndexSettings) error {
	ctx, span := e.start(ctx, "SearchEngine.CreateIndex", name)
	defer span.End()

	err := e.next.CreateIndex(ctx, name, settings)
	recordError(span, err)
	return err
}

func (e *TracingSearchEngine) DeleteIndex(ctx context.Context, name string) error {
	ctx, span := e.start(ctx, "SearchEngine.DeleteIndex", name)
	defer span.End()

	err := e.next.DeleteIndex(ctx, name)
	recordError(span, err)
	return err
}

func (e *TracingSearchEngine) ImportDocuments(ctx context.Context, name string, docs []map[string]any) error {
	ctx, span := e.start(ctx, "SearchEngine.ImportDocuments", name)
	defer span.End()
	span.SetAttributes(attribute.Int("search.documents", len(docs)))

	err := e.next.ImportDocuments(ctx, name, docs)
	recordError(span, err)
	return err
}

func (e *TracingSearchEngine) IndexStats(ctx context.Context, name string) (domain.IndexStats, error) {
	ctx, span := e.start(ctx, "SearchEngine.IndexStats", name)
	defer span.End()

	stats, err := e.next.IndexStats(ctx, name)
	recordError(span, err)
	return stats, err
}

// start opens a span tagged with the index and, inside a tenant scope, the tenant.
func (e *TracingSearchEngine) start(ctx context.Context, op, index string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("search.index", index)}
	if scope, ok := domain.ScopeFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("tenant.id", scope.TenantID.String()))
	}
	return e.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}
