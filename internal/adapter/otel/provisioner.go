package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Provisioner is the provisioning workflow being instrumented.
type Provisioner interface {
	Provision(ctx context.Context, id domain.TenantID) (*domain.Tenant, error)
}

// InstrumentedProvisioner traces each provisioning run and records its outcome as metrics:
// a run counter by outcome and failed step, and a duration histogram.
type InstrumentedProvisioner struct {
	next     Provisioner
	tracer   trace.Tracer
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// NewInstrumentedProvisioner creates an instrumenting decorator around next.
func NewInstrumentedProvisioner(next Provisioner) (*InstrumentedProvisioner, error) {
	meter := otel.Meter(tracerName)

	runs, err := meter.Int64Counter("tenant.provisioning.runs",
		metric.WithDescription("Provisioning runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runs counter: %w", err)
	}

	duration, err := meter.Float64Histogram("tenant.provisioning.duration",
		metric.WithDescription("Duration of provisioning runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &InstrumentedProvisioner{
		next:     next,
		tracer:   otel.Tracer(tracerName),
		runs:     runs,
		duration: duration,
	}, nil
}

func (p *InstrumentedProvisioner) Provision(ctx context.Context, id domain.TenantID) (*domain.Tenant, error) {
	ctx, span := p.tracer.Start(ctx, "Provisioner.Provision",
		trace.WithAttributes(attribute.String("tenant.id", id.String())),
	)
	defer span.End()

	start := time.Now()
	tenant, err := p.next.Provision(ctx, id)
	elapsed := time.Since(start).Seconds()

	attrs := outcomeAttributes(err)
	if tenant != nil {
		span.SetAttributes(attribute.String("tenant.status", string(tenant.CurrentStatus())))
	}
	span.SetAttributes(attrs...)
	recordError(span, err)

	set := metric.WithAttributes(attrs...)
	p.runs.Add(ctx, 1, set)
	p.duration.Record(ctx, elapsed, set)

	return tenant, err
}

func outcomeAttributes(err error) []attribute.KeyValue {
	var provErr *domain.ProvisioningError
	var trErr *domain.TransitionError
	switch {
	case err == nil:
		return []attribute.KeyValue{attribute.String("provisioning.outcome", "active")}
	case errors.As(err, &provErr):
		return []attribute.KeyValue{
			attribute.String("provisioning.outcome", "failed"),
			attribute.String("provisioning.step", string(provErr.Step)),
		}
	case errors.As(err, &trErr):
		return []attribute.KeyValue{attribute.String("provisioning.outcome", "skipped")}
	default:
		return []attribute.KeyValue{attribute.String("provisioning.outcome", "error")}
	}
}
