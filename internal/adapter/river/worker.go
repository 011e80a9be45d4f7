package river

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// EventWorker relays event jobs to an external bus. Without a relay it only logs.
type EventWorker struct {
	river.WorkerDefaults[EventJobArgs]
	relay domain.EventPublisher
}

// Work processes a single event job. A relay failure is returned so River retries it.
func (w *EventWorker) Work(ctx context.Context, job *river.Job[EventJobArgs]) error {
	event, err := job.Args.ToDomain()
	if err != nil {
		return river.JobCancel(fmt.Errorf("decoding event job: %w", err))
	}

	slog.InfoContext(ctx, "processing event",
		"event", event.Name(),
		"tenant_id", job.Args.TenantID,
		"subdomain", job.Args.Subdomain,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)

	if w.relay == nil {
		return nil
	}
	if err := w.relay.Publish(ctx, event); err != nil {
		return fmt.Errorf("relaying %s: %w", event.Name(), err)
	}
	return nil
}

// Provisioner is the workflow a ProvisionWorker runs.
type Provisioner interface {
	Provision(ctx context.Context, id domain.TenantID) (*domain.Tenant, error)
}

// ProvisionWorker runs the provisioning workflow for queued tenants.
//
// The provisioner is bound after the River client exists, because the provisioner itself
// publishes through that client.
type ProvisionWorker struct {
	river.WorkerDefaults[ProvisionJobArgs]
	provisioner atomic.Pointer[Provisioner]
}

// Bind sets the provisioner used by subsequent jobs.
func (w *ProvisionWorker) Bind(p Provisioner) {
	w.provisioner.Store(&p)
}

// Timeout bounds one provisioning run.
func (w *ProvisionWorker) Timeout(*river.Job[ProvisionJobArgs]) time.Duration {
	return 10 * time.Minute
}

// Work provisions one tenant. Outcomes already recorded on the tenant (a failed step, a
// tenant that is not pending, a tenant that no longer exists) cancel the job instead of
// retrying it; anything else is retried by River.
func (w *ProvisionWorker) Work(ctx context.Context, job *river.Job[ProvisionJobArgs]) error {
	id, err := domain.ParseTenantID(job.Args.TenantID)
	if err != nil {
		return river.JobCancel(err)
	}

	p := w.provisioner.Load()
	if p == nil {
		return errors.New("provision worker has no provisioner bound")
	}

	tenant, err := (*p).Provision(ctx, id)
	if err != nil {
		var provErr *domain.ProvisioningError
		var trErr *domain.TransitionError
		if errors.As(err, &provErr) || errors.As(err, &trErr) || errors.Is(err, domain.ErrTenantNotFound) {
			slog.WarnContext(ctx, "provisioning job finished without activation",
				"tenant_id", job.Args.TenantID,
				"job_id", job.ID,
				"error", err,
			)
			return river.JobCancel(err)
		}
		return err
	}

	slog.InfoContext(ctx, "provisioning job complete",
		"tenant_id", tenant.ID.String(),
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}
