package river

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// QueueProvisioning isolates provisioning jobs from event relay jobs.
const QueueProvisioning = "provisioning"

var _ domain.ProvisioningScheduler = (*Scheduler)(nil)

// ProvisionJobArgs asks a worker to provision one tenant.
type ProvisionJobArgs struct {
	TenantID string `json:"tenant_id"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (ProvisionJobArgs) Kind() string { return "tenant.provision" }

// InsertOpts routes provisioning to its own queue. A tenant has at most one provisioning
// job in flight; finished jobs do not block a later attempt.
func (ProvisionJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueProvisioning,
		MaxAttempts: 5,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			ByState: []rivertype.JobState{
				rivertype.JobStateAvailable,
				rivertype.JobStatePending,
				rivertype.JobStateRetryable,
				rivertype.JobStateRunning,
				rivertype.JobStateScheduled,
			},
		},
	}
}

// Scheduler implements domain.ProvisioningScheduler by enqueuing River jobs.
type Scheduler struct {
	client *Client
}

// NewScheduler creates a scheduler backed by the given River client.
func NewScheduler(client *Client) *Scheduler {
	return &Scheduler{client: client}
}

// ScheduleProvisioning enqueues the provisioning workflow of a tenant.
func (s *Scheduler) ScheduleProvisioning(ctx context.Context, id domain.TenantID) error {
	res, err := s.client.Insert(ctx, ProvisionJobArgs{TenantID: id.String()}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing provisioning job: %w", err)
	}
	if res.UniqueSkippedAsDuplicate {
		slog.InfoContext(ctx, "provisioning already queued",
			"tenant_id", id.String(),
			"job_id", res.Job.ID,
		)
	}
	return nil
}
