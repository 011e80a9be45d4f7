package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Provisioner runs the provisioning workflow of one tenant: database, migrations, seed
// data, search indexes, then activation.
type Provisioner struct {
	repo       domain.TenantRepository
	publisher  domain.EventPublisher
	databases  domain.DatabaseManager
	migrations domain.MigrationRunner
	seeder     domain.Seeder
	indexes    *IndexManager
}

// NewProvisioner creates a provisioner with the given adapters.
func NewProvisioner(
	repo domain.TenantRepository,
	publisher domain.EventPublisher,
	databases domain.DatabaseManager,
	migrations domain.MigrationRunner,
	seeder domain.Seeder,
	indexes *IndexManager,
) *Provisioner {
	return &Provisioner{
		repo:       repo,
		publisher:  publisher,
		databases:  databases,
		migrations: migrations,
		seeder:     seeder,
		indexes:    indexes,
	}
}

// provisioned tracks the resources created so far, for cleanup.
type provisioned struct {
	database bool
	indexes  []string
}

// Provision drives a pending tenant to active or failed. The tenant is returned in
// both cases. A step failure comes back as *domain.ProvisioningError after it has been
// recorded on the tenant. A tenant that is not pending, including one another workflow
// has just claimed, yields *domain.TransitionError and nothing is touched.
func (p *Provisioner) Provision(ctx context.Context, id domain.TenantID) (*domain.Tenant, error) {
	tenant, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	tenant, err = saveTenant(ctx, p.repo, tenant, func(t *domain.Tenant) (*domain.Tenant, domain.Status, error) {
		return t, domain.StatusPending, t.StartProvisioning()
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStatusTransition) {
			return tenant, err
		}
		return nil, fmt.Errorf("starting provisioning: %w", err)
	}

	slog.InfoContext(ctx, "provisioning started",
		"tenant_id", tenant.ID.String(),
		"subdomain", tenant.Domain.Subdomain(),
		"attempt", tenant.Attempt,
	)

	ctx = domain.WithScope(ctx, ScopeOf(tenant))

	var res provisioned
	if stepErr := p.run(ctx, tenant, &res); stepErr != nil {
		return p.fail(ctx, tenant, res, stepErr)
	}

	// The outcome is recorded even when ctx has been cancelled meanwhile; otherwise the
	// tenant would stay in provisioning with nothing left to finish it.
	saveCtx := context.WithoutCancel(ctx)
	tenant, err = saveTenant(saveCtx, p.repo, tenant,
		inStatus(domain.StatusProvisioning, domain.TriggerProvisionComplete, (*domain.Tenant).MarkAsProvisioned))
	if err != nil {
		return tenant, fmt.Errorf("activating tenant: %w", err)
	}
	p.publish(saveCtx, tenant)

	slog.InfoContext(ctx, "provisioning complete",
		"tenant_id", tenant.ID.String(),
		"database", tenant.Database.String(),
	)
	return tenant, nil
}

func (p *Provisioner) run(ctx context.Context, tenant *domain.Tenant, res *provisioned) *domain.ProvisioningError {
	if err := p.databases.CreateDatabase(ctx, tenant.Database); err != nil {
		return &domain.ProvisioningError{Step: domain.StepDatabase, Err: err}
	}
	res.database = true

	if err := p.migrations.RunMigrations(ctx, tenant.Database); err != nil {
		return &domain.ProvisioningError{Step: domain.StepMigration, Err: err}
	}
	if err := p.seeder.SeedBaseline(ctx, tenant.Database); err != nil {
		return &domain.ProvisioningError{Step: domain.StepSeeding, Err: err}
	}

	created, err := p.indexes.CreateTenantIndexes(ctx, tenant)
	res.indexes = created
	if err != nil {
		return &domain.ProvisioningError{Step: domain.StepIndexing, Err: err}
	}
	return nil
}

// fail records the failure, then removes whatever the workflow created. Cleanup errors are
// logged and never change the outcome. Neither step is bound to ctx's cancellation.
func (p *Provisioner) fail(ctx context.Context, tenant *domain.Tenant, res provisioned, stepErr *domain.ProvisioningError) (*domain.Tenant, error) {
	slog.WarnContext(ctx, "provisioning failed",
		"tenant_id", tenant.ID.String(),
		"step", string(stepErr.Step),
		"error", stepErr.Err,
	)

	ctx = context.WithoutCancel(ctx)
	reason := stepErr.Error()
	saved, err := saveTenant(ctx, p.repo, tenant,
		inStatus(domain.StatusProvisioning, domain.TriggerProvisionFailed, func(t *domain.Tenant) {
			t.MarkAsFailed(reason)
		}))
	var result error = stepErr
	if err != nil {
		result = errors.Join(stepErr, fmt.Errorf("recording failure: %w", err))
	} else {
		p.publish(ctx, saved)
	}

	p.cleanup(ctx, saved, res)
	return saved, result
}

func (p *Provisioner) cleanup(ctx context.Context, tenant *domain.Tenant, res provisioned) {
	if len(res.indexes) > 0 {
		if err := p.indexes.DeleteIndexes(ctx, res.indexes); err != nil {
			slog.ErrorContext(ctx, "cleanup: deleting search indexes",
				"tenant_id", tenant.ID.String(),
				"error", err,
			)
		}
	}
	if res.database {
		if err := p.databases.DropDatabase(ctx, tenant.Database); err != nil {
			slog.ErrorContext(ctx, "cleanup: dropping database",
				"tenant_id", tenant.ID.String(),
				"database", tenant.Database.String(),
				"error", err,
			)
		}
	}
}

func (p *Provisioner) publish(ctx context.Context, tenant *domain.Tenant) {
	publishEvents(ctx, p.publisher, tenant)
}

// publishEvents flushes the events recorded on tenant. The registry already holds the new
// state, so a publish failure is logged rather than returned.
func publishEvents(ctx context.Context, publisher domain.EventPublisher, tenant *domain.Tenant) {
	for _, event := range tenant.PullEvents() {
		if err := publisher.Publish(ctx, event); err != nil {
			slog.ErrorContext(ctx, "publishing event",
				"event", event.Name(),
				"tenant_id", tenant.ID.String(),
				"error", err,
			)
		}
	}
}
