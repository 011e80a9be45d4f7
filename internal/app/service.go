package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Dependencies groups the adapters a TenantService works with.
type Dependencies struct {
	Repo      domain.TenantRepository
	Publisher domain.EventPublisher
	Validator domain.TransitionValidator
	Scheduler domain.ProvisioningScheduler
	Databases domain.DatabaseManager
	Indexes   *IndexManager
}

// TenantService orchestrates tenant lifecycle operations.
type TenantService struct {
	repo       domain.TenantRepository
	publisher  domain.EventPublisher
	validator  domain.TransitionValidator
	scheduler  domain.ProvisioningScheduler
	databases  domain.DatabaseManager
	indexes    *IndexManager
	baseDomain string
}

// NewTenantService creates a service that registers tenants under baseDomain.
func NewTenantService(deps Dependencies, baseDomain string) *TenantService {
	return &TenantService{
		repo:       deps.Repo,
		publisher:  deps.Publisher,
		validator:  deps.Validator,
		scheduler:  deps.Scheduler,
		databases:  deps.Databases,
		indexes:    deps.Indexes,
		baseDomain: baseDomain,
	}
}

// CreateInput holds the data needed to register a tenant.
type CreateInput struct {
	Subdomain  string
	AdminName  string
	AdminEmail string
	Features   []string
}

// Create registers a pending tenant and schedules its provisioning.
func (s *TenantService) Create(ctx context.Context, in CreateInput) (*domain.Tenant, error) {
	d, err := domain.NewTenantDomain(in.Subdomain, s.baseDomain)
	if err != nil {
		return nil, err
	}
	if d.IsReserved() {
		return nil, fmt.Errorf("%w: %q", domain.ErrReservedSubdomain, d.Subdomain())
	}

	// Check subdomain uniqueness before creating. The registry's unique index still
	// catches a concurrent create.
	if _, err := s.repo.GetBySubdomain(ctx, d.Subdomain()); err == nil {
		return nil, &domain.SubdomainConflictError{Subdomain: d.Subdomain()}
	} else if !errors.Is(err, domain.ErrTenantNotFound) {
		return nil, fmt.Errorf("checking subdomain: %w", err)
	}

	id, err := domain.NewTenantID()
	if err != nil {
		return nil, fmt.Errorf("generating tenant id: %w", err)
	}

	tenant := domain.NewTenant(id, d, domain.AdminBootstrap{Name: in.AdminName, Email: in.AdminEmail})
	for _, name := range in.Features {
		tenant.EnableFeature(name)
	}

	if err := s.repo.Create(ctx, tenant); err != nil {
		return nil, fmt.Errorf("creating tenant: %w", err)
	}
	publishEvents(ctx, s.publisher, tenant)

	if err := s.scheduler.ScheduleProvisioning(ctx, tenant.ID); err != nil {
		return tenant, fmt.Errorf("scheduling provisioning: %w", err)
	}

	slog.InfoContext(ctx, "tenant created",
		"tenant_id", tenant.ID.String(),
		"subdomain", d.Subdomain(),
	)
	return tenant, nil
}

// Get returns a tenant by its identifier.
func (s *TenantService) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	tid, err := domain.ParseTenantID(id)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, tid)
}

// List returns tenants matching the given filter.
func (s *TenantService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Tenant, error) {
	return s.repo.List(ctx, filter)
}

// AllowedActions lists the lifecycle triggers that may fire from the tenant's status.
func (s *TenantService) AllowedActions(t *domain.Tenant) []domain.Trigger {
	return s.validator.Available(t.CurrentStatus())
}

// Suspend blocks an active tenant from serving requests.
func (s *TenantService) Suspend(ctx context.Context, id, reason string) (*domain.Tenant, error) {
	return s.transition(ctx, id, domain.TriggerSuspend, func(t *domain.Tenant) error {
		return t.Suspend(reason)
	})
}

// Reactivate restores a suspended tenant.
func (s *TenantService) Reactivate(ctx context.Context, id string) (*domain.Tenant, error) {
	return s.transition(ctx, id, domain.TriggerReactivate, (*domain.Tenant).Reactivate)
}

// transition validates trigger, applies it through mutate and persists the result with a
// compare-and-set on the status and version the tenant was loaded with. A write lost to a
// concurrent change is retried on a fresh copy.
func (s *TenantService) transition(ctx context.Context, id string, trigger domain.Trigger, mutate func(*domain.Tenant) error) (*domain.Tenant, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	tenant, err = saveTenant(ctx, s.repo, tenant, func(t *domain.Tenant) (*domain.Tenant, domain.Status, error) {
		expected := t.CurrentStatus()
		if _, err := s.validator.Apply(ctx, expected, trigger); err != nil {
			return t, expected, err
		}
		return t, expected, mutate(t)
	})
	if err != nil {
		return nil, err
	}
	publishEvents(ctx, s.publisher, tenant)
	return tenant, nil
}

// Retry starts a new provisioning attempt for a failed tenant. For a pending tenant it
// enqueues the provisioning job again, which recovers a create whose scheduling failed.
func (s *TenantService) Retry(ctx context.Context, id string) (*domain.Tenant, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if tenant.CurrentStatus() == domain.StatusPending {
		if err := s.scheduler.ScheduleProvisioning(ctx, tenant.ID); err != nil {
			return tenant, fmt.Errorf("scheduling provisioning: %w", err)
		}
		return tenant, nil
	}

	next, err := saveTenant(ctx, s.repo, tenant, func(t *domain.Tenant) (*domain.Tenant, domain.Status, error) {
		next, err := t.NewAttempt()
		if err != nil {
			return t, t.CurrentStatus(), err
		}
		return next, domain.StatusFailed, nil
	})
	if err != nil {
		return nil, err
	}
	publishEvents(ctx, s.publisher, next)

	if err := s.scheduler.ScheduleProvisioning(ctx, next.ID); err != nil {
		return next, fmt.Errorf("scheduling provisioning: %w", err)
	}

	slog.InfoContext(ctx, "provisioning retried",
		"tenant_id", next.ID.String(),
		"attempt", next.Attempt,
	)
	return next, nil
}

// SetFeature toggles a feature flag. Flags can change in any status; a concurrent write
// to the same tenant is merged rather than overwritten.
func (s *TenantService) SetFeature(ctx context.Context, id, name string, enabled bool) (*domain.Tenant, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return saveTenant(ctx, s.repo, tenant, func(t *domain.Tenant) (*domain.Tenant, domain.Status, error) {
		if enabled {
			t.EnableFeature(name)
		} else {
			t.DisableFeature(name)
		}
		return t, t.CurrentStatus(), nil
	})
}

// IndexStats reports on every search index of a tenant.
func (s *TenantService) IndexStats(ctx context.Context, id string) (*domain.Tenant, []IndexStats, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	stats, err := s.indexes.GetIndexStats(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}
	return tenant, stats, nil
}

// Reindex rebuilds the search indexes of a tenant from its database. The tenant must have
// finished provisioning.
func (s *TenantService) Reindex(ctx context.Context, id string) (map[string]int, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if status := tenant.Status; status != domain.StatusActive && status != domain.StatusSuspended {
		return nil, &domain.TenantNotReadyError{Subdomain: tenant.Domain.Subdomain(), Status: status}
	}

	ctx = domain.WithScope(ctx, ScopeOf(tenant))
	return s.indexes.ReindexTenant(ctx, tenant)
}

// Decommission tears down a failed or suspended tenant: search indexes first, then its
// database, then the registry row. The tenant is flagged in the registry before anything
// is dropped, which keeps Reactivate and Retry from reviving it mid-teardown. Resource
// teardown is best-effort; the row is only removed once every resource is gone, and a
// failed teardown can be repeated.
func (s *TenantService) Decommission(ctx context.Context, id string) error {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	tenant, err = saveTenant(ctx, s.repo, tenant, func(t *domain.Tenant) (*domain.Tenant, domain.Status, error) {
		return t, t.CurrentStatus(), t.BeginDecommission()
	})
	if err != nil {
		return err
	}

	var errs []error
	if err := s.indexes.DeleteTenantIndexes(ctx, tenant); err != nil {
		errs = append(errs, err)
	}
	if err := s.databases.DropDatabase(ctx, tenant.Database); err != nil {
		errs = append(errs, fmt.Errorf("dropping database: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("decommissioning tenant: %w", err)
	}

	if err := s.repo.Delete(ctx, tenant.ID); err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}

	slog.InfoContext(ctx, "tenant decommissioned",
		"tenant_id", tenant.ID.String(),
		"subdomain", tenant.Domain.Subdomain(),
	)
	return nil
}
