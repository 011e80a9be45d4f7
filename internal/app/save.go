package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// maxSaveAttempts bounds how often a change is reapplied after losing a conditional
// write to a concurrent writer.
const maxSaveAttempts = 5

// change applies one mutation to a freshly loaded tenant. It returns the tenant to write
// (usually the one it was given) and the status the stored row must still have.
type change func(t *domain.Tenant) (next *domain.Tenant, expected domain.Status, err error)

// saveTenant applies fn to tenant and writes the result. When the registry reports that
// another writer got there first, the tenant is reloaded and fn runs again on the fresh
// copy, so independent changes merge instead of overwriting each other. An error from fn
// ends the loop and is returned unwrapped.
func saveTenant(ctx context.Context, repo domain.TenantRepository, tenant *domain.Tenant, fn change) (*domain.Tenant, error) {
	for attempt := 1; ; attempt++ {
		next, expected, err := fn(tenant)
		if err != nil {
			return tenant, err
		}

		err = repo.Update(ctx, next, expected)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, domain.ErrStatusConflict) || attempt == maxSaveAttempts {
			return next, fmt.Errorf("updating tenant: %w", err)
		}

		latest, err := repo.GetByID(ctx, tenant.ID)
		if err != nil {
			return next, fmt.Errorf("reloading tenant: %w", err)
		}
		tenant = latest
	}
}

// inStatus wraps a mutation that is only valid while the tenant has status want.
func inStatus(want domain.Status, trigger domain.Trigger, mutate func(*domain.Tenant)) change {
	return func(t *domain.Tenant) (*domain.Tenant, domain.Status, error) {
		if current := t.CurrentStatus(); current != want {
			return t, current, &domain.TransitionError{Trigger: trigger, Current: current}
		}
		mutate(t)
		return t, want, nil
	}
}
