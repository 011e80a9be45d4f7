package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrStatusConflict is returned by the registry when a conditional update finds the
	// row in a different status than the caller expected.
	ErrStatusConflict = errors.New("tenant status changed concurrently")

	ErrInvalidStatusTransition      = errors.New("invalid status transition")
	ErrCannotSuspendInactiveTenant  = errors.New("cannot suspend a tenant that is not active")
	ErrCannotReactivateActiveTenant = errors.New("cannot reactivate a tenant that is not suspended")
	ErrReservedSubdomain            = errors.New("subdomain is reserved")
	ErrScopeMissing                 = errors.New("no tenant scope in context")
	ErrScopeMismatch                = errors.New("tenant scope does not match the target tenant")

	// ErrCannotDecommission guards teardown: only failed or suspended tenants can be removed.
	ErrCannotDecommission = errors.New("only failed or suspended tenants can be decommissioned")

	ErrTenantDecommissioning = errors.New("tenant is being decommissioned")
)

// InvalidValueError is returned when a value object rejects its input.
type InvalidValueError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// SubdomainConflictError is returned when a subdomain is already taken by another tenant.
type SubdomainConflictError struct {
	Subdomain string
}

func (e *SubdomainConflictError) Error() string {
	return fmt.Sprintf("subdomain %q is already in use", e.Subdomain)
}

// TransitionError is returned when a state transition is not allowed.
type TransitionError struct {
	Trigger Trigger
	Current Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("trigger %q is not valid from state %q", e.Trigger, e.Current)
}

// Unwrap lets callers match the generic and the trigger-specific sentinels.
func (e *TransitionError) Unwrap() []error {
	switch e.Trigger {
	case TriggerSuspend:
		return []error{ErrInvalidStatusTransition, ErrCannotSuspendInactiveTenant}
	case TriggerReactivate:
		return []error{ErrInvalidStatusTransition, ErrCannotReactivateActiveTenant}
	default:
		return []error{ErrInvalidStatusTransition}
	}
}

// Step names one stage of the provisioning workflow.
type Step string

const (
	StepDatabase  Step = "database creation"
	StepMigration Step = "migration"
	StepSeeding   Step = "seeding"
	StepIndexing  Step = "search index creation"
)

// ProvisioningError reports the step at which provisioning stopped. Its message is the
// reason recorded on the failed tenant.
type ProvisioningError struct {
	Step Step
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// TenantNotReadyError is returned when a host maps to a tenant that is not active yet
// (or whose provisioning failed).
type TenantNotReadyError struct {
	Subdomain string
	Status    Status
}

func (e *TenantNotReadyError) Error() string {
	return fmt.Sprintf("tenant %q is not ready (status %q)", e.Subdomain, e.Status)
}

// TenantSuspendedError is returned when a host maps to a suspended tenant.
type TenantSuspendedError struct {
	Subdomain string
	Reason    string
}

func (e *TenantSuspendedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("tenant %q is suspended", e.Subdomain)
	}
	return fmt.Sprintf("tenant %q is suspended: %s", e.Subdomain, e.Reason)
}
