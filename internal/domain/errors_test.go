package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

func TestSubdomainConflictError_Error(t *testing.T) {
	err := &domain.SubdomainConflictError{Subdomain: "acme"}
	want := `subdomain "acme" is already in use`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTransitionError_Error(t *testing.T) {
	err := &domain.TransitionError{
		Trigger: domain.TriggerSuspend,
		Current: domain.StatusPending,
	}
	want := `trigger "suspend" is not valid from state "pending"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTransitionError_MatchesSentinels(t *testing.T) {
	cases := []struct {
		trigger  domain.Trigger
		specific error
	}{
		{domain.TriggerStartProvisioning, domain.ErrInvalidStatusTransition},
		{domain.TriggerSuspend, domain.ErrCannotSuspendInactiveTenant},
		{domain.TriggerReactivate, domain.ErrCannotReactivateActiveTenant},
	}
	for _, tc := range cases {
		err := fmt.Errorf("wrapped: %w", &domain.TransitionError{Trigger: tc.trigger, Current: domain.StatusFailed})
		if !errors.Is(err, domain.ErrInvalidStatusTransition) {
			t.Errorf("%q: should match ErrInvalidStatusTransition", tc.trigger)
		}
		if !errors.Is(err, tc.specific) {
			t.Errorf("%q: should match %v", tc.trigger, tc.specific)
		}
	}

	suspendErr := &domain.TransitionError{Trigger: domain.TriggerSuspend, Current: domain.StatusPending}
	if errors.Is(suspendErr, domain.ErrCannotReactivateActiveTenant) {
		t.Error("suspend error must not match the reactivate sentinel")
	}
}

func TestProvisioningError_NamesStep(t *testing.T) {
	cause := errors.New("connection refused")
	err := &domain.ProvisioningError{Step: domain.StepDatabase, Err: cause}

	want := "database creation failed: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("ProvisioningError should unwrap to its cause")
	}
}

func TestTenantSuspendedError_Error(t *testing.T) {
	withReason := &domain.TenantSuspendedError{Subdomain: "acme", Reason: "unpaid"}
	if got, want := withReason.Error(), `tenant "acme" is suspended: unpaid`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	without := &domain.TenantSuspendedError{Subdomain: "acme"}
	if got, want := without.Error(), `tenant "acme" is suspended`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
