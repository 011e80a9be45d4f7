package domain

import "time"

// Event is a fact about a tenant's lifecycle, published for external subscribers.
// The set of events is closed: only types in this package implement it.
type Event interface {
	Name() string
	Tenant() TenantID
	At() time.Time
	isEvent()
}

// Event names double as bus subjects and job discriminators.
const (
	EventNameTenantCreated            = "tenant.created"
	EventNameTenantProvisioned        = "tenant.provisioned"
	EventNameTenantProvisioningFailed = "tenant.provisioning_failed"
	EventNameTenantSuspended          = "tenant.suspended"
	EventNameTenantReactivated        = "tenant.reactivated"
)

// TenantCreated is recorded when a tenant enters the pending state.
type TenantCreated struct {
	TenantID   TenantID
	Subdomain  string
	Database   string
	Attempt    int
	OccurredAt time.Time
}

// TenantProvisioned is recorded when all tenant resources exist and the tenant is active.
type TenantProvisioned struct {
	TenantID   TenantID
	Subdomain  string
	Database   string
	Attempt    int
	OccurredAt time.Time
}

// TenantProvisioningFailed is recorded when provisioning stops at a failed step.
type TenantProvisioningFailed struct {
	TenantID   TenantID
	Subdomain  string
	Reason     string
	Attempt    int
	OccurredAt time.Time
}

// TenantSuspended is recorded when an active tenant is suspended.
type TenantSuspended struct {
	TenantID   TenantID
	Subdomain  string
	Reason     string
	OccurredAt time.Time
}

// TenantReactivated is recorded when a suspended tenant becomes active again.
type TenantReactivated struct {
	TenantID   TenantID
	Subdomain  string
	OccurredAt time.Time
}

func (TenantCreated) Name() string            { return EventNameTenantCreated }
func (TenantProvisioned) Name() string        { return EventNameTenantProvisioned }
func (TenantProvisioningFailed) Name() string { return EventNameTenantProvisioningFailed }
func (TenantSuspended) Name() string          { return EventNameTenantSuspended }
func (TenantReactivated) Name() string        { return EventNameTenantReactivated }

func (e TenantCreated) Tenant() TenantID            { return e.TenantID }
func (e TenantProvisioned) Tenant() TenantID        { return e.TenantID }
func (e TenantProvisioningFailed) Tenant() TenantID { return e.TenantID }
func (e TenantSuspended) Tenant() TenantID          { return e.TenantID }
func (e TenantReactivated) Tenant() TenantID        { return e.TenantID }

func (e TenantCreated) At() time.Time            { return e.OccurredAt }
func (e TenantProvisioned) At() time.Time        { return e.OccurredAt }
func (e TenantProvisioningFailed) At() time.Time { return e.OccurredAt }
func (e TenantSuspended) At() time.Time          { return e.OccurredAt }
func (e TenantReactivated) At() time.Time        { return e.OccurredAt }

func (TenantCreated) isEvent()            {}
func (TenantProvisioned) isEvent()        {}
func (TenantProvisioningFailed) isEvent() {}
func (TenantSuspended) isEvent()          {}
func (TenantReactivated) isEvent()        {}
