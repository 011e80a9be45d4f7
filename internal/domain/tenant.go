package domain

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

// Status represents the provisioning state of a tenant.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusFailed       Status = "failed"
	StatusSuspended    Status = "suspended"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProvisioning, StatusActive, StatusFailed, StatusSuspended}

// Trigger represents an action that causes a state transition.
type Trigger string

const (
	TriggerStartProvisioning Trigger = "start_provisioning"
	TriggerProvisionComplete Trigger = "provision_complete"
	TriggerProvisionFailed   Trigger = "provision_failed"
	TriggerSuspend           Trigger = "suspend"
	TriggerReactivate        Trigger = "reactivate"
)

// Transition defines a valid state change: a trigger moves a tenant from Src to Dst.
type Transition struct {
	Trigger Trigger
	Src     Status
	Dst     Status
}

// Transitions defines the provisioning lifecycle. Failed has no outgoing transition: a
// retry is a new attempt (see Tenant.NewAttempt), not a resurrection.
// This is domain knowledge consumed by the aggregate and by the FSM adapter.
var Transitions = []Transition{
	{Trigger: TriggerStartProvisioning, Src: StatusPending, Dst: StatusProvisioning},
	{Trigger: TriggerProvisionComplete, Src: StatusProvisioning, Dst: StatusActive},
	{Trigger: TriggerProvisionFailed, Src: StatusProvisioning, Dst: StatusFailed},
	{Trigger: TriggerSuspend, Src: StatusActive, Dst: StatusSuspended},
	{Trigger: TriggerReactivate, Src: StatusSuspended, Dst: StatusActive},
}

func canFire(current Status, trigger Trigger) bool {
	for _, tr := range Transitions {
		if tr.Trigger == trigger && tr.Src == current {
			return true
		}
	}
	return false
}

// Keys of the open data map that the aggregate manages.
const (
	DataKeyAdmin            = "admin"
	DataKeyFeatures         = "features"
	DataKeySuspensionReason = "suspension_reason"
	DataKeySuspendedAt      = "suspended_at"
	DataKeyDecommissioning  = "decommissioning_at"
)

// AdminBootstrap describes the first administrator created inside a new tenant.
type AdminBootstrap struct {
	Name  string
	Email string
}

// Tenant is the aggregate root for one isolated customer organization.
// Lifecycle changes go through its methods, which are safe for concurrent use.
// Exported fields exist for persistence adapters. Version counts registry writes and is
// what a conditional update compares against.
type Tenant struct {
	ID                TenantID
	Database          TenantDatabase
	Domain            TenantDomain
	Status            Status
	ProvisioningError string
	ProvisionedAt     *time.Time
	Attempt           int
	Data              map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Version           int

	mu     sync.Mutex
	events []Event
}

// NewTenant creates a tenant in the initial pending state and records TenantCreated.
func NewTenant(id TenantID, domain TenantDomain, admin AdminBootstrap) *Tenant {
	now := time.Now().UTC()
	t := &Tenant{
		ID:       id,
		Database: DatabaseFromTenantID(id),
		Domain:   domain,
		Status:   StatusPending,
		Attempt:  1,
		Data: map[string]any{
			DataKeyAdmin:    map[string]any{"name": admin.Name, "email": admin.Email},
			DataKeyFeatures: map[string]any{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.record(t.createdEvent(now))
	return t
}

// CurrentStatus reads the status under the aggregate lock.
func (t *Tenant) CurrentStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

// StartProvisioning moves a pending tenant to provisioning. Any other starting state is
// rejected, which is what prevents two workflows from provisioning the same tenant.
func (t *Tenant) StartProvisioning() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canFire(t.Status, TriggerStartProvisioning) {
		return &TransitionError{Trigger: TriggerStartProvisioning, Current: t.Status}
	}
	t.Status = StatusProvisioning
	t.ProvisioningError = ""
	t.touch()
	return nil
}

// MarkAsProvisioned activates the tenant. The caller has verified every resource exists.
func (t *Tenant) MarkAsProvisioned() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.touch()
	t.Status = StatusActive
	t.ProvisioningError = ""
	t.ProvisionedAt = &now
	t.record(TenantProvisioned{
		TenantID:   t.ID,
		Subdomain:  t.Domain.Subdomain(),
		Database:   t.Database.String(),
		Attempt:    t.Attempt,
		OccurredAt: now,
	})
}

// MarkAsFailed records reason and makes the tenant failed. It does not clean anything up.
func (t *Tenant) MarkAsFailed(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if reason == "" {
		reason = "unknown error"
	}
	now := t.touch()
	t.Status = StatusFailed
	t.ProvisioningError = reason
	t.record(TenantProvisioningFailed{
		TenantID:   t.ID,
		Subdomain:  t.Domain.Subdomain(),
		Reason:     reason,
		Attempt:    t.Attempt,
		OccurredAt: now,
	})
}

// Suspend blocks an active tenant. The reason and time are merged into Data.
func (t *Tenant) Suspend(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canFire(t.Status, TriggerSuspend) {
		return &TransitionError{Trigger: TriggerSuspend, Current: t.Status}
	}
	now := t.touch()
	if t.Data == nil {
		t.Data = make(map[string]any)
	}
	t.Data[DataKeySuspensionReason] = reason
	t.Data[DataKeySuspendedAt] = now.Format(time.RFC3339Nano)
	t.Status = StatusSuspended
	t.record(TenantSuspended{
		TenantID:   t.ID,
		Subdomain:  t.Domain.Subdomain(),
		Reason:     reason,
		OccurredAt: now,
	})
	return nil
}

// Reactivate restores a suspended tenant and drops the suspension metadata.
func (t *Tenant) Reactivate() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canFire(t.Status, TriggerReactivate) {
		return &TransitionError{Trigger: TriggerReactivate, Current: t.Status}
	}
	if t.decommissioningLocked() {
		return ErrTenantDecommissioning
	}
	now := t.touch()
	delete(t.Data, DataKeySuspensionReason)
	delete(t.Data, DataKeySuspendedAt)
	t.Status = StatusActive
	t.record(TenantReactivated{
		TenantID:   t.ID,
		Subdomain:  t.Domain.Subdomain(),
		OccurredAt: now,
	})
	return nil
}

// NewAttempt starts a fresh provisioning lifecycle for a failed tenant. The receiver is
// left untouched; the returned tenant is pending with the attempt counter incremented.
func (t *Tenant) NewAttempt() (*Tenant, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status != StatusFailed {
		return nil, &TransitionError{Trigger: TriggerStartProvisioning, Current: t.Status}
	}
	if t.decommissioningLocked() {
		return nil, ErrTenantDecommissioning
	}

	now := time.Now().UTC()
	next := &Tenant{
		ID:        t.ID,
		Database:  t.Database,
		Domain:    t.Domain,
		Status:    StatusPending,
		Attempt:   t.Attempt + 1,
		Data:      cloneData(t.Data),
		CreatedAt: t.CreatedAt,
		UpdatedAt: now,
		Version:   t.Version,
	}
	next.record(next.createdEvent(now))
	return next, nil
}

// BeginDecommission flags a failed or suspended tenant for teardown. Once the flag is
// stored, Reactivate and NewAttempt refuse the tenant, so its resources cannot come back
// into use while they are being removed. Repeating the call is allowed.
func (t *Tenant) BeginDecommission() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status != StatusFailed && t.Status != StatusSuspended {
		return fmt.Errorf("%w (status %q)", ErrCannotDecommission, t.Status)
	}
	if t.decommissioningLocked() {
		return nil
	}
	now := t.touch()
	if t.Data == nil {
		t.Data = make(map[string]any)
	}
	t.Data[DataKeyDecommissioning] = now.Format(time.RFC3339Nano)
	return nil
}

// Decommissioning reports whether teardown has started.
func (t *Tenant) Decommissioning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.decommissioningLocked()
}

// SetVersion records the registry version after a successful write.
func (t *Tenant) SetVersion(v int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Version = v
}

// HasFeature reports whether name is enabled. Unknown features are disabled.
func (t *Tenant) HasFeature(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.featuresLocked()[name]
}

// EnableFeature turns a feature flag on regardless of status.
func (t *Tenant) EnableFeature(name string) { t.setFeature(name, true) }

// DisableFeature turns a feature flag off regardless of status.
func (t *Tenant) DisableFeature(name string) { t.setFeature(name, false) }

// Features returns a copy of the feature flags.
func (t *Tenant) Features() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.featuresLocked()
}

// SuspensionReason returns the recorded reason while the tenant is suspended.
func (t *Tenant) SuspensionReason() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reason, ok := t.Data[DataKeySuspensionReason].(string)
	return reason, ok
}

// SuspendedAt returns when the tenant was suspended.
func (t *Tenant) SuspendedAt() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	raw, ok := t.Data[DataKeySuspendedAt].(string)
	if !ok {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// AdminBootstrap returns the administrator the tenant was created with.
func (t *Tenant) AdminBootstrap() (AdminBootstrap, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	raw, ok := t.Data[DataKeyAdmin].(map[string]any)
	if !ok {
		return AdminBootstrap{}, false
	}
	name, _ := raw["name"].(string)
	email, _ := raw["email"].(string)
	return AdminBootstrap{Name: name, Email: email}, true
}

// PullEvents returns the events recorded since the last call and forgets them.
func (t *Tenant) PullEvents() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := t.events
	t.events = nil
	return events
}

// Clone returns a deep copy without pending events.
func (t *Tenant) Clone() *Tenant {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &Tenant{
		ID:                t.ID,
		Database:          t.Database,
		Domain:            t.Domain,
		Status:            t.Status,
		ProvisioningError: t.ProvisioningError,
		Attempt:           t.Attempt,
		Data:              cloneData(t.Data),
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		Version:           t.Version,
	}
	if t.ProvisionedAt != nil {
		at := *t.ProvisionedAt
		c.ProvisionedAt = &at
	}
	return c
}

func (t *Tenant) setFeature(name string, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Data == nil {
		t.Data = make(map[string]any)
	}
	features, ok := t.Data[DataKeyFeatures].(map[string]any)
	if !ok {
		features = make(map[string]any)
		for k, v := range t.featuresLocked() {
			features[k] = v
		}
		t.Data[DataKeyFeatures] = features
	}
	features[name] = enabled
	t.touch()
}

func (t *Tenant) decommissioningLocked() bool {
	_, ok := t.Data[DataKeyDecommissioning]
	return ok
}

func (t *Tenant) featuresLocked() map[string]bool {
	out := make(map[string]bool)
	switch features := t.Data[DataKeyFeatures].(type) {
	case map[string]any:
		for name, v := range features {
			enabled, _ := v.(bool)
			out[name] = enabled
		}
	case map[string]bool:
		maps.Copy(out, features)
	}
	return out
}

func (t *Tenant) createdEvent(now time.Time) TenantCreated {
	return TenantCreated{
		TenantID:   t.ID,
		Subdomain:  t.Domain.Subdomain(),
		Database:   t.Database.String(),
		Attempt:    t.Attempt,
		OccurredAt: now,
	}
}

func (t *Tenant) record(e Event) {
	t.events = append(t.events, e)
}

func (t *Tenant) touch() time.Time {
	now := time.Now().UTC()
	t.UpdatedAt = now
	return now
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneData(v)
	case map[string]bool:
		return maps.Clone(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
