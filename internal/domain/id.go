package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// TenantID is the globally unique, immutable identifier of a tenant (UUID v4).
type TenantID uuid.UUID

// NewTenantID generates a random version 4 identifier.
func NewTenantID() (TenantID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return TenantID{}, fmt.Errorf("generating tenant id: %w", err)
	}
	return TenantID(id), nil
}

// ParseTenantID validates s as a UUID. Use it at trust boundaries (handlers, job args).
func ParseTenantID(s string) (TenantID, error) {
	if s == "" {
		return TenantID{}, &InvalidValueError{Field: "tenant id", Value: s, Reason: "cannot be empty"}
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return TenantID{}, &InvalidValueError{Field: "tenant id", Value: s, Reason: "must be a UUID"}
	}
	if id == uuid.Nil {
		return TenantID{}, &InvalidValueError{Field: "tenant id", Value: s, Reason: "cannot be the nil UUID"}
	}
	return TenantID(id), nil
}

func (id TenantID) String() string { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
