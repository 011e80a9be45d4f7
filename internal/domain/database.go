package domain

import (
	"regexp"
	"strings"
)

const maxDatabaseNameLength = 64

var databaseNamePattern = regexp.MustCompile(`^[A-Za-z_]\w*$`)

// TenantDatabase is the name of the physical database that holds one tenant's data.
type TenantDatabase struct {
	name string
}

// NewTenantDatabase validates a database name supplied directly.
func NewTenantDatabase(name string) (TenantDatabase, error) {
	switch {
	case name == "":
		return TenantDatabase{}, &InvalidValueError{Field: "database name", Value: name, Reason: "cannot be empty"}
	case len(name) > maxDatabaseNameLength:
		return TenantDatabase{}, &InvalidValueError{Field: "database name", Value: name, Reason: "must be at most 64 characters"}
	case !databaseNamePattern.MatchString(name):
		return TenantDatabase{}, &InvalidValueError{Field: "database name", Value: name, Reason: "must contain only letters, digits and underscores and not start with a digit"}
	}
	return TenantDatabase{name: name}, nil
}

// DatabaseFromTenantID derives the database name for id. Equal ids always yield equal names.
func DatabaseFromTenantID(id TenantID) TenantDatabase {
	return TenantDatabase{name: "tenant_" + strings.ReplaceAll(id.String(), "-", "_")}
}

func (d TenantDatabase) String() string { return d.name }

func (d TenantDatabase) IsZero() bool { return d.name == "" }
