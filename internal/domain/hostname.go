package domain

import (
	"regexp"
	"slices"
	"strings"
)

const (
	minSubdomainLength = 3
	maxSubdomainLength = 63
	maxHostnameLength  = 253
)

var (
	subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	hostLabelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
)

// ReservedSubdomains can never be handed out to a tenant.
var ReservedSubdomains = []string{
	"www", "admin", "api", "app", "mail", "ftp", "ssh", "test",
	"dev", "staging", "production", "demo", "portal", "secure",
}

// TenantDomain is the subdomain a tenant is served from, under a platform base domain.
type TenantDomain struct {
	subdomain  string
	baseDomain string
}

// NewTenantDomain lower-cases and validates both parts. Reserved names are accepted here;
// callers check IsReserved when creating tenants.
func NewTenantDomain(subdomain, baseDomain string) (TenantDomain, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	baseDomain = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(baseDomain), "."))

	if n := len(subdomain); n < minSubdomainLength || n > maxSubdomainLength {
		return TenantDomain{}, &InvalidValueError{Field: "subdomain", Value: subdomain, Reason: "must be between 3 and 63 characters"}
	}
	if !subdomainPattern.MatchString(subdomain) {
		return TenantDomain{}, &InvalidValueError{Field: "subdomain", Value: subdomain, Reason: "must contain only lowercase letters, digits and interior hyphens"}
	}
	if !IsValidHostname(baseDomain) {
		return TenantDomain{}, &InvalidValueError{Field: "base domain", Value: baseDomain, Reason: "must be a valid hostname"}
	}

	return TenantDomain{subdomain: subdomain, baseDomain: baseDomain}, nil
}

// IsValidHostname reports whether host is a syntactically valid DNS hostname.
func IsValidHostname(host string) bool {
	if host == "" || len(host) > maxHostnameLength {
		return false
	}
	for label := range strings.SplitSeq(host, ".") {
		if !hostLabelPattern.MatchString(label) {
			return false
		}
	}
	return true
}

func (d TenantDomain) Subdomain() string { return d.subdomain }

func (d TenantDomain) BaseDomain() string { return d.baseDomain }

// Full returns subdomain.baseDomain.
func (d TenantDomain) Full() string {
	if d.subdomain == "" {
		return ""
	}
	return d.subdomain + "." + d.baseDomain
}

func (d TenantDomain) IsReserved() bool {
	return slices.Contains(ReservedSubdomains, d.subdomain)
}

func (d TenantDomain) IsZero() bool { return d.subdomain == "" }
