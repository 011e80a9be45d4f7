package app

import (
	"context"
	"net"
	"strings"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Resolution is the outcome of resolving a request host. Central requests carry no tenant.
type Resolution struct {
	Central bool
	Tenant  *domain.Tenant
	Scope   domain.Scope
}

// Resolver maps request hosts to active tenants.
type Resolver struct {
	repo       domain.TenantRepository
	baseDomain string
	central    map[string]struct{}
}

// NewResolver creates a resolver for tenants living under baseDomain. Hosts listed in
// centralDomains bypass tenancy.
func NewResolver(repo domain.TenantRepository, baseDomain string, centralDomains []string) *Resolver {
	central := make(map[string]struct{}, len(centralDomains))
	for _, h := range centralDomains {
		if h = normalizeHost(h); h != "" {
			central[h] = struct{}{}
		}
	}
	return &Resolver{
		repo:       repo,
		baseDomain: normalizeHost(baseDomain),
		central:    central,
	}
}

// Resolve looks up the tenant addressed by host. Only active tenants resolve; the others
// yield ErrTenantNotFound, *domain.TenantNotReadyError or *domain.TenantSuspendedError.
func (r *Resolver) Resolve(ctx context.Context, host string) (Resolution, error) {
	host = normalizeHost(host)
	if _, ok := r.central[host]; ok {
		return Resolution{Central: true}, nil
	}

	sub, ok := r.subdomainOf(host)
	if !ok {
		return Resolution{}, domain.ErrTenantNotFound
	}

	tenant, err := r.repo.GetBySubdomain(ctx, sub)
	if err != nil {
		return Resolution{}, err
	}

	switch status := tenant.CurrentStatus(); status {
	case domain.StatusActive:
		return Resolution{Tenant: tenant, Scope: ScopeOf(tenant)}, nil
	case domain.StatusSuspended:
		reason, _ := tenant.SuspensionReason()
		return Resolution{}, &domain.TenantSuspendedError{Subdomain: sub, Reason: reason}
	default:
		return Resolution{}, &domain.TenantNotReadyError{Subdomain: sub, Status: status}
	}
}

// Bind resolves host and returns ctx bound to the tenant scope. Central hosts get ctx back
// unchanged.
func (r *Resolver) Bind(ctx context.Context, host string) (context.Context, Resolution, error) {
	res, err := r.Resolve(ctx, host)
	if err != nil || res.Central {
		return ctx, res, err
	}
	return domain.WithScope(ctx, res.Scope), res, nil
}

// subdomainOf extracts the single label in front of the base domain.
func (r *Resolver) subdomainOf(host string) (string, bool) {
	sub, found := strings.CutSuffix(host, "."+r.baseDomain)
	if !found || sub == "" || strings.Contains(sub, ".") {
		return "", false
	}
	return sub, true
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}
