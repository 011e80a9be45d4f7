package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Searchable record kinds. Each tenant gets one index per kind.
const (
	KindCampaigns = "campaigns"
	KindDonations = "donations"
	KindDonors    = "donors"
)

// IndexKinds lists the kinds in creation order.
var IndexKinds = []string{KindCampaigns, KindDonations, KindDonors}

var indexSettings = map[string]domain.IndexSettings{
	KindCampaigns: {
		Searchable: []string{"title", "summary", "slug"},
		Filterable: []string{"status", "category", "currency"},
		Sortable:   []string{"created_at", "goal_amount", "raised_amount"},
	},
	KindDonations: {
		Searchable: []string{"donor_name", "donor_email", "reference"},
		Filterable: []string{"status", "campaign_id", "currency", "payment_method"},
		Sortable:   []string{"created_at", "amount"},
	},
	KindDonors: {
		Searchable: []string{"name", "email"},
		Filterable: []string{"country", "status"},
		Sortable:   []string{"created_at", "total_donated", "donation_count"},
	},
}

// SettingsFor returns the static index settings of kind.
func SettingsFor(kind string) (domain.IndexSettings, bool) {
	s, ok := indexSettings[kind]
	return s, ok
}

// SearchPrefix derives the index prefix of a tenant from its subdomain, or from its id
// when it has none.
func SearchPrefix(t *domain.Tenant) string {
	if sub := t.Domain.Subdomain(); sub != "" {
		return "tenant_" + normalizeIndexPart(sub) + "_"
	}
	return "tenant_org_" + normalizeIndexPart(t.ID.String()) + "_"
}

func normalizeIndexPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.ToLower(s))
}

// ScopeOf builds the resource scope of a tenant.
func ScopeOf(t *domain.Tenant) domain.Scope {
	return domain.Scope{
		TenantID:     t.ID,
		Subdomain:    t.Domain.Subdomain(),
		Database:     t.Database,
		SearchPrefix: SearchPrefix(t),
	}
}

// IndexStats is the state of one tenant index. Error is set when the engine could not
// report on it, in which case the counters are zero.
type IndexStats struct {
	Kind      string
	Index     string
	Documents int64
	Indexing  bool
	Error     string
}

// IndexManager maintains the per-tenant search indexes.
type IndexManager struct {
	engine  domain.SearchEngine
	records domain.RecordSource
}

// NewIndexManager creates an index manager backed by engine. records feeds the initial
// import and reindexing.
func NewIndexManager(engine domain.SearchEngine, records domain.RecordSource) *IndexManager {
	return &IndexManager{engine: engine, records: records}
}

// IndexNames returns the full index names of a tenant in kind order.
func IndexNames(t *domain.Tenant) []string {
	prefix := SearchPrefix(t)
	names := make([]string, 0, len(IndexKinds))
	for _, kind := range IndexKinds {
		names = append(names, prefix+kind)
	}
	return names
}

// CreateTenantIndexes creates every index kind in the tenant scope carried by ctx and
// bulk-loads it with the tenant's existing records of that kind. It stops at the first
// failure and returns the names created before it, including an index whose import
// failed, so the caller can clean up.
func (m *IndexManager) CreateTenantIndexes(ctx context.Context, t *domain.Tenant) ([]string, error) {
	scope, err := scopeFor(ctx, t)
	if err != nil {
		return nil, err
	}

	created := make([]string, 0, len(IndexKinds))
	for _, kind := range IndexKinds {
		name := scope.SearchPrefix + kind
		if err := m.engine.CreateIndex(ctx, name, indexSettings[kind]); err != nil {
			return created, fmt.Errorf("creating index %q: %w", name, err)
		}
		created = append(created, name)

		docs, err := m.records.Records(ctx, kind)
		if err != nil {
			return created, fmt.Errorf("reading %s: %w", kind, err)
		}
		if len(docs) == 0 {
			continue
		}
		if err := m.engine.ImportDocuments(ctx, name, docs); err != nil {
			return created, fmt.Errorf("importing into %q: %w", name, err)
		}
	}
	return created, nil
}

// DeleteIndexes deletes each named index, continuing past failures.
func (m *IndexManager) DeleteIndexes(ctx context.Context, names []string) error {
	var errs []error
	for _, name := range names {
		if err := m.engine.DeleteIndex(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("deleting index %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// DeleteTenantIndexes deletes every index kind of a tenant, best-effort.
func (m *IndexManager) DeleteTenantIndexes(ctx context.Context, t *domain.Tenant) error {
	return m.DeleteIndexes(ctx, IndexNames(t))
}

// ReindexTenant re-imports every kind from the tenant database. Kinds are independent: a
// failed kind does not roll back the others. It returns the imported count per kind.
func (m *IndexManager) ReindexTenant(ctx context.Context, t *domain.Tenant) (map[string]int, error) {
	scope, err := scopeFor(ctx, t)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(IndexKinds))
	var errs []error
	for _, kind := range IndexKinds {
		docs, err := m.records.Records(ctx, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("reading %s: %w", kind, err))
			continue
		}
		name := scope.SearchPrefix + kind
		if err := m.engine.ImportDocuments(ctx, name, docs); err != nil {
			errs = append(errs, fmt.Errorf("importing into %q: %w", name, err))
			continue
		}
		counts[kind] = len(docs)
	}
	return counts, errors.Join(errs...)
}

// maxStatsQueries bounds the stats requests in flight for one tenant.
const maxStatsQueries = 4

// GetIndexStats queries every index of a tenant in parallel. A failing index yields a
// zero result annotated with the error instead of failing the whole call; only a
// cancelled ctx fails it.
func (m *IndexManager) GetIndexStats(ctx context.Context, t *domain.Tenant) ([]IndexStats, error) {
	names := IndexNames(t)
	out := make([]IndexStats, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxStatsQueries)
	for i, kind := range IndexKinds {
		g.Go(func() error {
			out[i] = IndexStats{Kind: kind, Index: names[i]}
			stats, err := m.engine.IndexStats(gctx, names[i])
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				out[i].Error = err.Error()
				return nil
			}
			out[i].Documents = stats.Documents
			out[i].Indexing = stats.Indexing
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("index stats: %w", err)
	}
	return out, nil
}

// scopeFor returns the scope in ctx after checking that it belongs to t.
func scopeFor(ctx context.Context, t *domain.Tenant) (domain.Scope, error) {
	scope, err := domain.RequireScope(ctx)
	if err != nil {
		return domain.Scope{}, err
	}
	if scope.TenantID != t.ID {
		return domain.Scope{}, fmt.Errorf("%w: scope %s, tenant %s", domain.ErrScopeMismatch, scope.TenantID, t.ID)
	}
	return scope, nil
}
