package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

var baselineCurrencies = [][3]string{
	{"EUR", "Euro", "€"},
	{"USD", "US Dollar", "$"},
	{"GBP", "Pound Sterling", "£"},
}

var baselinePaymentMethods = [][2]string{
	{"card", "Card"},
	{"sepa_debit", "SEPA Direct Debit"},
	{"bank_transfer", "Bank transfer"},
}

var baselineCategories = [][2]string{
	{"general", "General"},
	{"emergency", "Emergency relief"},
	{"education", "Education"},
	{"health", "Health"},
}

// Seeder loads the reference data every tenant database starts with.
type Seeder struct {
	cluster *Cluster
}

var _ domain.Seeder = (*Seeder)(nil)

// NewSeeder creates a seeder for the databases of cluster.
func NewSeeder(cluster *Cluster) *Seeder {
	return &Seeder{cluster: cluster}
}

// SeedBaseline inserts the baseline rows in one transaction. It only runs inside the scope
// of the tenant that owns db, and existing rows are left alone.
func (s *Seeder) SeedBaseline(ctx context.Context, db domain.TenantDatabase) error {
	scope, err := domain.RequireScope(ctx)
	if err != nil {
		return err
	}
	if scope.Database != db {
		return fmt.Errorf("seeding %s: %w", db, domain.ErrScopeMismatch)
	}

	pool, err := s.cluster.Pool(ctx, db)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, baselineBatch(scope)).Close()
	})
}

func baselineBatch(scope domain.Scope) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, c := range baselineCurrencies {
		batch.Queue(`INSERT INTO currencies (code, name, symbol) VALUES ($1, $2, $3)
			ON CONFLICT (code) DO NOTHING`, c[0], c[1], c[2])
	}
	for _, m := range baselinePaymentMethods {
		batch.Queue(`INSERT INTO payment_methods (code, label) VALUES ($1, $2)
			ON CONFLICT (code) DO NOTHING`, m[0], m[1])
	}
	for _, c := range baselineCategories {
		batch.Queue(`INSERT INTO campaign_categories (slug, name) VALUES ($1, $2)
			ON CONFLICT (slug) DO NOTHING`, c[0], c[1])
	}
	settings := map[string]string{
		"tenant_id":     scope.TenantID.String(),
		"subdomain":     scope.Subdomain,
		"search_prefix": scope.SearchPrefix,
	}
	for key, value := range settings {
		batch.Queue(`INSERT INTO tenant_settings (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	}
	return batch
}
