package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// recordQueries select the searchable documents of each record kind. Document ids are
// strings and timestamps are unix seconds, as the search engine expects.
var recordQueries = map[string]string{
	"campaigns": `
		SELECT id::text AS id, title, summary, slug, status,
		       COALESCE(category, '') AS category, currency,
		       goal_amount, raised_amount,
		       EXTRACT(EPOCH FROM created_at)::bigint AS created_at
		FROM campaigns
		ORDER BY created_at`,
	"donations": `
		SELECT id::text AS id, donor_name, donor_email, reference, status,
		       campaign_id::text AS campaign_id, currency, payment_method, amount,
		       EXTRACT(EPOCH FROM created_at)::bigint AS created_at
		FROM donations
		ORDER BY created_at`,
	"donors": `
		SELECT id::text AS id, name, email, COALESCE(country, '') AS country, status,
		       total_donated, donation_count::bigint AS donation_count,
		       EXTRACT(EPOCH FROM created_at)::bigint AS created_at
		FROM donors
		ORDER BY created_at`,
}

// RecordSource reads searchable records from the database of the tenant scope in ctx.
type RecordSource struct {
	cluster *Cluster
}

var _ domain.RecordSource = (*RecordSource)(nil)

// NewRecordSource creates a record source over the databases of cluster.
func NewRecordSource(cluster *Cluster) *RecordSource {
	return &RecordSource{cluster: cluster}
}

func (s *RecordSource) Records(ctx context.Context, kind string) ([]map[string]any, error) {
	query, ok := recordQueries[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}

	pool, scope, err := s.cluster.poolFor(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %s in %s: %w", kind, scope.Database, err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("reading %s in %s: %w", kind, scope.Database, err)
	}
	return records, nil
}
