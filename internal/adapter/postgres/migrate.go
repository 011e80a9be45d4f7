package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrator applies the tenant schema to tenant databases with goose.
type Migrator struct {
	cluster *Cluster
}

var _ domain.MigrationRunner = (*Migrator)(nil)

// NewMigrator creates a migrator for the databases of cluster.
func NewMigrator(cluster *Cluster) *Migrator {
	return &Migrator{cluster: cluster}
}

// RunMigrations brings the schema of db up to date. Applied versions are skipped, so the
// call is safe to repeat.
func (m *Migrator) RunMigrations(ctx context.Context, db domain.TenantDatabase) error {
	sqlDB := stdlib.OpenDB(*m.cluster.ConnConfig(db))
	defer sqlDB.Close()

	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrating %s: %w", db, err)
	}
	for _, r := range results {
		slog.DebugContext(ctx, "tenant migration applied",
			"database", db.String(),
			"version", r.Source.Version,
			"duration", r.Duration,
		)
	}
	return nil
}
