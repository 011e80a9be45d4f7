package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

const (
	// SQLSTATE duplicate_database
	codeDuplicateDatabase = "42P04"

	tenantPoolMaxConns = 4
)

// Cluster manages the tenant databases of one PostgreSQL server. It holds an admin pool on
// the maintenance database and lazily opens one small pool per tenant database.
type Cluster struct {
	admin  *pgxpool.Pool
	config *pgxpool.Config

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

var _ domain.DatabaseManager = (*Cluster)(nil)

// NewCluster connects to the maintenance database at dsn. The role needs CREATEDB.
func NewCluster(ctx context.Context, dsn string) (*Cluster, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	admin, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating admin pool: %w", err)
	}
	if err := admin.Ping(ctx); err != nil {
		admin.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Cluster{
		admin:  admin,
		config: config,
		pools:  make(map[string]*pgxpool.Pool),
	}, nil
}

// CreateDatabase creates the tenant database. The name is derived from the tenant id, so
// a database that already exists belongs to the same tenant and is reused.
func (c *Cluster) CreateDatabase(ctx context.Context, db domain.TenantDatabase) error {
	_, err := c.admin.Exec(ctx, "CREATE DATABASE "+quote(db))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeDuplicateDatabase {
		slog.InfoContext(ctx, "tenant database already exists", "database", db.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating database %s: %w", db, err)
	}
	return nil
}

// DropDatabase closes the cached pool and drops the database, terminating any remaining
// sessions. Dropping a missing database succeeds.
func (c *Cluster) DropDatabase(ctx context.Context, db domain.TenantDatabase) error {
	c.mu.Lock()
	if pool, ok := c.pools[db.String()]; ok {
		pool.Close()
		delete(c.pools, db.String())
	}
	c.mu.Unlock()

	if _, err := c.admin.Exec(ctx, "DROP DATABASE IF EXISTS "+quote(db)+" WITH (FORCE)"); err != nil {
		return fmt.Errorf("dropping database %s: %w", db, err)
	}
	return nil
}

// Pool returns the connection pool of a tenant database, opening it on first use.
func (c *Cluster) Pool(ctx context.Context, db domain.TenantDatabase) (*pgxpool.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pool, ok := c.pools[db.String()]; ok {
		return pool, nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, c.tenantConfig(db))
	if err != nil {
		return nil, fmt.Errorf("opening pool for %s: %w", db, err)
	}
	c.pools[db.String()] = pool
	return pool, nil
}

// ConnConfig returns the connection settings of a tenant database.
func (c *Cluster) ConnConfig(db domain.TenantDatabase) *pgx.ConnConfig {
	return c.tenantConfig(db).ConnConfig
}

func (c *Cluster) tenantConfig(db domain.TenantDatabase) *pgxpool.Config {
	config := c.config.Copy()
	config.ConnConfig.Database = db.String()
	config.MaxConns = tenantPoolMaxConns
	return config
}

// Close releases every pool.
func (c *Cluster) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, pool := range c.pools {
		pool.Close()
		delete(c.pools, name)
	}
	c.admin.Close()
}

// poolFor returns the pool of the database bound to ctx.
func (c *Cluster) poolFor(ctx context.Context) (*pgxpool.Pool, domain.Scope, error) {
	scope, err := domain.RequireScope(ctx)
	if err != nil {
		return nil, domain.Scope{}, err
	}
	pool, err := c.Pool(ctx, scope.Database)
	if err != nil {
		return nil, domain.Scope{}, err
	}
	return pool, scope, nil
}

func quote(db domain.TenantDatabase) string {
	return pgx.Identifier{db.String()}.Sanitize()
}
