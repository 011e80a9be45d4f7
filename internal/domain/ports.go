package domain

import "context"

// TenantRepository defines the persistence contract for the central tenant registry.
type TenantRepository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id TenantID) (*Tenant, error)
	GetBySubdomain(ctx context.Context, subdomain string) (*Tenant, error)
	List(ctx context.Context, filter ListFilter) ([]*Tenant, error)
	// Update writes tenant only if the stored row still has the expected status.
	// It returns ErrStatusConflict otherwise, and ErrTenantNotFound for a missing row.
	Update(ctx context.Context, tenant *Tenant, expected Status) error
	Delete(ctx context.Context, id TenantID) error
}

// ListFilter holds optional criteria for listing tenants.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// EventPublisher defines the contract for emitting domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// TransitionValidator checks a trigger against the lifecycle without touching a tenant.
type TransitionValidator interface {
	Apply(ctx context.Context, current Status, trigger Trigger) (Status, error)
	Available(current Status) []Trigger
}

// ProvisioningScheduler queues the asynchronous provisioning workflow for a tenant.
type ProvisioningScheduler interface {
	ScheduleProvisioning(ctx context.Context, id TenantID) error
}

// DatabaseManager creates and drops physical tenant databases.
type DatabaseManager interface {
	CreateDatabase(ctx context.Context, db TenantDatabase) error
	DropDatabase(ctx context.Context, db TenantDatabase) error
}

// MigrationRunner brings a tenant database schema up to date.
type MigrationRunner interface {
	RunMigrations(ctx context.Context, db TenantDatabase) error
}

// Seeder loads baseline reference data. It runs in the tenant scope carried by ctx.
type Seeder interface {
	SeedBaseline(ctx context.Context, db TenantDatabase) error
}

// IndexSettings configures one search index.
type IndexSettings struct {
	Searchable []string
	Filterable []string
	Sortable   []string
}

// IndexStats describes the state of one search index.
type IndexStats struct {
	Documents int64
	Indexing  bool
}

// SearchEngine is the external search service. Every call can fail independently.
type SearchEngine interface {
	CreateIndex(ctx context.Context, name string, settings IndexSettings) error
	DeleteIndex(ctx context.Context, name string) error
	ImportDocuments(ctx context.Context, name string, docs []map[string]any) error
	IndexStats(ctx context.Context, name string) (IndexStats, error)
}

// RecordSource reads the searchable records of one kind from the database of the
// tenant scope carried by ctx.
type RecordSource interface {
	Records(ctx context.Context, kind string) ([]map[string]any, error)
}
